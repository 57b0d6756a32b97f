package x402

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/A-Maugli/x402-avm-avm-exmaples/logger"
	"github.com/A-Maugli/x402-avm-avm-exmaples/metrics"
	"github.com/A-Maugli/x402-avm-avm-exmaples/signer"
)

type Option func(*X402)

func WithLogger(l logger.Logger) Option {
	return func(x *X402) {
		x.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *X402) {
		x.metrics = r
	}
}

func WithTimeout(t time.Duration) Option {
	return func(x *X402) {
		x.timeout = t
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(x *X402) {
		x.tracer = t
	}
}

// WithFeePayer lets the facilitator sponsor transaction fees with s.
// The first fee payer added is the one advertised in /supported.
func WithFeePayer(s signer.Signer) Option {
	return func(x *X402) {
		if s != nil {
			x.feePayers = append(x.feePayers, s)
		}
	}
}
