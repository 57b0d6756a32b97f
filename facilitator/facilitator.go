// Package facilitator exposes payment verification and settlement over HTTP:
// a gin server in front of an x402 facilitator and a resty client for it.
package facilitator

import (
	"context"

	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
)

// Interface is what a resource server needs from a facilitator, local or remote.
type Interface interface {
	Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerificationResult, error)
	Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettlementResult, error)
	Supported(ctx context.Context) (*types.SupportedResponse, error)
}

// Service is the in-process facilitator served by Server. *x402.X402 implements it.
type Service interface {
	Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerificationResult, error)
	Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettlementResult, error)
	Supported() *types.SupportedResponse
}

type local struct {
	Service
}

// NewLocal adapts an in-process Service to Interface.
func NewLocal(svc Service) Interface {
	return local{svc}
}

func (l local) Supported(context.Context) (*types.SupportedResponse, error) {
	return l.Service.Supported(), nil
}
