// Package paywall gates net/http handlers behind an x402 payment. Unpaid
// requests get a 402 with the route's requirements. Paid requests are verified
// by the facilitator before the handler runs and settled before its response
// is committed.
package paywall

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/A-Maugli/x402-avm-avm-exmaples/encoding"
	"github.com/A-Maugli/x402-avm-avm-exmaples/facilitator"
	"github.com/A-Maugli/x402-avm-avm-exmaples/logger"
	"github.com/A-Maugli/x402-avm-avm-exmaples/negotiation"
	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
)

const supportedTimeout = 10 * time.Second

// Config holds the configuration for the payment gate.
type Config struct {
	Facilitator facilitator.Interface
	Negotiator  *negotiation.Negotiator
	Route       negotiation.RouteConfig

	// VerifyOnly skips settlement.
	VerifyOnly bool

	Logger logger.Logger

	// OnComplete, if set, receives the payment once the request is finished.
	OnComplete func(*Payment)
}

type contextKey struct{}

// Payment is the lifecycle record of the payment attached to one request.
type Payment struct {
	State        types.PaymentState
	Payload      *types.PaymentPayload
	Requirement  *types.PaymentRequirements
	Verification *types.VerificationResult
	Settlement   *types.SettlementResult
}

func (p *Payment) advance(next types.PaymentState) error {
	state, err := p.State.Advance(next)
	if err != nil {
		return err
	}
	p.State = state
	return nil
}

// FromContext returns the verified payment of the request, or nil.
func FromContext(ctx context.Context) *Payment {
	p, _ := ctx.Value(contextKey{}).(*Payment)
	return p
}

// Middleware returns the gate for one route. Facilitator kind extras such as
// feePayer are fetched once here and merged into every requirement.
func Middleware(cfg Config) (func(http.Handler) http.Handler, error) {
	if cfg.Facilitator == nil {
		return nil, errors.New("paywall: facilitator is required")
	}
	if cfg.Negotiator == nil {
		return nil, errors.New("paywall: negotiator is required")
	}
	log := logger.OrNoop(cfg.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), supportedTimeout)
	defer cancel()
	supported, err := cfg.Facilitator.Supported(ctx)
	if err != nil {
		log.Warn("failed to fetch facilitator capabilities", map[string]any{"error": err})
	} else {
		cfg.Negotiator.SetSupported(supported)
	}

	// fail at startup rather than on the first request
	if _, err := cfg.Negotiator.Requirements(nil, cfg.Route); err != nil {
		return nil, err
	}

	g := &gate{cfg: cfg, log: log}
	return g.wrap, nil
}

type gate struct {
	cfg Config
	log logger.Logger
}

func (g *gate) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payment := &Payment{State: types.StateUnpaid}
		defer func() {
			if g.cfg.OnComplete != nil {
				g.cfg.OnComplete(payment)
			}
		}()

		resource := types.ResourceInfo{
			URL:         g.cfg.Route.Resource,
			Description: g.cfg.Route.Description,
			MimeType:    g.cfg.Route.MimeType,
		}
		if resource.URL == "" {
			resource.URL = negotiation.ResourceURL(r)
		}

		reqs, err := g.cfg.Negotiator.Requirements(r, g.cfg.Route)
		if err != nil {
			g.log.Error("failed to build payment requirements", map[string]any{"error": err})
			http.Error(w, "payment configuration error", http.StatusInternalServerError)
			return
		}

		if err := payment.advance(types.StateRequirementsIssued); err != nil {
			g.fail(w, err)
			return
		}

		header := r.Header.Get(types.HeaderPaymentSignature)
		if header == "" {
			g.log.Debug("no payment header provided", map[string]any{"path": r.URL.Path})
			g.paymentRequired(w, resource, reqs, "Payment required")
			return
		}

		payload, err := encoding.DecodePayment(header)
		if err != nil {
			g.log.Warn("invalid payment header", map[string]any{"error": err})
			http.Error(w, "invalid payment header", http.StatusBadRequest)
			return
		}
		payment.Payload = &payload
		if err := payment.advance(types.StatePayloadBuilt); err != nil {
			g.fail(w, err)
			return
		}

		requirement, err := negotiation.FindMatchingRequirement(&payload, reqs)
		if err != nil {
			g.log.Warn("no matching requirement", map[string]any{"error": err})
			g.paymentRequired(w, resource, reqs, "No matching payment requirement")
			return
		}
		payment.Requirement = requirement

		verification, err := g.cfg.Facilitator.Verify(r.Context(), &payload, requirement)
		if err != nil {
			g.log.Error("facilitator verification failed", map[string]any{"error": err})
			http.Error(w, "payment verification failed", http.StatusServiceUnavailable)
			return
		}
		payment.Verification = verification
		if !verification.IsValid {
			g.log.Info("payment rejected", map[string]any{
				"reason":  verification.InvalidReason,
				"message": verification.InvalidMessage,
			})
			g.paymentRequired(w, resource, reqs, verification.InvalidReason)
			return
		}
		if err := payment.advance(types.StateVerified); err != nil {
			g.fail(w, err)
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), contextKey{}, payment))

		interceptor := &settlementInterceptor{
			w: w,
			settleFunc: func() bool {
				if g.cfg.VerifyOnly {
					return true
				}
				return g.settle(w, r, payment, resource, reqs)
			},
			onFailure: func(status int) {
				g.log.Info("handler failed, payment not settled", map[string]any{"status": status})
			},
		}
		next.ServeHTTP(interceptor, r)
		if !interceptor.committed {
			interceptor.WriteHeader(http.StatusOK)
		}
	})
}

func (g *gate) settle(w http.ResponseWriter, r *http.Request, payment *Payment, resource types.ResourceInfo, reqs []types.PaymentRequirements) bool {
	if err := payment.advance(types.StateSettling); err != nil {
		g.fail(w, err)
		return false
	}

	settlement, err := g.cfg.Facilitator.Settle(r.Context(), payment.Payload, payment.Requirement)
	if err != nil {
		_ = payment.advance(types.StateSettlementFailed)
		g.log.Error("facilitator settlement failed", map[string]any{"error": err})
		http.Error(w, "payment settlement failed", http.StatusServiceUnavailable)
		return false
	}
	payment.Settlement = settlement
	_ = payment.advance(settlement.State())

	if encoded, err := encoding.EncodeSettlement(*settlement); err == nil {
		w.Header().Set(types.HeaderPaymentResponse, encoded)
	}

	switch settlement.State() {
	case types.StateSettlementTimeout:
		// the transaction may still confirm; no new requirements
		g.log.Warn("settlement status unknown", map[string]any{
			"message":     settlement.ErrorMessage,
			"transaction": settlement.Transaction,
		})
		g.settlementPending(w, settlement)
		return false
	case types.StateSettlementFailed:
		g.log.Warn("settlement unsuccessful", map[string]any{
			"reason":      settlement.ErrorReason,
			"message":     settlement.ErrorMessage,
			"transaction": settlement.Transaction,
		})
		g.paymentRequired(w, resource, reqs, settlement.ErrorReason)
		return false
	}

	g.log.Info("payment settled", map[string]any{
		"transaction": settlement.Transaction,
		"payer":       settlement.Payer,
	})
	return true
}

func (g *gate) paymentRequired(w http.ResponseWriter, resource types.ResourceInfo, reqs []types.PaymentRequirements, msg string) {
	if err := negotiation.WritePaymentRequired(w, resource, reqs, msg); err != nil {
		g.log.Error("failed to send payment required response", map[string]any{"error": err})
	}
}

// pendingResponse is the body sent when settlement outlived the confirmation bound.
type pendingResponse struct {
	Error       string `json:"error"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
}

func (g *gate) settlementPending(w http.ResponseWriter, settlement *types.SettlementResult) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Expose-Headers", types.HeaderPaymentResponse)
	w.WriteHeader(http.StatusGatewayTimeout)
	if err := json.NewEncoder(w).Encode(pendingResponse{
		Error:       settlement.ErrorReason,
		Transaction: settlement.Transaction,
		Network:     settlement.Network,
	}); err != nil {
		g.log.Error("failed to send settlement pending response", map[string]any{"error": err})
	}
}

func (g *gate) fail(w http.ResponseWriter, err error) {
	g.log.Error("payment state error", map[string]any{"error": err})
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// settlementInterceptor settles the payment when the handler commits a
// successful status, before any byte of the body is written.
type settlementInterceptor struct {
	w          http.ResponseWriter
	settleFunc func() bool
	onFailure  func(status int)
	committed  bool
	hijacked   bool
}

func (i *settlementInterceptor) Header() http.Header {
	return i.w.Header()
}

func (i *settlementInterceptor) Write(b []byte) (int, error) {
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}
	// settlement failed and the error response is already written
	if i.hijacked {
		return len(b), nil
	}
	return i.w.Write(b)
}

func (i *settlementInterceptor) WriteHeader(status int) {
	if i.committed {
		return
	}
	i.committed = true

	if status >= http.StatusBadRequest {
		if i.onFailure != nil {
			i.onFailure(status)
		}
		i.w.WriteHeader(status)
		return
	}

	if !i.settleFunc() {
		i.hijacked = true
		return
	}
	i.w.WriteHeader(status)
}

func (i *settlementInterceptor) Flush() {
	if f, ok := i.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (i *settlementInterceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := i.w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	if !i.committed {
		i.committed = true
		if !i.settleFunc() {
			i.hijacked = true
			return nil, nil, errors.New("payment settlement failed")
		}
	}
	return h.Hijack()
}
