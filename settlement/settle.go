package settlement

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/A-Maugli/x402-avm-avm-exmaples/logger"
	"github.com/A-Maugli/x402-avm-avm-exmaples/metrics"
	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
	"github.com/A-Maugli/x402-avm-avm-exmaples/utils"
)

// Settler interface defines the contract for payment settlement of one scheme
type Settler interface {
	Scheme() string
	Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettlementResult, error)
	Close()
}

// SettlementService routes settlement requests to the handler registered for their scheme
type SettlementService struct {
	mu       sync.RWMutex
	settlers map[string]Settler

	timeout time.Duration
	log     logger.Logger
	metrics metrics.Recorder
	tracer  trace.Tracer
}

// Option customizes a SettlementService.
type Option func(*SettlementService)

func WithLogger(l logger.Logger) Option {
	return func(s *SettlementService) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *SettlementService) {
		if r != nil {
			s.metrics = r
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *SettlementService) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewSettlementService creates a new settlement service
func NewSettlementService(timeout time.Duration, opts ...Option) *SettlementService {
	s := &SettlementService{
		settlers: make(map[string]Settler),
		timeout:  timeout,
		log:      logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
		tracer:   otel.Tracer("x402/settlement"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddSettler registers the handler for its scheme, replacing any previous one.
func (s *SettlementService) AddSettler(settler Settler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settlers[settler.Scheme()] = settler
}

func (s *SettlementService) settler(scheme string) (Settler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settler, ok := s.settlers[scheme]
	return settler, ok
}

// Settle settles a payment transaction. A verified payload is re-verified by the
// scheme handler before anything is broadcast.
func (s *SettlementService) Settle(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.SettlementResult, error) {
	if payload == nil || requirements == nil {
		return failed(types.ReasonMalformedPayload, "payload and requirements are required", ""), nil
	}

	ctx, span := s.tracer.Start(ctx, "x402.settle", trace.WithAttributes(
		attribute.String("x402.scheme", requirements.Scheme),
		attribute.String("x402.network", requirements.Network),
	))
	defer span.End()

	// Create timeout context
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	labels := map[string]string{"network": requirements.Network}

	result, err := s.settle(ctx, payload, requirements)
	s.metrics.ObserveLatency(metrics.OperationSettle, time.Since(start), labels)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncCounter(metrics.EventSettleError, labels)
		s.log.Error("settlement error", map[string]any{
			"network": requirements.Network,
			"error":   err,
		})
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("x402.success", result.Success),
		attribute.String("x402.transaction", result.Transaction),
	)

	switch result.State() {
	case types.StateSettled:
		s.metrics.IncCounter(metrics.EventSettleSuccess, labels)
		s.log.Info("payment settled", map[string]any{
			"network":        requirements.Network,
			"transaction":    result.Transaction,
			"payer":          result.Payer,
			"confirmedRound": result.ConfirmedRound,
		})
	case types.StateSettlementTimeout:
		s.metrics.IncCounter(metrics.EventSettleTimeout, labels)
		s.log.Warn("settlement status unknown", map[string]any{
			"network":     requirements.Network,
			"transaction": result.Transaction,
			"message":     result.ErrorMessage,
		})
	default:
		span.SetAttributes(attribute.String("x402.error_reason", result.ErrorReason))
		s.metrics.IncCounter(metrics.EventSettleFailed, labels)
		s.log.Warn("settlement failed", map[string]any{
			"network": requirements.Network,
			"reason":  result.ErrorReason,
			"message": result.ErrorMessage,
			"payer":   result.Payer,
		})
	}

	return result, nil
}

func (s *SettlementService) settle(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.SettlementResult, error) {
	if err := utils.Validator().Struct(requirements); err != nil {
		return failed(types.ReasonMalformedRequirement, "invalid requirements: "+err.Error(), requirements.Network), nil
	}
	if err := utils.ValidatePaymentPayload(payload); err != nil {
		return failed(types.ReasonMalformedPayload, "invalid payload: "+err.Error(), requirements.Network), nil
	}

	settler, ok := s.settler(requirements.Scheme)
	if !ok {
		return failed(types.ReasonSchemeMismatch, "unsupported scheme: "+requirements.Scheme, requirements.Network), nil
	}

	return settler.Settle(ctx, payload, requirements)
}

func failed(reason, message, network string) *types.SettlementResult {
	return &types.SettlementResult{
		Success:      false,
		ErrorReason:  reason,
		ErrorMessage: message,
		Network:      network,
	}
}

// BatchSettle settles multiple payments concurrently
func (s *SettlementService) BatchSettle(
	ctx context.Context,
	requests []*types.VerifyRequest,
) ([]*types.SettlementResult, error) {
	if len(requests) == 0 {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: "at least one settle request is required",
		}
	}

	results := make([]*types.SettlementResult, len(requests))
	errs := make([]error, len(requests))

	type settlementResult struct {
		index  int
		result *types.SettlementResult
		err    error
	}

	resultChan := make(chan settlementResult, len(requests))

	for i, req := range requests {
		go func(index int, r *types.VerifyRequest) {
			if r == nil {
				resultChan <- settlementResult{index: index, result: failed(types.ReasonMalformedPayload, "request is empty", "")}
				return
			}
			result, err := s.Settle(ctx, &r.PaymentPayload, &r.PaymentRequirements)
			resultChan <- settlementResult{
				index:  index,
				result: result,
				err:    err,
			}
		}(i, req)
	}

	for i := 0; i < len(requests); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-resultChan:
			results[res.index] = res.result
			errs[res.index] = res.err
		}
	}

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}

	return results, nil
}

// Close closes all handler connections
func (s *SettlementService) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, settler := range s.settlers {
		settler.Close()
	}
}
