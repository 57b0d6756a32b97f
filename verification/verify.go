package verification

import (
	"context"
	"sort"
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

// Verifier interface defines the contract for payment verification of one scheme
type Verifier interface {
	Scheme() string
	Networks() []types.Network
	Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerificationResult, error)
}

// VerificationService routes verification requests to the handler registered for their scheme
type VerificationService struct {
	mu        sync.RWMutex
	verifiers map[string]Verifier

	timeout time.Duration
	log     logger.Logger
	metrics metrics.Recorder
	tracer  trace.Tracer
}

// Option customizes a VerificationService.
type Option func(*VerificationService)

func WithLogger(l logger.Logger) Option {
	return func(s *VerificationService) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *VerificationService) {
		if r != nil {
			s.metrics = r
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *VerificationService) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewVerificationService creates a new verification service
func NewVerificationService(timeout time.Duration, opts ...Option) *VerificationService {
	s := &VerificationService{
		verifiers: make(map[string]Verifier),
		timeout:   timeout,
		log:       logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
		tracer:    otel.Tracer("x402/verification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddVerifier registers the handler for its scheme, replacing any previous one.
func (s *VerificationService) AddVerifier(v Verifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifiers[v.Scheme()] = v
}

func (s *VerificationService) verifier(scheme string) (Verifier, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verifiers[scheme]
	return v, ok
}

// Verify verifies a payment against requirements
func (s *VerificationService) Verify(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.VerificationResult, error) {
	if payload == nil || requirements == nil {
		return types.Invalid(types.ReasonMalformedPayload, "payload and requirements are required"), nil
	}

	ctx, span := s.tracer.Start(ctx, "x402.verify", trace.WithAttributes(
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

	result, err := s.verify(ctx, payload, requirements)
	s.metrics.ObserveLatency(metrics.OperationVerify, time.Since(start), labels)

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncCounter(metrics.EventVerifyError, labels)
		s.log.Error("verification error", map[string]any{
			"network": requirements.Network,
			"error":   err,
		})
		return nil, err
	case !result.IsValid:
		span.SetAttributes(attribute.String("x402.invalid_reason", result.InvalidReason))
		s.metrics.IncCounter(metrics.EventVerifyInvalid, labels)
		s.log.Info("payment rejected", map[string]any{
			"network": requirements.Network,
			"reason":  result.InvalidReason,
			"message": result.InvalidMessage,
			"payer":   result.Payer,
		})
	default:
		span.SetAttributes(attribute.String("x402.payer", result.Payer))
		s.metrics.IncCounter(metrics.EventVerifyValid, labels)
		s.log.Debug("payment verified", map[string]any{
			"network": requirements.Network,
			"payer":   result.Payer,
		})
	}

	return result, nil
}

func (s *VerificationService) verify(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.VerificationResult, error) {
	if res := validateRequest(payload, requirements); res != nil {
		return res, nil
	}

	v, ok := s.verifier(requirements.Scheme)
	if !ok {
		return types.Invalid(types.ReasonSchemeMismatch, "unsupported scheme: %s", requirements.Scheme), nil
	}

	return v.Verify(ctx, payload, requirements)
}

// validateRequest runs struct validation and maps failures onto the reason taxonomy.
func validateRequest(payload *types.PaymentPayload, requirements *types.PaymentRequirements) *types.VerificationResult {
	if err := utils.Validator().Struct(requirements); err != nil {
		return types.Invalid(types.ReasonMalformedRequirement, "invalid requirements: %v", err)
	}
	if err := utils.ValidatePaymentPayload(payload); err != nil {
		return types.Invalid(types.ReasonMalformedPayload, "invalid payload: %v", err)
	}
	return nil
}

// BatchVerify verifies multiple payments concurrently
func (s *VerificationService) BatchVerify(
	ctx context.Context,
	requests []*types.VerifyRequest,
) ([]*types.VerificationResult, error) {
	if len(requests) == 0 {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: "at least one verify request is required",
		}
	}

	results := make([]*types.VerificationResult, len(requests))
	errs := make([]error, len(requests))

	type verificationResult struct {
		index  int
		result *types.VerificationResult
		err    error
	}

	resultChan := make(chan verificationResult, len(requests))

	for i, req := range requests {
		go func(index int, r *types.VerifyRequest) {
			if r == nil {
				resultChan <- verificationResult{index: index, result: types.Invalid(types.ReasonMalformedPayload, "request is empty")}
				return
			}
			result, err := s.Verify(ctx, &r.PaymentPayload, &r.PaymentRequirements)
			resultChan <- verificationResult{
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

// QuickVerify performs the structural checks only, without touching the chain.
func (s *VerificationService) QuickVerify(
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) *types.VerificationResult {
	if payload == nil || requirements == nil {
		return types.Invalid(types.ReasonMalformedPayload, "payload and requirements are required")
	}
	if res := validateRequest(payload, requirements); res != nil {
		return res
	}

	if payload.Accepted.Scheme != requirements.Scheme {
		return types.Invalid(types.ReasonSchemeMismatch, "payload scheme %q does not match %q", payload.Accepted.Scheme, requirements.Scheme)
	}
	if _, ok := s.verifier(requirements.Scheme); !ok {
		return types.Invalid(types.ReasonSchemeMismatch, "unsupported scheme: %s", requirements.Scheme)
	}
	if !types.SameNetwork(payload.Accepted.Network, requirements.Network) {
		return types.Invalid(types.ReasonNetworkMismatch, "payload network does not match requirements network")
	}
	if !s.IsNetworkSupported(types.Network(requirements.Network)) {
		return types.Invalid(types.ReasonNetworkMismatch, "network %s is not supported", requirements.Network)
	}

	return &types.VerificationResult{IsValid: true}
}

// GetSupportedNetworks returns all networks that have a configured handler
func (s *VerificationService) GetSupportedNetworks() []types.Network {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[types.Network]bool)
	var networks []types.Network
	for _, v := range s.verifiers {
		for _, n := range v.Networks() {
			if !seen[n] {
				seen[n] = true
				networks = append(networks, n)
			}
		}
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

// IsNetworkSupported checks if a network is supported
func (s *VerificationService) IsNetworkSupported(network types.Network) bool {
	network = network.Normalize()
	for _, n := range s.GetSupportedNetworks() {
		if n == network {
			return true
		}
	}
	return false
}

// Schemes lists the registered schemes.
func (s *VerificationService) Schemes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schemes := make([]string, 0, len(s.verifiers))
	for scheme := range s.verifiers {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}
