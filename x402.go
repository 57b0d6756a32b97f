// Package x402 provides a facilitator for the x402 payment protocol on Algorand:
// it verifies exact payment groups by simulation and settles them on-chain.
package x402

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/A-Maugli/x402-avm-avm-exmaples/clients"
	"github.com/A-Maugli/x402-avm-avm-exmaples/logger"
	"github.com/A-Maugli/x402-avm-avm-exmaples/metrics"
	"github.com/A-Maugli/x402-avm-avm-exmaples/schemes/exact"
	"github.com/A-Maugli/x402-avm-avm-exmaples/settlement"
	"github.com/A-Maugli/x402-avm-avm-exmaples/signer"
	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
	"github.com/A-Maugli/x402-avm-avm-exmaples/utils"
	"github.com/A-Maugli/x402-avm-avm-exmaples/verification"
)

const defaultTimeout = 30 * time.Second

// X402 is the main struct that provides all x402 functionality
type X402 struct {
	verificationService *verification.VerificationService
	settlementService   *settlement.SettlementService
	exact               *exact.FacilitatorScheme
	config              *types.X402Config

	logger    logger.Logger
	metrics   metrics.Recorder
	tracer    trace.Tracer
	timeout   time.Duration
	feePayers []signer.Signer
}

// New creates a new X402 instance with the given configuration.
// It returns an ErrConfigError X402Error when config fails validation.
func New(config *types.X402Config, opts ...Option) (*X402, error) {
	if config == nil {
		config = &types.X402Config{}
	}
	if err := utils.ValidateX402Config(config); err != nil {
		return nil, err
	}

	x := &X402{
		config:  config,
		timeout: defaultTimeout,
	}
	if config.DefaultTimeout > 0 {
		x.timeout = config.DefaultTimeout
	}
	if config.LogLevel != "" {
		x.logger = logger.NewZapLogger(config.LogLevel)
	}

	for _, opt := range opts {
		opt(x)
	}

	x.logger = logger.OrNoop(x.logger)
	if x.metrics == nil {
		x.metrics = defaultRecorder(config.EnableMetrics)
	}

	x.exact = exact.NewFacilitatorScheme(exact.FacilitatorConfig{
		ConfirmationRounds: config.ConfirmationRounds,
		MaxFeePayerFee:     config.MaxFeePayerFee,
	}, x.logger, x.feePayers...)

	x.verificationService = verification.NewVerificationService(x.timeout,
		verification.WithLogger(x.logger),
		verification.WithMetrics(x.metrics),
		verification.WithTracer(x.tracer),
	)
	x.settlementService = settlement.NewSettlementService(x.timeout,
		settlement.WithLogger(x.logger),
		settlement.WithMetrics(x.metrics),
		settlement.WithTracer(x.tracer),
	)
	x.verificationService.AddVerifier(x.exact)
	x.settlementService.AddSettler(x.exact)

	return x, nil
}

// NewWithDefaults creates a new X402 instance with default configuration
func NewWithDefaults(opts ...Option) (*X402, error) {
	return New(&types.X402Config{
		DefaultTimeout:     defaultTimeout,
		RetryCount:         3,
		ConfirmationRounds: exact.DefaultConfirmationRounds,
		LogLevel:           "info",
	}, opts...)
}

func defaultRecorder(enabled bool) metrics.Recorder {
	if !enabled {
		return metrics.NoopRecorder{}
	}
	rec, err := metrics.NewPrometheusRecorder(nil)
	if err != nil {
		return metrics.NoopRecorder{}
	}
	return rec
}

// AddNetwork adds support for a network by creating an algod backed adapter for it
func (x *X402) AddNetwork(network types.Network, config types.ClientConfig) error {
	if err := utils.ValidateNetwork(network.String()); err != nil {
		return &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: err.Error(),
		}
	}
	if err := utils.Validator().Struct(&config); err != nil {
		return &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("invalid client config for %s: %v", network, err),
		}
	}

	opts := []clients.ClientOption{clients.WithClientLogger(x.logger)}
	if x.config.RetryCount > 0 {
		opts = append(opts, clients.WithRetryCount(x.config.RetryCount))
	}

	client, err := clients.NewAlgorandClient(network, config, opts...)
	if err != nil {
		return fmt.Errorf("failed to create algorand client for %s: %w", network, err)
	}

	return x.AddClient(client)
}

// AddConfiguredNetworks registers every network listed in X402Config.Clients.
func (x *X402) AddConfiguredNetworks() error {
	for network, cfg := range x.config.Clients {
		if err := x.AddNetwork(network, cfg); err != nil {
			return err
		}
	}
	return nil
}

// AddClient registers a ready made adapter, replacing any adapter for the same network.
func (x *X402) AddClient(client clients.Client) error {
	if !client.Network().IsAlgorand() {
		return &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", client.Network()),
		}
	}

	x.exact.AddClient(client)
	x.logger.Info("network registered", map[string]any{
		"network":  client.Network().String(),
		"feePayer": x.exact.FeePayer(),
	})
	return nil
}

// Verify verifies a payment against requirements
func (x *X402) Verify(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.VerificationResult, error) {
	return x.verificationService.Verify(ctx, payload, requirements)
}

// Settle settles a payment transaction
func (x *X402) Settle(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.SettlementResult, error) {
	return x.settlementService.Settle(ctx, payload, requirements)
}

// BatchVerify verifies multiple payments concurrently
func (x *X402) BatchVerify(
	ctx context.Context,
	requests []*types.VerifyRequest,
) ([]*types.VerificationResult, error) {
	return x.verificationService.BatchVerify(ctx, requests)
}

// BatchSettle settles multiple payments concurrently
func (x *X402) BatchSettle(
	ctx context.Context,
	requests []*types.VerifyRequest,
) ([]*types.SettlementResult, error) {
	return x.settlementService.BatchSettle(ctx, requests)
}

// Supported lists the scheme/network pairs this facilitator handles and its fee payer addresses.
func (x *X402) Supported() *types.SupportedResponse {
	kinds := x.exact.Kinds()
	signers := make(map[string][]string, len(kinds))
	for _, kind := range kinds {
		if s := x.exact.Signers(); len(s) > 0 {
			signers[kind.Network] = s
		}
	}

	return &types.SupportedResponse{
		Kinds:      kinds,
		Extensions: []string{},
		Signers:    signers,
	}
}

// IsNetworkSupported checks if a network is supported
func (x *X402) IsNetworkSupported(network types.Network) bool {
	return x.verificationService.IsNetworkSupported(network)
}

// QuickVerify performs basic validation without blockchain queries
func (x *X402) QuickVerify(
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) *types.VerificationResult {
	return x.verificationService.QuickVerify(payload, requirements)
}

// FeePayer returns the address used to sponsor fees, or "".
func (x *X402) FeePayer() string {
	return x.exact.FeePayer()
}

// Close closes all client connections
func (x *X402) Close() {
	x.settlementService.Close()
}

// Version information
const (
	Version         = "2.0.0"
	ProtocolVersion = types.X402Version2
)

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version":  Version,
		"protocol_version": int(ProtocolVersion),
		"supported_networks": []string{
			types.NetworkAlgorandMainnet.String(),
			types.NetworkAlgorandTestnet.String(),
		},
		"supported_schemes": []string{
			exact.Scheme,
		},
		"supported_assets": []string{
			"algo", "asa",
		},
	}
}
