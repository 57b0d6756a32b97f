package x402

import (
	"context"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/A-Maugli/x402-avm-avm-exmaples/clients"
	"github.com/A-Maugli/x402-avm-avm-exmaples/internal/algodtest"
	"github.com/A-Maugli/x402-avm-avm-exmaples/metrics"
	"github.com/A-Maugli/x402-avm-avm-exmaples/schemes/exact"
	"github.com/A-Maugli/x402-avm-avm-exmaples/signer"
	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
)

type harness struct {
	x        *X402
	ledger   *algodtest.Ledger
	feePayer *signer.KeySigner
	payer    *exact.ClientScheme
	registry *prometheus.Registry
	payTo    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewPrometheusRecorder(registry)
	require.NoError(t, err)

	ledger := algodtest.New(types.NetworkAlgorandTestnet)
	feePayer := signer.GenerateKeySigner()
	payerKey := signer.GenerateKeySigner()
	ledger.Fund(feePayer.Address(), 1_000_000)
	ledger.Fund(payerKey.Address(), 1_000_000)
	ledger.FundAsset(payerKey.Address(), types.USDCTestnetAssetID, 1_000_000)

	x, err := New(&types.X402Config{ConfirmationRounds: 5}, WithFeePayer(feePayer), WithMetrics(recorder))
	require.NoError(t, err)
	algod := clients.NewAlgorandClientWithNode(types.NetworkAlgorandTestnet, ledger, clients.WithRetryCount(0))
	require.NoError(t, x.AddClient(algod))

	payer := exact.NewClientScheme(payerKey)
	payer.AddNetwork(types.NetworkAlgorandTestnet, algod)

	return &harness{
		x:        x,
		ledger:   ledger,
		feePayer: feePayer,
		payer:    payer,
		registry: registry,
		payTo:    crypto.GenerateAccount().Address.String(),
	}
}

func (h *harness) requirements(t *testing.T) *types.PaymentRequirements {
	t.Helper()
	return &types.PaymentRequirements{
		Scheme:            exact.Scheme,
		Network:           types.NetworkAlgorandTestnet.String(),
		Amount:            "1000",
		Asset:             "10458941",
		PayTo:             h.payTo,
		MaxTimeoutSeconds: 60,
		Extra:             types.ExtraData{types.ExtraFeePayer: h.x.FeePayer()},
	}
}

func (h *harness) pay(t *testing.T, req *types.PaymentRequirements) *types.PaymentPayload {
	t.Helper()
	payload, err := h.payer.CreatePaymentPayload(context.Background(), *req)
	require.NoError(t, err)
	return payload
}

func (h *harness) events(t *testing.T, event string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	require.NoError(t, err)

	var total float64
	for _, family := range families {
		if family.GetName() != "x402_events_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "type" && l.GetValue() == event {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestX402_VerifyAndSettle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.requirements(t)
	payload := h.pay(t, req)

	verified, err := h.x.Verify(ctx, payload, req)
	require.NoError(t, err)
	require.True(t, verified.IsValid, verified.InvalidMessage)

	settled, err := h.x.Settle(ctx, payload, req)
	require.NoError(t, err)
	require.True(t, settled.Success, settled.ErrorMessage)
	assert.NotEmpty(t, settled.Transaction)

	again, err := h.x.Settle(ctx, payload, req)
	require.NoError(t, err)
	assert.Equal(t, types.ReasonDuplicateSettlement, again.ErrorReason)

	assert.Equal(t, float64(1), h.events(t, metrics.EventVerifyValid))
	assert.Equal(t, float64(1), h.events(t, metrics.EventSettleSuccess))
	assert.Equal(t, float64(1), h.events(t, metrics.EventSettleFailed))
}

func TestX402_SettleTimeoutIsCounted(t *testing.T) {
	h := newHarness(t)
	h.ledger.NeverConfirm()
	req := h.requirements(t)

	res, err := h.x.Settle(context.Background(), h.pay(t, req), req)
	require.NoError(t, err)
	assert.Equal(t, types.ReasonConfirmationTimeout, res.ErrorReason)
	assert.Equal(t, float64(1), h.events(t, metrics.EventSettleTimeout))
}

func TestX402_RequestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("unknown scheme", func(t *testing.T) {
		req := h.requirements(t)
		payload := h.pay(t, req)
		req.Scheme = "upto"

		res, err := h.x.Verify(ctx, payload, req)
		require.NoError(t, err)
		assert.Equal(t, types.ReasonSchemeMismatch, res.InvalidReason)

		settled, err := h.x.Settle(ctx, payload, req)
		require.NoError(t, err)
		assert.False(t, settled.Success)
		assert.Equal(t, types.ReasonSchemeMismatch, settled.ErrorReason)
	})

	t.Run("malformed requirements", func(t *testing.T) {
		req := h.requirements(t)
		payload := h.pay(t, req)
		req.PayTo = ""

		res, err := h.x.Verify(ctx, payload, req)
		require.NoError(t, err)
		assert.Equal(t, types.ReasonMalformedRequirement, res.InvalidReason)
	})

	t.Run("malformed payload", func(t *testing.T) {
		req := h.requirements(t)
		payload := h.pay(t, req)
		payload.Payload.PaymentGroup = []string{"not base64!"}

		res, err := h.x.Verify(ctx, payload, req)
		require.NoError(t, err)
		assert.Equal(t, types.ReasonMalformedPayload, res.InvalidReason)

		settled, err := h.x.Settle(ctx, payload, req)
		require.NoError(t, err)
		assert.Equal(t, types.ReasonMalformedPayload, settled.ErrorReason)
	})

	t.Run("nil arguments", func(t *testing.T) {
		res, err := h.x.Verify(ctx, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, types.ReasonMalformedPayload, res.InvalidReason)
	})
}

func TestX402_Supported(t *testing.T) {
	h := newHarness(t)

	supported := h.x.Supported()
	require.Len(t, supported.Kinds, 1)
	kind := supported.Kinds[0]
	assert.Equal(t, exact.Scheme, kind.Scheme)
	assert.Equal(t, types.NetworkAlgorandTestnet.String(), kind.Network)
	assert.Equal(t, h.feePayer.Address(), kind.Extra.String(types.ExtraFeePayer))
	assert.Equal(t, []string{h.feePayer.Address()}, supported.Signers[kind.Network])
	assert.NotNil(t, supported.Extensions)
}

func TestX402_QuickVerify(t *testing.T) {
	h := newHarness(t)
	req := h.requirements(t)
	payload := h.pay(t, req)

	assert.True(t, h.x.QuickVerify(payload, req).IsValid)

	other := *req
	other.Network = types.NetworkAlgorandMainnet.String()
	res := h.x.QuickVerify(payload, &other)
	assert.Equal(t, types.ReasonNetworkMismatch, res.InvalidReason)

	payload.Accepted.Network = other.Network
	res = h.x.QuickVerify(payload, &other)
	assert.Equal(t, types.ReasonNetworkMismatch, res.InvalidReason)
}

func TestX402_BatchVerify(t *testing.T) {
	h := newHarness(t)
	req := h.requirements(t)
	good := h.pay(t, req)

	bad := h.pay(t, req)
	bad.Payload.PaymentIndex = 0

	results, err := h.x.BatchVerify(context.Background(), []*types.VerifyRequest{
		{PaymentPayload: *good, PaymentRequirements: *req},
		{PaymentPayload: *bad, PaymentRequirements: *req},
		nil,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].IsValid)
	assert.False(t, results[1].IsValid)
	assert.Equal(t, types.ReasonMalformedPayload, results[2].InvalidReason)

	_, err = h.x.BatchVerify(context.Background(), nil)
	assert.Error(t, err)
}

func TestX402_AddNetwork(t *testing.T) {
	x, err := New(nil)
	require.NoError(t, err)

	err = x.AddNetwork("eip155:8453", types.ClientConfig{AlgodURL: "http://localhost:4001"})
	var x402Err *types.X402Error
	require.ErrorAs(t, err, &x402Err)
	assert.Equal(t, types.ErrUnsupportedNetwork, x402Err.Code)

	err = x.AddNetwork(types.NetworkAlgorandTestnet, types.ClientConfig{AlgodURL: "not a url"})
	require.ErrorAs(t, err, &x402Err)
	assert.Equal(t, types.ErrConfigError, x402Err.Code)

	require.NoError(t, x.AddNetwork("algorand:testnet", types.ClientConfig{AlgodURL: "http://localhost:4001"}))
	assert.True(t, x.IsNetworkSupported(types.NetworkAlgorandTestnet))
	assert.False(t, x.IsNetworkSupported(types.NetworkAlgorandMainnet))
	assert.Empty(t, x.FeePayer())
}

func TestX402_AddClientRejectsForeignNetwork(t *testing.T) {
	x, err := New(nil)
	require.NoError(t, err)
	err = x.AddClient(clients.NewAlgorandClientWithNode("eip155:8453", algodtest.New(types.NetworkAlgorandTestnet)))
	assert.Error(t, err)
}

func TestNew_ValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		config types.X402Config
	}{
		{"confirmation bound", types.X402Config{ConfirmationRounds: 5000}},
		{"retry count", types.X402Config{RetryCount: 50}},
		{"log level", types.X402Config{LogLevel: "verbose"}},
		{"client without algod", types.X402Config{Clients: map[types.Network]types.ClientConfig{
			types.NetworkAlgorandTestnet: {},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := New(&tt.config)
			var x402Err *types.X402Error
			require.ErrorAs(t, err, &x402Err)
			assert.Equal(t, types.ErrConfigError, x402Err.Code)
			assert.Nil(t, x)
		})
	}

	x, err := NewWithDefaults()
	require.NoError(t, err)
	assert.NotNil(t, x)
}

func TestX402_AddConfiguredNetworks(t *testing.T) {
	x, err := New(&types.X402Config{
		RetryCount: 2,
		Clients: map[types.Network]types.ClientConfig{
			"algorand:testnet":           {AlgodURL: "http://localhost:4001"},
			types.NetworkAlgorandMainnet: {AlgodURL: "http://localhost:4002", AlgodToken: "token"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, x.AddConfiguredNetworks())

	assert.True(t, x.IsNetworkSupported(types.NetworkAlgorandTestnet))
	assert.True(t, x.IsNetworkSupported(types.NetworkAlgorandMainnet))
	assert.Len(t, x.Supported().Kinds, 2)
}

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	assert.Equal(t, Version, v["library_version"])
	assert.Equal(t, 2, v["protocol_version"])
}
