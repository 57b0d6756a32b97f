package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
)

func samplePayload() (*types.PaymentPayload, *types.PaymentRequirements) {
	req := &types.PaymentRequirements{
		Scheme:  "exact",
		Network: types.NetworkAlgorandTestnet.String(),
		Amount:  "1000",
		Asset:   "10458941",
		PayTo:   "PAYTO",
	}
	return &types.PaymentPayload{
		X402Version: 2,
		Accepted:    *req,
		Payload:     types.ExactAvmPayload{PaymentGroup: []string{"AAAA"}},
	}, req
}

func TestClient_AgainstServer(t *testing.T) {
	svc := &stubService{
		verify: &types.VerificationResult{IsValid: true, Payer: "PAYER"},
		settle: &types.SettlementResult{Success: true, Transaction: "TXID", Network: types.NetworkAlgorandTestnet.String()},
	}
	srv := httptest.NewServer(NewServer(svc).Handler())
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	payload, req := samplePayload()
	ctx := context.Background()

	supported, err := c.Supported(ctx)
	require.NoError(t, err)
	require.Len(t, supported.Kinds, 1)

	verified, err := c.Verify(ctx, payload, req)
	require.NoError(t, err)
	assert.True(t, verified.IsValid)
	assert.Equal(t, "PAYER", verified.Payer)
	assert.Equal(t, req.PayTo, svc.lastRequirements.PayTo)

	settled, err := c.Settle(ctx, payload, req)
	require.NoError(t, err)
	assert.True(t, settled.Success)
	assert.Equal(t, "TXID", settled.Transaction)
}

func TestClient_ServerErrorCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(NewServer(&stubService{err: assert.AnError}).Handler())
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(0, 0))
	payload, req := samplePayload()

	_, err := c.Verify(context.Background(), payload, req)
	require.ErrorIs(t, err, ErrFacilitator)
	assert.Contains(t, err.Error(), assert.AnError.Error())
	assert.Contains(t, err.Error(), "500")
}

func TestClient_SettleIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "upstream"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3, time.Millisecond))
	payload, req := samplePayload()

	_, err := c.Settle(context.Background(), payload, req)
	require.ErrorIs(t, err, ErrFacilitator)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_SupportedIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"warming up"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(types.SupportedResponse{
			Kinds: []types.SupportedKind{{X402Version: 2, Scheme: "exact", Network: types.NetworkAlgorandTestnet.String()}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3, time.Millisecond))
	supported, err := c.Supported(context.Background())
	require.NoError(t, err)
	assert.Len(t, supported.Kinds, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Authorization(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kinds":[]}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithAuthorization("Bearer secret")).Supported(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", got)
}

func TestClient_NilArguments(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.Verify(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrFacilitator)
}

func TestNewLocal(t *testing.T) {
	svc := &stubService{verify: &types.VerificationResult{IsValid: true}}
	local := NewLocal(svc)

	supported, err := local.Supported(context.Background())
	require.NoError(t, err)
	assert.Len(t, supported.Kinds, 1)

	payload, req := samplePayload()
	res, err := local.Verify(context.Background(), payload, req)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
}
