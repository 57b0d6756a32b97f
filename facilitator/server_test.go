package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stubService struct {
	verify    *types.VerificationResult
	settle    *types.SettlementResult
	err       error
	panics    bool
	supported *types.SupportedResponse

	lastRequirements *types.PaymentRequirements
}

func (s *stubService) Verify(_ context.Context, _ *types.PaymentPayload, req *types.PaymentRequirements) (*types.VerificationResult, error) {
	if s.panics {
		panic("boom")
	}
	s.lastRequirements = req
	return s.verify, s.err
}

func (s *stubService) Settle(_ context.Context, _ *types.PaymentPayload, req *types.PaymentRequirements) (*types.SettlementResult, error) {
	s.lastRequirements = req
	return s.settle, s.err
}

func (s *stubService) Supported() *types.SupportedResponse {
	if s.supported != nil {
		return s.supported
	}
	return &types.SupportedResponse{
		Kinds:      []types.SupportedKind{{X402Version: 2, Scheme: "exact", Network: types.NetworkAlgorandTestnet.String()}},
		Extensions: []string{},
		Signers:    map[string][]string{},
	}
}

func verifyBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(types.VerifyRequest{
		X402Version: 2,
		PaymentPayload: types.PaymentPayload{
			X402Version: 2,
			Payload:     types.ExactAvmPayload{PaymentGroup: []string{"AAAA"}},
		},
		PaymentRequirements: types.PaymentRequirements{Scheme: "exact", Amount: "1000"},
	})
	require.NoError(t, err)
	return body
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestServer_Supported(t *testing.T) {
	h := NewServer(&stubService{}).Handler()

	w := do(t, h, http.MethodGet, "/supported", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.SupportedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Kinds, 1)
	assert.Equal(t, "exact", resp.Kinds[0].Scheme)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestServer_Verify(t *testing.T) {
	svc := &stubService{verify: &types.VerificationResult{IsValid: true, Payer: "PAYER"}}
	h := NewServer(svc).Handler()

	w := do(t, h, http.MethodPost, "/verify", verifyBody(t))
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.VerificationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsValid)
	assert.Equal(t, "PAYER", resp.Payer)
	assert.Equal(t, "1000", svc.lastRequirements.Amount)
}

func TestServer_InvalidResultIsNotAnError(t *testing.T) {
	svc := &stubService{verify: types.Invalid(types.ReasonSignatureInvalid, "bad signature")}
	w := do(t, NewServer(svc).Handler(), http.MethodPost, "/verify", verifyBody(t))

	require.Equal(t, http.StatusOK, w.Code)
	var resp types.VerificationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.IsValid)
	assert.Equal(t, types.ReasonSignatureInvalid, resp.InvalidReason)
}

func TestServer_Settle(t *testing.T) {
	svc := &stubService{settle: &types.SettlementResult{Success: true, Transaction: "TXID", Network: "algorand:testnet"}}
	w := do(t, NewServer(svc).Handler(), http.MethodPost, "/settle", verifyBody(t))

	require.Equal(t, http.StatusOK, w.Code)
	var resp types.SettlementResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "TXID", resp.Transaction)
}

func TestServer_BadBody(t *testing.T) {
	h := NewServer(&stubService{}).Handler()

	for _, path := range []string{"/verify", "/settle"} {
		w := do(t, h, http.MethodPost, path, []byte("{not json"))
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, errorBody(t, w), "invalid request body", path)
	}
}

func TestServer_ServiceErrorIs500(t *testing.T) {
	h := NewServer(&stubService{err: errors.New("algod node unavailable")}).Handler()

	for _, path := range []string{"/verify", "/settle"} {
		w := do(t, h, http.MethodPost, path, verifyBody(t))
		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
		assert.Equal(t, "algod node unavailable", errorBody(t, w), path)
	}
}

func TestServer_PanicIs500(t *testing.T) {
	w := do(t, NewServer(&stubService{panics: true}).Handler(), http.MethodPost, "/verify", verifyBody(t))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", errorBody(t, w))
}

func TestServer_RequestIDIsEchoed(t *testing.T) {
	h := NewServer(&stubService{}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "x402_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	w := do(t, NewServer(&stubService{}, WithGatherer(reg)).Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "x402_test_total 1")
}
