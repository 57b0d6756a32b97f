package utils

import (
	"math/big"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
)

func validRequirements(t *testing.T) types.PaymentRequirements {
	t.Helper()
	return types.PaymentRequirements{
		Scheme:            "exact",
		Network:           types.NetworkAlgorandTestnet.String(),
		Amount:            "1000",
		Asset:             "10458941",
		PayTo:             crypto.GenerateAccount().Address.String(),
		MaxTimeoutSeconds: 60,
	}
}

func TestValidateAtomicAmount(t *testing.T) {
	v, err := ValidateAtomicAmount("1000")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), v)

	for _, bad := range []string{"", "-1", "0", "1.5", "abc", "18446744073709551616"} {
		_, err := ValidateAtomicAmount(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidateNetwork(t *testing.T) {
	assert.NoError(t, ValidateNetwork(types.NetworkAlgorandTestnet.String()))
	assert.NoError(t, ValidateNetwork("algorand:mainnet"))
	assert.Error(t, ValidateNetwork("eip155:8453"))
	assert.Error(t, ValidateNetwork("algorand:abc"))
	assert.Error(t, ValidateNetwork(""))
}

func TestValidateRequirements(t *testing.T) {
	req := validRequirements(t)
	require.NoError(t, ValidateRequirements(&req))

	bad := req
	bad.Scheme = "upto"
	assert.Error(t, ValidateRequirements(&bad))

	bad = req
	bad.PayTo = "not-an-address"
	assert.Error(t, ValidateRequirements(&bad))

	bad = req
	bad.Amount = "0"
	assert.Error(t, ValidateRequirements(&bad))

	bad = req
	bad.Asset = "usdc"
	assert.Error(t, ValidateRequirements(&bad))

	bad = req
	bad.Extra = types.ExtraData{types.ExtraFeePayer: "nope"}
	assert.Error(t, ValidateRequirements(&bad))
}

func TestValidateTransactionID(t *testing.T) {
	assert.NoError(t, ValidateTransactionID("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"))
	assert.Error(t, ValidateTransactionID(""))
	assert.Error(t, ValidateTransactionID("0xabc"))
}

func TestParseAmountWithDecimals(t *testing.T) {
	v, err := ParseAmountWithDecimals("0.001", 6)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), v)

	_, err = ParseAmountWithDecimals("0.0000001", 6)
	assert.Error(t, err)

	assert.Equal(t, "0.001", FormatAmountFromBigInt(big.NewInt(1000), 6))
}

func TestValidatorTags(t *testing.T) {
	req := validRequirements(t)
	assert.NoError(t, Validator().Struct(&req))

	req.Network = "solana:mainnet"
	assert.Error(t, Validator().Struct(&req))
}

func TestValidatePaymentPayload(t *testing.T) {
	err := ValidatePaymentPayload(&types.PaymentPayload{
		Payload: types.ExactAvmPayload{PaymentGroup: []string{}, PaymentIndex: 0},
	})
	var x402Err *types.X402Error
	require.ErrorAs(t, err, &x402Err)
	assert.Equal(t, types.ErrInvalidPayload, x402Err.Code)
}

func TestParseX402Config(t *testing.T) {
	config, err := ParseX402Config([]byte(`{
		"retryCount": 3,
		"confirmationRounds": 10,
		"logLevel": "warn",
		"clients": {"algorand:testnet": {"algodUrl": "http://localhost:4001"}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 3, config.RetryCount)
	assert.Equal(t, uint64(10), config.ConfirmationRounds)
	assert.Equal(t, "http://localhost:4001", config.Clients["algorand:testnet"].AlgodURL)

	tests := []struct {
		name string
		json string
	}{
		{"not json", `not json`},
		{"too many retries", `{"retryCount": 50}`},
		{"confirmation bound", `{"confirmationRounds": 5000}`},
		{"log level", `{"logLevel": "verbose"}`},
		{"missing algod url", `{"clients": {"algorand:testnet": {}}}`},
		{"foreign network", `{"clients": {"eip155:8453": {"algodUrl": "http://localhost:4001"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseX402Config([]byte(tt.json))
			var x402Err *types.X402Error
			require.ErrorAs(t, err, &x402Err)
			assert.Equal(t, types.ErrConfigError, x402Err.Code)
		})
	}
}
