package utils

import (
	"encoding/base64"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	sdktypes "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayment(t *testing.T, from, to crypto.Account) sdktypes.Transaction {
	t.Helper()
	params := sdktypes.SuggestedParams{
		MinFee:          1000,
		FirstRoundValid: 1000,
		LastRoundValid:  2000,
		GenesisHash:     make([]byte, 32),
		GenesisID:       "test-v1.0",
	}
	tx, err := transaction.MakePaymentTxn(from.Address.String(), to.Address.String(), 5, nil, "", params)
	require.NoError(t, err)
	return tx
}

func TestDecodeTransactionBlob(t *testing.T) {
	alice, bob := crypto.GenerateAccount(), crypto.GenerateAccount()
	tx := testPayment(t, alice, bob)

	stx, signed, err := DecodeTransactionBlob(EncodeTransaction(tx))
	require.NoError(t, err)
	assert.False(t, signed)
	assert.Equal(t, alice.Address, stx.Txn.Sender)
	assert.ErrorIs(t, VerifyTransactionSignature(stx), ErrMissingSignature)

	_, blob, err := crypto.SignTransaction(alice.PrivateKey, tx)
	require.NoError(t, err)

	stx, signed, err = DecodeTransactionBlob(blob)
	require.NoError(t, err)
	assert.True(t, signed)
	assert.NoError(t, VerifyTransactionSignature(stx))

	_, _, err = DecodeTransactionBlob(nil)
	assert.Error(t, err)
	_, _, err = DecodeTransactionBlob([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestDecodeTransactionBlob_RejectsTrailingData(t *testing.T) {
	alice, bob := crypto.GenerateAccount(), crypto.GenerateAccount()
	_, first, err := crypto.SignTransaction(alice.PrivateKey, testPayment(t, alice, bob))
	require.NoError(t, err)
	_, second, err := crypto.SignTransaction(alice.PrivateKey, testPayment(t, alice, alice))
	require.NoError(t, err)

	joined := append(append([]byte{}, first...), second...)
	_, _, err = DecodeTransactionBlob(joined)
	assert.ErrorIs(t, err, ErrNonCanonical)

	_, _, _, err = DecodeBase64Transaction(base64.StdEncoding.EncodeToString(joined))
	assert.ErrorIs(t, err, ErrNonCanonical)

	unsigned := EncodeTransaction(testPayment(t, alice, bob))
	_, _, err = DecodeTransactionBlob(append(unsigned, 0xc0))
	assert.ErrorIs(t, err, ErrNonCanonical)

	_, err = DecodeUnsignedTransaction(append(unsigned, 0xc0))
	assert.ErrorIs(t, err, ErrNonCanonical)
}

func TestVerifyTransactionSignature_Tampered(t *testing.T) {
	alice, bob := crypto.GenerateAccount(), crypto.GenerateAccount()
	_, blob, err := crypto.SignTransaction(alice.PrivateKey, testPayment(t, alice, bob))
	require.NoError(t, err)

	stx, _, err := DecodeTransactionBlob(blob)
	require.NoError(t, err)
	stx.Txn.Amount = 500

	assert.Error(t, VerifyTransactionSignature(stx))
}

func TestVerifyTransactionSignature_ForeignKey(t *testing.T) {
	alice, bob, mallory := crypto.GenerateAccount(), crypto.GenerateAccount(), crypto.GenerateAccount()
	_, blob, err := crypto.SignTransaction(mallory.PrivateKey, testPayment(t, alice, bob))
	require.NoError(t, err)

	stx, _, err := DecodeTransactionBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, mallory.Address, AuthorizingAddress(stx))
}

func TestDecodeBase64Transaction(t *testing.T) {
	alice, bob := crypto.GenerateAccount(), crypto.GenerateAccount()
	blob := EncodeTransaction(testPayment(t, alice, bob))

	_, raw, signed, err := DecodeBase64Transaction(base64.StdEncoding.EncodeToString(blob))
	require.NoError(t, err)
	assert.False(t, signed)
	assert.Equal(t, blob, raw)

	_, _, _, err = DecodeBase64Transaction("%%%")
	assert.Error(t, err)
}

func TestPrivateKeyFromString(t *testing.T) {
	account := crypto.GenerateAccount()

	sk, err := PrivateKeyFromString(base64.StdEncoding.EncodeToString(account.PrivateKey))
	require.NoError(t, err)
	addr, err := AddressFromPrivateKey(sk)
	require.NoError(t, err)
	assert.Equal(t, account.Address.String(), addr)

	words, err := mnemonic.FromPrivateKey(account.PrivateKey)
	require.NoError(t, err)
	sk, err = PrivateKeyFromString(words)
	require.NoError(t, err)
	addr, err = AddressFromPrivateKey(sk)
	require.NoError(t, err)
	assert.Equal(t, account.Address.String(), addr)

	_, err = PrivateKeyFromString("")
	assert.Error(t, err)
	_, err = PrivateKeyFromString(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestValidateAlgorandAddress(t *testing.T) {
	assert.NoError(t, ValidateAlgorandAddress(crypto.GenerateAccount().Address.String()))
	assert.Error(t, ValidateAlgorandAddress(""))
	assert.Error(t, ValidateAlgorandAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"))
}
