package utils

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	sdktypes "github.com/algorand/go-algorand-sdk/v2/types"
)

// txidPrefix is the domain separator Algorand prepends to a transaction before signing.
var txidPrefix = []byte("TX")

var ErrMissingSignature = errors.New("transaction is not signed")

// ErrNonCanonical is returned for a blob that does not re-encode to the same
// bytes, such as a transaction followed by trailing data.
var ErrNonCanonical = errors.New("transaction is not canonically encoded")

// DecodeTransactionBlob decodes a msgpack transaction that may or may not be signed.
// Unsigned transactions are wrapped into a SignedTxn with an empty signature.
// The blob must be exactly the canonical encoding of what it decodes to.
func DecodeTransactionBlob(blob []byte) (stx sdktypes.SignedTxn, signed bool, err error) {
	stx, _, err = decodeCanonical(blob)
	if err != nil {
		return sdktypes.SignedTxn{}, false, err
	}
	return stx, IsSigned(stx), nil
}

// DecodeBase64Transaction decodes a base64 msgpack transaction. The returned
// bytes are re-encoded from the decoded value, never the caller's input.
func DecodeBase64Transaction(encoded string) (sdktypes.SignedTxn, []byte, bool, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return sdktypes.SignedTxn{}, nil, false, fmt.Errorf("invalid base64: %w", err)
	}
	stx, canonical, err := decodeCanonical(blob)
	if err != nil {
		return sdktypes.SignedTxn{}, nil, false, err
	}
	return stx, canonical, IsSigned(stx), nil
}

func decodeCanonical(blob []byte) (sdktypes.SignedTxn, []byte, error) {
	if len(blob) == 0 {
		return sdktypes.SignedTxn{}, nil, fmt.Errorf("empty transaction blob")
	}

	var stx sdktypes.SignedTxn
	signedErr := msgpack.Decode(blob, &stx)
	if signedErr == nil && stx.Txn.Type != "" {
		canonical := msgpack.Encode(stx)
		if !bytes.Equal(canonical, blob) {
			return sdktypes.SignedTxn{}, nil, fmt.Errorf("failed to decode transaction: %w", ErrNonCanonical)
		}
		return stx, canonical, nil
	}

	var tx sdktypes.Transaction
	if err := msgpack.Decode(blob, &tx); err != nil || tx.Type == "" {
		if signedErr == nil {
			signedErr = fmt.Errorf("transaction type is empty")
		}
		return sdktypes.SignedTxn{}, nil, fmt.Errorf("failed to decode transaction: %w", signedErr)
	}
	canonical := msgpack.Encode(tx)
	if !bytes.Equal(canonical, blob) {
		return sdktypes.SignedTxn{}, nil, fmt.Errorf("failed to decode transaction: %w", ErrNonCanonical)
	}
	return sdktypes.SignedTxn{Txn: tx}, canonical, nil
}

// DecodeUnsignedTransaction decodes a msgpack transaction that must not carry a signature.
func DecodeUnsignedTransaction(blob []byte) (sdktypes.Transaction, error) {
	var tx sdktypes.Transaction
	if err := msgpack.Decode(blob, &tx); err != nil {
		return tx, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if tx.Type == "" {
		return tx, fmt.Errorf("failed to decode transaction: type is empty")
	}
	if !bytes.Equal(msgpack.Encode(tx), blob) {
		return tx, fmt.Errorf("failed to decode transaction: %w", ErrNonCanonical)
	}
	return tx, nil
}

// EncodeTransaction msgpack encodes an unsigned transaction.
func EncodeTransaction(tx sdktypes.Transaction) []byte {
	return msgpack.Encode(tx)
}

// EncodeSignedTransaction msgpack encodes a SignedTxn.
func EncodeSignedTransaction(stx sdktypes.SignedTxn) []byte {
	return msgpack.Encode(stx)
}

// IsSigned reports whether the transaction carries any kind of authorization.
func IsSigned(stx sdktypes.SignedTxn) bool {
	return stx.Sig != (sdktypes.Signature{}) || !stx.Msig.Blank() || !stx.Lsig.Blank()
}

// BytesToSign returns the exact bytes an ed25519 transaction signature covers.
func BytesToSign(tx sdktypes.Transaction) []byte {
	return append(append([]byte{}, txidPrefix...), msgpack.Encode(tx)...)
}

// AuthorizingAddress returns the account whose key must sign the transaction.
func AuthorizingAddress(stx sdktypes.SignedTxn) sdktypes.Address {
	if !stx.AuthAddr.IsZero() {
		return stx.AuthAddr
	}
	return stx.Txn.Sender
}

// VerifyTransactionSignature checks the single-key signature of a transaction
// against its authorizing address.
func VerifyTransactionSignature(stx sdktypes.SignedTxn) error {
	if stx.Sig == (sdktypes.Signature{}) {
		if !stx.Msig.Blank() || !stx.Lsig.Blank() {
			return fmt.Errorf("only single signature transactions are accepted")
		}
		return ErrMissingSignature
	}

	signer := AuthorizingAddress(stx)
	if !ed25519.Verify(ed25519.PublicKey(signer[:]), BytesToSign(stx.Txn), stx.Sig[:]) {
		return fmt.Errorf("signature does not match %s", signer.String())
	}

	return nil
}

// ValidateAlgorandAddress checks the checksum of a base32 Algorand address.
func ValidateAlgorandAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if _, err := sdktypes.DecodeAddress(address); err != nil {
		return fmt.Errorf("invalid algorand address %q: %w", address, err)
	}
	return nil
}

// PrivateKeyFromString accepts a base64 encoded 64 byte secret key or a 25 word mnemonic.
func PrivateKeyFromString(secret string) (ed25519.PrivateKey, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("secret key cannot be empty")
	}

	if strings.Count(secret, " ") >= 24 {
		sk, err := mnemonic.ToPrivateKey(secret)
		if err != nil {
			return nil, fmt.Errorf("invalid mnemonic: %w", err)
		}
		return sk, nil
	}

	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("secret key must be base64: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}

	return ed25519.PrivateKey(raw), nil
}

// AddressFromPrivateKey derives the Algorand address of an ed25519 key.
func AddressFromPrivateKey(sk ed25519.PrivateKey) (string, error) {
	pub, ok := sk.Public().(ed25519.PublicKey)
	if !ok || len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid ed25519 private key")
	}
	var addr sdktypes.Address
	copy(addr[:], pub)
	return addr.String(), nil
}
