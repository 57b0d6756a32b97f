// Package signer produces Algorand transaction signatures for a single account.
package signer

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/crypto"

	"github.com/A-Maugli/x402-avm-avm-exmaples/utils"
)

// ErrMalformedTransaction is returned when an input transaction cannot be decoded.
// It fails the whole call.
var ErrMalformedTransaction = errors.New("malformed transaction")

// SignResult is the outcome for one index of a transaction group.
// Declined is set for indices the signer was not asked to sign.
type SignResult struct {
	Signed   []byte
	Declined bool
}

// Signer signs the requested indices of a group of msgpack encoded unsigned transactions.
// Implementations must not perform network I/O.
type Signer interface {
	Address() string
	SignTransactions(unsigned [][]byte, indexesToSign []int) ([]SignResult, error)
}

// KeySigner holds one ed25519 account.
type KeySigner struct {
	account crypto.Account
}

var _ Signer = (*KeySigner)(nil)

// NewKeySigner wraps an ed25519 private key.
func NewKeySigner(sk ed25519.PrivateKey) (*KeySigner, error) {
	account, err := crypto.AccountFromPrivateKey(sk)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &KeySigner{account: account}, nil
}

// NewKeySignerFromString accepts a base64 64 byte secret key or a 25 word mnemonic.
func NewKeySignerFromString(secret string) (*KeySigner, error) {
	sk, err := utils.PrivateKeyFromString(secret)
	if err != nil {
		return nil, err
	}
	return NewKeySigner(sk)
}

// GenerateKeySigner creates a signer for a fresh random account.
func GenerateKeySigner() *KeySigner {
	return &KeySigner{account: crypto.GenerateAccount()}
}

func (s *KeySigner) Address() string {
	return s.account.Address.String()
}

// PublicKey returns the ed25519 public key of the account.
func (s *KeySigner) PublicKey() ed25519.PublicKey {
	return s.account.PublicKey
}

// SignTransactions signs every index in indexesToSign, or all of them when it is nil.
func (s *KeySigner) SignTransactions(unsigned [][]byte, indexesToSign []int) ([]SignResult, error) {
	wanted := make(map[int]bool, len(indexesToSign))
	for _, idx := range indexesToSign {
		if idx < 0 || idx >= len(unsigned) {
			return nil, fmt.Errorf("index %d out of range for group of %d", idx, len(unsigned))
		}
		wanted[idx] = true
	}

	results := make([]SignResult, len(unsigned))
	for i, blob := range unsigned {
		tx, err := utils.DecodeUnsignedTransaction(blob)
		if err != nil {
			return nil, fmt.Errorf("%w at index %d: %v", ErrMalformedTransaction, i, err)
		}

		if indexesToSign != nil && !wanted[i] {
			results[i] = SignResult{Declined: true}
			continue
		}

		_, signed, err := crypto.SignTransaction(s.account.PrivateKey, tx)
		if err != nil {
			return nil, fmt.Errorf("failed to sign transaction %d: %w", i, err)
		}
		results[i] = SignResult{Signed: signed}
	}

	return results, nil
}

// IndexesForSender returns the positions in the group whose sender is address.
func IndexesForSender(unsigned [][]byte, address string) ([]int, error) {
	var indexes []int
	for i, blob := range unsigned {
		tx, err := utils.DecodeUnsignedTransaction(blob)
		if err != nil {
			return nil, fmt.Errorf("%w at index %d: %v", ErrMalformedTransaction, i, err)
		}
		if tx.Sender.String() == address {
			indexes = append(indexes, i)
		}
	}
	return indexes, nil
}
