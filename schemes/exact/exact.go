// Package exact implements the "exact" x402 scheme on Algorand: the client pays
// a fixed amount of ALGO or of an ASA to payTo, optionally inside a group whose
// fees are covered by a facilitator-controlled fee payer.
package exact

import (
	"errors"

	sdktypes "github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
)

const (
	// Scheme is the wire name of this scheme.
	Scheme = string(types.SchemeExact)

	// MaxGroupSize is the Algorand limit on transactions per atomic group.
	MaxGroupSize = 16

	// DefaultConfirmationRounds bounds how long settle waits for inclusion.
	DefaultConfirmationRounds uint64 = 10

	// DefaultMaxFeePayerFee caps the fee a client may make the fee payer cover.
	DefaultMaxFeePayerFee uint64 = 10_000

	minTxnFee uint64 = 1000
)

// ErrMalformedRequirement is returned by the payload builder when a requirement cannot be honored.
var ErrMalformedRequirement = errors.New("malformed payment requirement")

func minFee(params sdktypes.SuggestedParams) uint64 {
	if params.MinFee > 0 {
		return params.MinFee
	}
	return minTxnFee
}

// sameAsset compares asset ids written as "", "0" or a decimal id.
func sameAsset(a, b string) bool {
	norm := func(s string) string {
		if s == "" {
			return "0"
		}
		return s
	}
	return norm(a) == norm(b)
}
