package utils

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
)

var (
	caip2Pattern = regexp.MustCompile(`^[-a-z0-9]{3,8}:[-_a-zA-Z0-9+/=]{1,64}$`)
	txIDPattern  = regexp.MustCompile(`^[A-Z2-7]{52}$`)
)

// ValidateJSON validates that a string is valid JSON
func ValidateJSON(data string) error {
	var js json.RawMessage
	return json.Unmarshal([]byte(data), &js)
}

// ValidateAmount checks if an amount string is a valid decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// ValidateAtomicAmount checks that an amount is a positive integer that fits in a uint64.
func ValidateAtomicAmount(amount string) (uint64, error) {
	dec, err := ValidateAmount(amount)
	if err != nil {
		return 0, err
	}
	if !dec.IsInteger() {
		return 0, fmt.Errorf("atomic amount must be an integer")
	}
	if dec.IsZero() {
		return 0, fmt.Errorf("amount must be greater than zero")
	}
	if !dec.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s overflows uint64", amount)
	}
	return dec.BigInt().Uint64(), nil
}

// ValidateTransactionID validates an Algorand transaction id (base32, 52 characters).
func ValidateTransactionID(txID string) error {
	if txID == "" {
		return fmt.Errorf("transaction id cannot be empty")
	}
	if !txIDPattern.MatchString(txID) {
		return fmt.Errorf("transaction id %q is not a valid algorand txid", txID)
	}
	return nil
}

// ValidateAddressForNetwork validates a payee or payer address for the given network.
func ValidateAddressForNetwork(address string, network string) error {
	if !types.Network(network).IsAlgorand() {
		return fmt.Errorf("unsupported network for address validation: %s", network)
	}
	return ValidateAlgorandAddress(address)
}

// ValidateNetwork checks that a network is a well formed algorand CAIP-2 id.
func ValidateNetwork(network string) error {
	n := types.Network(network).Normalize()
	if !caip2Pattern.MatchString(string(n)) {
		return fmt.Errorf("invalid CAIP-2 network identifier: %s", network)
	}
	if !n.IsAlgorand() {
		return fmt.Errorf("unsupported network: %s", network)
	}
	if _, err := n.GenesisHash(); err != nil {
		return err
	}
	return nil
}

// ValidatePaymentScheme checks if a payment scheme is supported
func ValidatePaymentScheme(scheme string) error {
	if strings.EqualFold(scheme, types.SchemeExact.String()) {
		return nil
	}

	return fmt.Errorf("unsupported payment scheme: %s", scheme)
}

// ValidateRequirements runs the network aware checks on top of struct validation.
func ValidateRequirements(req *types.PaymentRequirements) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := ValidatePaymentScheme(req.Scheme); err != nil {
		return err
	}
	if err := ValidateNetwork(req.Network); err != nil {
		return err
	}
	if err := ValidateAddressForNetwork(req.PayTo, req.Network); err != nil {
		return err
	}
	if _, err := ValidateAtomicAmount(req.Amount); err != nil {
		return err
	}
	if _, err := req.AssetID(); err != nil {
		return err
	}
	if feePayer := req.FeePayer(); feePayer != "" {
		if err := ValidateAlgorandAddress(feePayer); err != nil {
			return fmt.Errorf("extra.feePayer: %w", err)
		}
	}
	return nil
}

// ParseAmountWithDecimals parses a decimal amount string and converts to big.Int with specified decimals
func ParseAmountWithDecimals(amount string, decimals int) (*big.Int, error) {
	dec, err := ValidateAmount(amount)
	if err != nil {
		return nil, err
	}

	// Multiply by 10^decimals to get the raw integer amount
	multiplier := decimal.NewFromBigInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil), 0)
	result := dec.Mul(multiplier)

	if !result.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}

	return result.BigInt(), nil
}

// FormatAmountFromBigInt formats a big.Int amount to decimal string with specified decimals
func FormatAmountFromBigInt(amount *big.Int, decimals int) string {
	dec := decimal.NewFromBigInt(amount, -int32(decimals))
	return dec.String()
}
