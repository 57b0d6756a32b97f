// Package encoding converts x402 messages to and from the base64 JSON form
// carried by the PAYMENT-REQUIRED, PAYMENT-SIGNATURE and PAYMENT-RESPONSE headers.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
)

func encode(kind string, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decode(kind, encoded string, v any) error {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return fmt.Errorf("failed to decode base64: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", kind, err)
	}
	return nil
}

// EncodePayment converts a PaymentPayload to the PAYMENT-SIGNATURE header value.
func EncodePayment(payment types.PaymentPayload) (string, error) {
	return encode("payment", payment)
}

func DecodePayment(encoded string) (types.PaymentPayload, error) {
	var payment types.PaymentPayload
	err := decode("payment", encoded, &payment)
	return payment, err
}

// EncodeSettlement converts a SettlementResult to the PAYMENT-RESPONSE header value.
func EncodeSettlement(settlement types.SettlementResult) (string, error) {
	return encode("settlement", settlement)
}

func DecodeSettlement(encoded string) (types.SettlementResult, error) {
	var settlement types.SettlementResult
	err := decode("settlement", encoded, &settlement)
	return settlement, err
}

// EncodeRequirements converts a 402 body to the PAYMENT-REQUIRED header value.
func EncodeRequirements(requirements types.PaymentRequired) (string, error) {
	return encode("requirements", requirements)
}

func DecodeRequirements(encoded string) (types.PaymentRequired, error) {
	var requirements types.PaymentRequired
	err := decode("requirements", encoded, &requirements)
	return requirements, err
}

func EncodeVerifyResponse(response types.VerificationResult) (string, error) {
	return encode("verify response", response)
}

func DecodeVerifyResponse(encoded string) (types.VerificationResult, error) {
	var response types.VerificationResult
	err := decode("verify response", encoded, &response)
	return response, err
}
