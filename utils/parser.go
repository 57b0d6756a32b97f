package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	validate.RegisterValidation("caip2", validateNetworkTag)
	validate.RegisterValidation("algoaddr", validateAddressTag)
}

// Validator exposes the shared validator so callers validate with the same custom tags.
func Validator() *validator.Validate {
	return validate
}

func validateNetworkTag(fl validator.FieldLevel) bool {
	return ValidateNetwork(fl.Field().String()) == nil
}

func validateAddressTag(fl validator.FieldLevel) bool {
	return ValidateAlgorandAddress(fl.Field().String()) == nil
}

// ValidatePaymentPayload validates struct tags and index bounds of a payload.
func ValidatePaymentPayload(payload *types.PaymentPayload) error {
	if err := validate.Struct(&payload.Payload); err != nil {
		return &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	if err := payload.Validate(); err != nil {
		return &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: err.Error(),
		}
	}

	return nil
}

// ParseX402Config parses X402Config from JSON
func ParseX402Config(data []byte) (*types.X402Config, error) {
	var config types.X402Config

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("failed to parse x402 config: %v", err),
		}
	}

	if err := ValidateX402Config(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ValidateX402Config checks struct tags and that every configured network is an Algorand network.
func ValidateX402Config(config *types.X402Config) error {
	if err := validate.Struct(config); err != nil {
		return &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	for network := range config.Clients {
		if err := ValidateNetwork(string(network)); err != nil {
			return &types.X402Error{
				Code:    types.ErrConfigError,
				Message: err.Error(),
			}
		}
	}

	return nil
}
