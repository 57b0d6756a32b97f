package types

import (
	"fmt"
	"strconv"
	"time"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
	X402Version2 X402Version = 2
)

// PaymentScheme represents different payment schemes
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
)

func (s PaymentScheme) String() string {
	return string(s)
}

// HTTP headers carrying base64 encoded JSON between client, resource server and facilitator.
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"
)

// ExtraData contains additional payment-specific data
type ExtraData map[string]interface{}

// String returns the string value stored under key, or "".
func (e ExtraData) String(key string) string {
	if e == nil {
		return ""
	}
	if v, ok := e[key].(string); ok {
		return v
	}
	return ""
}

// Keys used inside PaymentRequirements.Extra for the exact AVM scheme.
const (
	ExtraFeePayer = "feePayer"
	ExtraName     = "name"
	ExtraDecimals = "decimals"
)

// ResourceInfo describes the protected resource a payment is for.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequirements defines the requirements a resource server accepts for payment.
type PaymentRequirements struct {
	// Scheme of the payment protocol to use (e.g., "exact").
	Scheme string `json:"scheme" validate:"required"`

	// CAIP-2 network identifier (e.g., "algorand:SGO1GKSzyE7IEPItTxCByw9x8FmnrCDexi9/cOUJOiI=").
	Network string `json:"network" validate:"required,caip2"`

	// Amount to pay in atomic units of the asset.
	Amount string `json:"amount" validate:"required,numeric"`

	// ASA id as a decimal string. Empty or "0" means ALGO.
	Asset string `json:"asset"`

	// Address to which the payment must be sent.
	PayTo string `json:"payTo" validate:"required,algoaddr"`

	// Maximum time in seconds for the resource server to respond.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds" validate:"gte=0"`

	// Extra information about payment details specific to the scheme.
	// For the exact AVM scheme this may carry feePayer, name and decimals.
	Extra ExtraData `json:"extra,omitempty"`

	Resource    string `json:"resource,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// AssetID returns the requirement asset as an ASA id, 0 meaning ALGO.
func (pr *PaymentRequirements) AssetID() (uint64, error) {
	if pr.Asset == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(pr.Asset, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid asset id %q: %w", pr.Asset, err)
	}
	return id, nil
}

// AmountUint64 parses the atomic amount.
func (pr *PaymentRequirements) AmountUint64() (uint64, error) {
	amount, err := strconv.ParseUint(pr.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", pr.Amount, err)
	}
	return amount, nil
}

// FeePayer returns the fee payer address advertised by the facilitator, if any.
func (pr *PaymentRequirements) FeePayer() string {
	return pr.Extra.String(ExtraFeePayer)
}

func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme == "" {
		return fmt.Errorf("paymentRequirements.scheme is required")
	}

	if pr.Network == "" {
		return fmt.Errorf("paymentRequirements.network is required")
	}

	if pr.Amount == "" {
		return fmt.Errorf("paymentRequirements.amount is required")
	}

	if pr.PayTo == "" {
		return fmt.Errorf("paymentRequirements.payTo is required")
	}

	if pr.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("paymentRequirements.maxTimeoutSeconds must not be negative")
	}

	return nil
}

// AssetAmount is a price already expressed in atomic units of a specific asset.
type AssetAmount struct {
	Amount string    `json:"amount"`
	Asset  string    `json:"asset"`
	Extra  ExtraData `json:"extra,omitempty"`
}

// PaymentRequired is the body of a 402 response.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Resource    *ResourceInfo         `json:"resource,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// ExactAvmPayload is the scheme specific part of an exact payment on Algorand.
// PaymentGroup holds base64 msgpack transactions, signed or unsigned.
type ExactAvmPayload struct {
	PaymentGroup []string `json:"paymentGroup" validate:"required,min=1,max=16,dive,required,base64"`
	PaymentIndex int      `json:"paymentIndex" validate:"gte=0"`
}

// PaymentPayload is what the client sends in the PAYMENT-SIGNATURE header.
type PaymentPayload struct {
	X402Version int                 `json:"x402Version"`
	Resource    *ResourceInfo       `json:"resource,omitempty"`
	Accepted    PaymentRequirements `json:"accepted"`
	Payload     ExactAvmPayload     `json:"payload"`
}

func (p *PaymentPayload) Validate() error {
	if len(p.Payload.PaymentGroup) == 0 {
		return fmt.Errorf("payload.paymentGroup is required")
	}

	if p.Payload.PaymentIndex < 0 || p.Payload.PaymentIndex >= len(p.Payload.PaymentGroup) {
		return fmt.Errorf("payload.paymentIndex %d out of range", p.Payload.PaymentIndex)
	}

	return p.Accepted.Validate()
}

// VerifyRequest represents the payload sent to a facilitator to verify or settle a payment.
type VerifyRequest struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version,omitempty"`

	PaymentPayload PaymentPayload `json:"paymentPayload"`

	// Payment requirements being verified against.
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// Validate checks that the VerifyRequest contains all required fields.
func (v *VerifyRequest) Validate() error {
	if v.X402Version < 0 {
		return fmt.Errorf("x402Version must not be negative")
	}

	if err := v.PaymentPayload.Validate(); err != nil {
		return err
	}

	return v.PaymentRequirements.Validate()
}

// SupportedKind describes one scheme/network pair a facilitator can handle.
type SupportedKind struct {
	X402Version int       `json:"x402Version"`
	Scheme      string    `json:"scheme"`
	Network     string    `json:"network"`
	Extra       ExtraData `json:"extra,omitempty"`
}

type SupportedResponse struct {
	Kinds      []SupportedKind     `json:"kinds"`
	Extensions []string            `json:"extensions"`
	Signers    map[string][]string `json:"signers"`
}

// VerificationResult contains the result of payment verification
type VerificationResult struct {
	IsValid        bool   `json:"isValid"`
	InvalidReason  string `json:"invalidReason,omitempty"`
	InvalidMessage string `json:"invalidMessage,omitempty"`
	Payer          string `json:"payer,omitempty"`
}

// Invalid builds a negative VerificationResult.
func Invalid(reason, format string, args ...any) *VerificationResult {
	return &VerificationResult{
		IsValid:        false,
		InvalidReason:  reason,
		InvalidMessage: fmt.Sprintf(format, args...),
	}
}

// SettlementResult contains the result of payment settlement
type SettlementResult struct {
	Success        bool   `json:"success"`
	ErrorReason    string `json:"errorReason,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	Transaction    string `json:"transaction"`
	Network        string `json:"network"`
	Payer          string `json:"payer,omitempty"`
	ConfirmedRound uint64 `json:"confirmedRound,omitempty"`
}

// State returns the terminal payment state this result represents.
func (s *SettlementResult) State() PaymentState {
	switch {
	case s.Success:
		return StateSettled
	case s.ErrorReason == ReasonConfirmationTimeout:
		return StateSettlementTimeout
	default:
		return StateSettlementFailed
	}
}

// ClientConfig contains configuration for blockchain clients
type ClientConfig struct {
	Network    Network           `json:"network" validate:"omitempty,caip2"`
	AlgodURL   string            `json:"algodUrl" validate:"required,url"`
	AlgodToken string            `json:"algodToken,omitempty"`
	Timeout    time.Duration     `json:"timeout,omitempty"`
	RetryCount int               `json:"retryCount,omitempty" validate:"gte=0,lte=10"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// X402Config contains global configuration for the x402 library
type X402Config struct {
	DefaultTimeout     time.Duration            `json:"defaultTimeout,omitempty"`
	RetryCount         int                      `json:"retryCount,omitempty" validate:"gte=0,lte=10"`
	ConfirmationRounds uint64                   `json:"confirmationRounds,omitempty" validate:"lte=1000"`
	MaxFeePayerFee     uint64                   `json:"maxFeePayerFee,omitempty"`
	Clients            map[Network]ClientConfig `json:"clients,omitempty" validate:"dive"`
	LogLevel           string                   `json:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics      bool                     `json:"enableMetrics,omitempty"`
}

// Error types
type X402Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e X402Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidPayload      = "INVALID_PAYLOAD"
	ErrInvalidRequirements = "INVALID_REQUIREMENTS"
	ErrUnsupportedNetwork  = "UNSUPPORTED_NETWORK"
	ErrUnsupportedScheme   = "UNSUPPORTED_SCHEME"
	ErrVerificationFailed  = "VERIFICATION_FAILED"
	ErrSettlementFailed    = "SETTLEMENT_FAILED"
	ErrNetworkError        = "NETWORK_ERROR"
	ErrConfigError         = "CONFIG_ERROR"
)

// Reasons reported in VerificationResult.InvalidReason and SettlementResult.ErrorReason.
const (
	ReasonMalformedPayload     = "MalformedPayload"
	ReasonMalformedRequirement = "MalformedRequirement"
	ReasonSchemeMismatch       = "SchemeMismatch"
	ReasonNetworkMismatch      = "NetworkMismatch"
	ReasonContentMismatch      = "ContentMismatch"
	ReasonSignatureInvalid     = "SignatureInvalid"
	ReasonSimulationFailure    = "SimulationFailure"
	ReasonBroadcastFailure     = "BroadcastFailure"
	ReasonDuplicateSettlement  = "DuplicateSettlement"
	ReasonConfirmationTimeout  = "ConfirmationTimeout"
)
