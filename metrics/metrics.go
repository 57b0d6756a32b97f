// Package metrics records verify and settle outcomes.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event names used by the verification and settlement services.
const (
	EventVerifyValid      = "verify_valid"
	EventVerifyInvalid    = "verify_invalid"
	EventVerifyError      = "verify_error"
	EventSettleSuccess    = "settle_success"
	EventSettleFailed     = "settle_failed"
	EventSettleTimeout    = "settle_timeout"
	EventSettleError      = "settle_error"
	OperationVerify       = "verify"
	OperationSettle       = "settle"
	OperationConfirmation = "confirmation"
)
