package types

import "fmt"

// PaymentState tracks one payment through the handshake.
type PaymentState string

const (
	StateUnpaid             PaymentState = "UNPAID"
	StateRequirementsIssued PaymentState = "REQUIREMENTS_ISSUED"
	StatePayloadBuilt       PaymentState = "PAYLOAD_BUILT"
	StateVerified           PaymentState = "VERIFIED"
	StateSettling           PaymentState = "SETTLING"
	StateSettled            PaymentState = "SETTLED"
	StateSettlementFailed   PaymentState = "SETTLEMENT_FAILED"
	StateSettlementTimeout  PaymentState = "SETTLEMENT_TIMEOUT"
)

var transitions = map[PaymentState][]PaymentState{
	StateUnpaid:             {StateRequirementsIssued},
	StateRequirementsIssued: {StatePayloadBuilt},
	StatePayloadBuilt:       {StateVerified},
	StateVerified:           {StateSettling},
	StateSettling:           {StateSettled, StateSettlementFailed, StateSettlementTimeout},
}

// CanTransition reports whether next directly follows from s.
func (s PaymentState) CanTransition(next PaymentState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition exists.
func (s PaymentState) Terminal() bool {
	return len(transitions[s]) == 0
}

// Advance returns next when the transition is legal.
func (s PaymentState) Advance(next PaymentState) (PaymentState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("illegal payment state transition %s -> %s", s, next)
	}
	return next, nil
}
