package clients

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateTransaction is returned when the chain already knows the transaction.
	ErrDuplicateTransaction = errors.New("transaction already broadcast")
	// ErrBroadcastFailed is returned when the node rejects a transaction group.
	ErrBroadcastFailed = errors.New("broadcast failed")
	// ErrConfirmationTimeout is returned when the round bound elapses without inclusion.
	// The transaction may still confirm later.
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	// ErrTransactionRejected is returned when the pool evicts a pending transaction.
	ErrTransactionRejected = errors.New("transaction rejected by pool")
	// ErrNodeUnavailable wraps transport level failures talking to algod.
	ErrNodeUnavailable = errors.New("algod node unavailable")
)

// SimulationError carries the failure message a simulation reported for a group.
type SimulationError struct {
	Message  string
	FailedAt []uint64
}

func (e *SimulationError) Error() string {
	if len(e.FailedAt) > 0 {
		return fmt.Sprintf("simulation failed at %v: %s", e.FailedAt, e.Message)
	}
	return "simulation failed: " + e.Message
}

// Is lets a duplicate simulation failure match ErrDuplicateTransaction.
func (e *SimulationError) Is(target error) bool {
	return target == ErrDuplicateTransaction && isDuplicateMessage(e.Message)
}

var duplicateMarkers = []string{
	"already in ledger",
	"already in the ledger",
	"transaction already in pool",
	"txn already in pool",
}

// rejection markers returned by algod for groups that will never be accepted.
var rejectionMarkers = []string{
	"transactionpool.remember",
	"overspend",
	"logic eval error",
	"signature validation failed",
	"invalid signature",
	"txn dead",
	"below min",
	"asset not opted in",
	"not opted in",
	"should have been authorized",
	"fee too small",
	"http 400",
	"bad request",
}

func isDuplicateMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range duplicateMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isRejection(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classifySendError maps an algod error onto the adapter sentinels.
// The returned bool reports whether retrying could help.
func classifySendError(err error) (error, bool) {
	msg := err.Error()
	switch {
	case isDuplicateMessage(msg):
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, msg), false
	case isRejection(msg):
		return fmt.Errorf("%w: %s", ErrBroadcastFailed, msg), false
	default:
		return fmt.Errorf("%w: %s", ErrNodeUnavailable, msg), true
	}
}
