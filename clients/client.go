// Package clients holds the per-network Algorand adapters used by the facilitator
// and the payload builder.
package clients

import (
	"context"

	sdktypes "github.com/algorand/go-algorand-sdk/v2/types"

	x402types "github.com/A-Maugli/x402-avm-avm-exmaples/types"
)

// Client simulates, broadcasts and confirms transaction groups on one network.
// Implementations are shared across requests and must be safe for concurrent use.
type Client interface {
	Network() x402types.Network
	SuggestedParams(ctx context.Context) (sdktypes.SuggestedParams, error)
	SimulateTransactions(ctx context.Context, group [][]byte) error
	SendTransactions(ctx context.Context, group [][]byte) (string, error)
	WaitForConfirmation(ctx context.Context, txID string, maxRounds uint64) (*Confirmation, error)
	Close()
}

// Confirmation describes the inclusion of a transaction in a block.
type Confirmation struct {
	TxID           string
	ConfirmedRound uint64
}
