package clients

import (
	"bytes"
	"context"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	sdktypes "github.com/algorand/go-algorand-sdk/v2/types"
)

// Node is the subset of the algod REST API the adapter needs.
type Node interface {
	SuggestedParams(ctx context.Context) (sdktypes.SuggestedParams, error)
	Simulate(ctx context.Context, request models.SimulateRequest) (models.SimulateResponse, error)
	SendRawGroup(ctx context.Context, group [][]byte) (string, error)
	PendingTransactionInformation(ctx context.Context, txID string) (models.PendingTransactionInfoResponse, error)
	Status(ctx context.Context) (models.NodeStatus, error)
	StatusAfterBlock(ctx context.Context, round uint64) (models.NodeStatus, error)
}

// AlgodNode adapts the go-algorand-sdk algod client to Node.
type AlgodNode struct {
	client *algod.Client
}

var _ Node = (*AlgodNode)(nil)

// NewAlgodNode creates an algod REST client. headers are sent with every request.
func NewAlgodNode(address, token string, headers map[string]string) (*AlgodNode, error) {
	var (
		client *algod.Client
		err    error
	)

	if len(headers) > 0 {
		list := make([]*common.Header, 0, len(headers))
		for k, v := range headers {
			list = append(list, &common.Header{Key: k, Value: v})
		}
		client, err = algod.MakeClientWithHeaders(address, token, list)
	} else {
		client, err = algod.MakeClient(address, token)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create algod client for %s: %w", address, err)
	}

	return &AlgodNode{client: client}, nil
}

func (n *AlgodNode) SuggestedParams(ctx context.Context) (sdktypes.SuggestedParams, error) {
	return n.client.SuggestedParams().Do(ctx)
}

func (n *AlgodNode) Simulate(ctx context.Context, request models.SimulateRequest) (models.SimulateResponse, error) {
	return n.client.SimulateTransaction(request).Do(ctx)
}

// SendRawGroup concatenates the signed transactions and submits them as one group.
func (n *AlgodNode) SendRawGroup(ctx context.Context, group [][]byte) (string, error) {
	return n.client.SendRawTransaction(bytes.Join(group, nil)).Do(ctx)
}

func (n *AlgodNode) PendingTransactionInformation(ctx context.Context, txID string) (models.PendingTransactionInfoResponse, error) {
	info, _, err := n.client.PendingTransactionInformation(txID).Do(ctx)
	return info, err
}

func (n *AlgodNode) Status(ctx context.Context) (models.NodeStatus, error) {
	return n.client.Status().Do(ctx)
}

func (n *AlgodNode) StatusAfterBlock(ctx context.Context, round uint64) (models.NodeStatus, error) {
	return n.client.StatusAfterBlock(round).Do(ctx)
}
