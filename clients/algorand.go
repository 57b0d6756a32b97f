package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	sdktypes "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/A-Maugli/x402-avm-avm-exmaples/logger"
	x402types "github.com/A-Maugli/x402-avm-avm-exmaples/types"
	"github.com/A-Maugli/x402-avm-avm-exmaples/utils"
)

const (
	defaultRetryCount      = 3
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
)

// AlgorandClient is the adapter for one Algorand network.
type AlgorandClient struct {
	network    x402types.Network
	node       Node
	retryCount int
	interval   time.Duration
	log        logger.Logger
}

var _ Client = (*AlgorandClient)(nil)

// ClientOption customizes an AlgorandClient.
type ClientOption func(*AlgorandClient)

// WithRetryCount bounds the retries of transient broadcast failures.
func WithRetryCount(n int) ClientOption {
	return func(c *AlgorandClient) {
		if n >= 0 {
			c.retryCount = n
		}
	}
}

// WithRetryInterval sets the initial backoff interval between broadcast retries.
func WithRetryInterval(d time.Duration) ClientOption {
	return func(c *AlgorandClient) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithClientLogger(l logger.Logger) ClientOption {
	return func(c *AlgorandClient) {
		if l != nil {
			c.log = l
		}
	}
}

// NewAlgorandClient builds an adapter around an algod REST endpoint.
func NewAlgorandClient(network x402types.Network, config x402types.ClientConfig, opts ...ClientOption) (*AlgorandClient, error) {
	node, err := NewAlgodNode(config.AlgodURL, config.AlgodToken, config.Headers)
	if err != nil {
		return nil, err
	}
	if config.RetryCount > 0 {
		opts = append([]ClientOption{WithRetryCount(config.RetryCount)}, opts...)
	}
	return NewAlgorandClientWithNode(network, node, opts...), nil
}

// NewAlgorandClientWithNode builds an adapter around any Node implementation.
func NewAlgorandClientWithNode(network x402types.Network, node Node, opts ...ClientOption) *AlgorandClient {
	c := &AlgorandClient{
		network:    network.Normalize(),
		node:       node,
		retryCount: defaultRetryCount,
		interval:   defaultInitialInterval,
		log:        logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *AlgorandClient) Network() x402types.Network { return c.network }

func (c *AlgorandClient) SuggestedParams(ctx context.Context) (sdktypes.SuggestedParams, error) {
	params, err := c.node.SuggestedParams(ctx)
	if err != nil {
		return params, fmt.Errorf("%w: suggested params: %v", ErrNodeUnavailable, err)
	}
	return params, nil
}

// SimulateTransactions dry-runs a group with empty signatures allowed so that
// fee payer slots may still be unsigned. A rejected group yields *SimulationError.
func (c *AlgorandClient) SimulateTransactions(ctx context.Context, group [][]byte) error {
	txns := make([]sdktypes.SignedTxn, len(group))
	for i, blob := range group {
		stx, _, err := utils.DecodeTransactionBlob(blob)
		if err != nil {
			return &SimulationError{Message: fmt.Sprintf("transaction %d: %v", i, err), FailedAt: []uint64{uint64(i)}}
		}
		txns[i] = stx
	}

	resp, err := c.node.Simulate(ctx, models.SimulateRequest{
		TxnGroups:            []models.SimulateRequestTransactionGroup{{Txns: txns}},
		AllowEmptySignatures: true,
	})
	if err != nil {
		if isDuplicateMessage(err.Error()) || isRejection(err.Error()) {
			return &SimulationError{Message: err.Error()}
		}
		return fmt.Errorf("%w: simulate: %v", ErrNodeUnavailable, err)
	}

	for _, result := range resp.TxnGroups {
		if result.FailureMessage != "" {
			return &SimulationError{Message: result.FailureMessage, FailedAt: result.FailedAt}
		}
	}

	return nil
}

// SendTransactions broadcasts a signed group and returns the id algod reports.
// Transient transport errors are retried with exponential backoff up to the
// configured count. Duplicates and rejections are returned immediately.
func (c *AlgorandClient) SendTransactions(ctx context.Context, group [][]byte) (string, error) {
	if len(group) == 0 {
		return "", fmt.Errorf("%w: empty transaction group", ErrBroadcastFailed)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.interval
	policy.MaxInterval = defaultMaxInterval
	policy.MaxElapsedTime = 0

	var (
		txID    string
		attempt int
	)
	operation := func() error {
		attempt++
		id, err := c.node.SendRawGroup(ctx, group)
		if err == nil {
			txID = id
			return nil
		}

		classified, retryable := classifySendError(err)
		if !retryable {
			return backoff.Permanent(classified)
		}
		c.log.Warn("transient broadcast failure", map[string]any{
			"network": c.network.String(),
			"attempt": attempt,
			"error":   err.Error(),
		})
		return classified
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.retryCount)), ctx))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		if errors.Is(err, ErrNodeUnavailable) {
			return "", fmt.Errorf("%w after %d attempts: %v", ErrBroadcastFailed, attempt, err)
		}
		return "", err
	}

	return txID, nil
}

// WaitForConfirmation polls until txID is included or maxRounds rounds have passed.
// It returns ErrConfirmationTimeout when the bound is exhausted.
func (c *AlgorandClient) WaitForConfirmation(ctx context.Context, txID string, maxRounds uint64) (*Confirmation, error) {
	if maxRounds == 0 {
		maxRounds = 1
	}

	status, err := c.node.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: status: %v", ErrNodeUnavailable, err)
	}
	round := status.LastRound
	lastRound := round + maxRounds

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfirmationTimeout, err)
		}

		info, err := c.node.PendingTransactionInformation(ctx, txID)
		if err == nil {
			if info.ConfirmedRound > 0 {
				return &Confirmation{TxID: txID, ConfirmedRound: info.ConfirmedRound}, nil
			}
			if info.PoolError != "" {
				return nil, fmt.Errorf("%w: %s", ErrTransactionRejected, info.PoolError)
			}
		} else {
			c.log.Debug("pending transaction lookup failed", map[string]any{
				"txId":  txID,
				"round": round,
				"error": err.Error(),
			})
		}

		if round >= lastRound {
			return nil, fmt.Errorf("%w: %s not confirmed after %d rounds", ErrConfirmationTimeout, txID, maxRounds)
		}

		status, err = c.node.StatusAfterBlock(ctx, round)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrConfirmationTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("%w: status after block %d: %v", ErrNodeUnavailable, round, err)
		}
		if status.LastRound > round {
			round = status.LastRound
		} else {
			round++
		}
	}
}

func (c *AlgorandClient) Close() {}
