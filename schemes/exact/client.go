package exact

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	sdktypes "github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/A-Maugli/x402-avm-avm-exmaples/signer"
	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
	"github.com/A-Maugli/x402-avm-avm-exmaples/utils"
)

// ParamsProvider supplies suggested transaction parameters for one network.
// clients.Client satisfies it.
type ParamsProvider interface {
	SuggestedParams(ctx context.Context) (sdktypes.SuggestedParams, error)
}

// ClientScheme builds signed exact payments on behalf of one payer.
type ClientScheme struct {
	signer signer.Signer

	mu     sync.RWMutex
	params map[types.Network]ParamsProvider
}

// NewClientScheme creates a payload builder for the account behind s.
func NewClientScheme(s signer.Signer) *ClientScheme {
	return &ClientScheme{
		signer: s,
		params: make(map[types.Network]ParamsProvider),
	}
}

func (c *ClientScheme) Scheme() string { return Scheme }

// AddNetwork registers the params source for a network.
func (c *ClientScheme) AddNetwork(network types.Network, provider ParamsProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params[network.Normalize()] = provider
}

// Supports reports whether payloads can be built for the network.
func (c *ClientScheme) Supports(network string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.params[types.Network(network).Normalize()]
	return ok
}

// Networks lists the registered networks in a stable order.
func (c *ClientScheme) Networks() []types.Network {
	c.mu.RLock()
	defer c.mu.RUnlock()
	networks := make([]types.Network, 0, len(c.params))
	for n := range c.params {
		networks = append(networks, n)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

// CreatePaymentPayload builds and signs the transfer demanded by req.
// Nothing is returned unless every step succeeds.
func (c *ClientScheme) CreatePaymentPayload(ctx context.Context, req types.PaymentRequirements) (*types.PaymentPayload, error) {
	if err := utils.ValidateRequirements(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequirement, err)
	}
	amount, err := req.AmountUint64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequirement, err)
	}
	asset, err := req.AssetID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequirement, err)
	}

	network := types.Network(req.Network).Normalize()
	c.mu.RLock()
	provider, ok := c.params[network]
	c.mu.RUnlock()
	if !ok {
		return nil, &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("no algod client configured for network %s", req.Network),
		}
	}

	params, err := provider.SuggestedParams(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch suggested params: %w", err)
	}

	group, paymentIndex, err := buildGroup(c.signer.Address(), req.PayTo, req.FeePayer(), amount, asset, params)
	if err != nil {
		return nil, err
	}

	unsigned := make([][]byte, len(group))
	for i, tx := range group {
		unsigned[i] = utils.EncodeTransaction(tx)
	}

	indexes, err := signer.IndexesForSender(unsigned, c.signer.Address())
	if err != nil {
		return nil, err
	}
	if !slices.Contains(indexes, paymentIndex) {
		return nil, fmt.Errorf("payment transaction is not sent by %s", c.signer.Address())
	}

	results, err := c.signer.SignTransactions(unsigned, indexes)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payment: %w", err)
	}
	if len(results) != len(unsigned) || results[paymentIndex].Declined || len(results[paymentIndex].Signed) == 0 {
		return nil, fmt.Errorf("signer %s did not sign the payment transaction", c.signer.Address())
	}

	encoded := make([]string, len(group))
	for i := range group {
		blob := unsigned[i]
		if !results[i].Declined && len(results[i].Signed) > 0 {
			blob = results[i].Signed
		}
		encoded[i] = base64.StdEncoding.EncodeToString(blob)
	}

	return &types.PaymentPayload{
		X402Version: int(types.X402Version2),
		Accepted:    req,
		Payload: types.ExactAvmPayload{
			PaymentGroup: encoded,
			PaymentIndex: paymentIndex,
		},
	}, nil
}

// buildGroup returns the transactions to sign and the index of the transfer.
// With a fee payer the group is [fee payer self-payment covering both fees, transfer with zero fee].
func buildGroup(payer, payTo, feePayer string, amount, asset uint64, params sdktypes.SuggestedParams) ([]sdktypes.Transaction, int, error) {
	transferParams := params
	if feePayer != "" {
		transferParams.FlatFee = true
		transferParams.Fee = 0
	}

	var (
		transfer sdktypes.Transaction
		err      error
	)
	if asset != 0 {
		transfer, err = transaction.MakeAssetTransferTxn(payer, payTo, amount, nil, transferParams, "", asset)
	} else {
		transfer, err = transaction.MakePaymentTxn(payer, payTo, amount, nil, "", transferParams)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedRequirement, err)
	}

	if feePayer == "" {
		return []sdktypes.Transaction{transfer}, 0, nil
	}

	feeParams := params
	feeParams.FlatFee = true
	feeParams.Fee = sdktypes.MicroAlgos(2 * minFee(params))
	feeTxn, err := transaction.MakePaymentTxn(feePayer, feePayer, 0, nil, "", feeParams)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: fee payer: %v", ErrMalformedRequirement, err)
	}

	group := []sdktypes.Transaction{feeTxn, transfer}
	gid, err := crypto.ComputeGroupID(group)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to compute group id: %w", err)
	}
	for i := range group {
		group[i].Group = gid
	}

	return group, 1, nil
}
