// Package algodtest provides an in-memory algod node for tests. It keeps ALGO and
// ASA balances, checks signatures and group ids, detects duplicates and confirms
// broadcast transactions after a configurable number of rounds.
package algodtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/crypto"
	sdktypes "github.com/algorand/go-algorand-sdk/v2/types"

	x402types "github.com/A-Maugli/x402-avm-avm-exmaples/types"
	"github.com/A-Maugli/x402-avm-avm-exmaples/utils"
)

const MinFee = 1000

type assetKey struct {
	addr  sdktypes.Address
	asset uint64
}

// Ledger is a concurrency-safe fake of the algod endpoints behind clients.Node.
type Ledger struct {
	mu sync.Mutex

	genesisHash [32]byte
	genesisID   string
	round       uint64

	algos  map[sdktypes.Address]uint64
	assets map[assetKey]uint64

	pending      map[string]uint64
	confirmDelay uint64
	neverConfirm bool

	failSends int
	sendErr   error
	sent      int
}

// New returns a ledger at round 1000 for the given network.
func New(network x402types.Network) *Ledger {
	hash, err := network.GenesisHash()
	if err != nil {
		panic(err)
	}
	return &Ledger{
		genesisHash:  hash,
		genesisID:    "test-v1.0",
		round:        1000,
		algos:        make(map[sdktypes.Address]uint64),
		assets:       make(map[assetKey]uint64),
		pending:      make(map[string]uint64),
		confirmDelay: 1,
	}
}

// Fund credits microAlgos to an address.
func (l *Ledger) Fund(address string, microAlgos uint64) {
	addr := mustAddress(address)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.algos[addr] += microAlgos
}

// FundAsset credits ASA units to an address.
func (l *Ledger) FundAsset(address string, asset, amount uint64) {
	addr := mustAddress(address)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assets[assetKey{addr, asset}] += amount
}

func (l *Ledger) Balance(address string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.algos[mustAddress(address)]
}

func (l *Ledger) AssetBalance(address string, asset uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.assets[assetKey{mustAddress(address), asset}]
}

// SetConfirmDelay sets how many rounds after broadcast a transaction confirms.
func (l *Ledger) SetConfirmDelay(rounds uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.confirmDelay = rounds
}

// NeverConfirm keeps broadcast transactions pending forever.
func (l *Ledger) NeverConfirm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.neverConfirm = true
}

// FailSends makes the next n broadcasts fail with err before reaching the ledger.
func (l *Ledger) FailSends(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failSends = n
	l.sendErr = err
}

// Sent returns how many broadcast attempts reached the ledger.
func (l *Ledger) Sent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

func (l *Ledger) Round() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.round
}

func (l *Ledger) SuggestedParams(context.Context) (sdktypes.SuggestedParams, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sdktypes.SuggestedParams{
		Fee:             0,
		MinFee:          MinFee,
		GenesisID:       l.genesisID,
		GenesisHash:     append([]byte{}, l.genesisHash[:]...),
		FirstRoundValid: sdktypes.Round(l.round),
		LastRoundValid:  sdktypes.Round(l.round + 1000),
	}, nil
}

func (l *Ledger) Simulate(_ context.Context, request models.SimulateRequest) (models.SimulateResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var resp models.SimulateResponse
	for _, group := range request.TxnGroups {
		result := models.SimulateTransactionGroupResult{}
		if idx, err := l.check(group.Txns, request.AllowEmptySignatures); err != nil {
			result.FailureMessage = err.Error()
			result.FailedAt = []uint64{uint64(idx)}
		}
		resp.TxnGroups = append(resp.TxnGroups, result)
	}
	return resp, nil
}

func (l *Ledger) SendRawGroup(_ context.Context, group [][]byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failSends > 0 {
		l.failSends--
		return "", l.sendErr
	}
	l.sent++

	txns := make([]sdktypes.SignedTxn, len(group))
	for i, blob := range group {
		stx, _, err := utils.DecodeTransactionBlob(blob)
		if err != nil {
			return "", fmt.Errorf("HTTP 400 Bad Request: msgpack decode error: %v", err)
		}
		txns[i] = stx
	}

	if _, err := l.check(txns, false); err != nil {
		return "", fmt.Errorf("HTTP 400 Bad Request: TransactionPool.Remember: %v", err)
	}

	l.apply(txns, l.algos, l.assets)
	confirmAt := l.round + l.confirmDelay
	if l.neverConfirm {
		confirmAt = 0
	}
	for _, stx := range txns {
		l.pending[crypto.GetTxID(stx.Txn)] = confirmAt
	}

	return crypto.GetTxID(txns[0].Txn), nil
}

func (l *Ledger) PendingTransactionInformation(_ context.Context, txID string) (models.PendingTransactionInfoResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	confirmAt, ok := l.pending[txID]
	if !ok {
		return models.PendingTransactionInfoResponse{}, fmt.Errorf("HTTP 404 Not Found: txn does not exist")
	}
	if confirmAt != 0 && confirmAt <= l.round {
		return models.PendingTransactionInfoResponse{ConfirmedRound: confirmAt}, nil
	}
	return models.PendingTransactionInfoResponse{}, nil
}

func (l *Ledger) Status(context.Context) (models.NodeStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.NodeStatus{LastRound: l.round}, nil
}

// StatusAfterBlock advances the ledger one round past the requested one.
func (l *Ledger) StatusAfterBlock(ctx context.Context, round uint64) (models.NodeStatus, error) {
	if err := ctx.Err(); err != nil {
		return models.NodeStatus{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.round <= round {
		l.round = round + 1
	}
	return models.NodeStatus{LastRound: l.round}, nil
}

// check validates a group against the current state without mutating it.
func (l *Ledger) check(txns []sdktypes.SignedTxn, allowEmptySignatures bool) (int, error) {
	if len(txns) == 0 {
		return 0, errors.New("empty transaction group")
	}
	if err := checkGroupID(txns); err != nil {
		return 0, err
	}

	for i, stx := range txns {
		txID := crypto.GetTxID(stx.Txn)
		if _, seen := l.pending[txID]; seen {
			return i, fmt.Errorf("transaction already in ledger: %s", txID)
		}
		if stx.Txn.GenesisHash != l.genesisHash {
			return i, fmt.Errorf("transaction %s: genesis hash mismatch", txID)
		}
		if uint64(stx.Txn.LastValid) < l.round || uint64(stx.Txn.FirstValid) > l.round+1 {
			return i, fmt.Errorf("transaction %s: txn dead: round %d outside of %d--%d", txID, l.round, stx.Txn.FirstValid, stx.Txn.LastValid)
		}

		// rekeying is not modelled, so every account authorizes itself
		if !stx.AuthAddr.IsZero() && stx.AuthAddr != stx.Txn.Sender {
			return i, fmt.Errorf("transaction %s: should have been authorized by %s but was actually authorized by %s", txID, stx.Txn.Sender, stx.AuthAddr)
		}

		err := utils.VerifyTransactionSignature(stx)
		if errors.Is(err, utils.ErrMissingSignature) && allowEmptySignatures {
			continue
		}
		if err != nil {
			return i, fmt.Errorf("transaction %s: signature validation failed: %v", txID, err)
		}
	}

	var fees uint64
	for _, stx := range txns {
		fees += uint64(stx.Txn.Fee)
	}
	if fees < MinFee*uint64(len(txns)) {
		return 0, fmt.Errorf("group fee too small: %d < %d", fees, MinFee*uint64(len(txns)))
	}

	algos := make(map[sdktypes.Address]uint64, len(l.algos))
	for k, v := range l.algos {
		algos[k] = v
	}
	assets := make(map[assetKey]uint64, len(l.assets))
	for k, v := range l.assets {
		assets[k] = v
	}
	if idx, err := l.applyChecked(txns, algos, assets); err != nil {
		return idx, err
	}
	return 0, nil
}

func (l *Ledger) applyChecked(txns []sdktypes.SignedTxn, algos map[sdktypes.Address]uint64, assets map[assetKey]uint64) (int, error) {
	for i, stx := range txns {
		tx := stx.Txn
		if algos[tx.Sender] < uint64(tx.Fee) {
			return i, fmt.Errorf("overspend: account %s balance %d below fee %d", tx.Sender, algos[tx.Sender], tx.Fee)
		}
		algos[tx.Sender] -= uint64(tx.Fee)

		switch tx.Type {
		case sdktypes.PaymentTx:
			if algos[tx.Sender] < uint64(tx.Amount) {
				return i, fmt.Errorf("overspend: account %s balance %d below %d", tx.Sender, algos[tx.Sender], tx.Amount)
			}
			algos[tx.Sender] -= uint64(tx.Amount)
			algos[tx.Receiver] += uint64(tx.Amount)
		case sdktypes.AssetTransferTx:
			from := assetKey{tx.Sender, uint64(tx.XferAsset)}
			to := assetKey{tx.AssetReceiver, uint64(tx.XferAsset)}
			if assets[from] < tx.AssetAmount {
				return i, fmt.Errorf("overspend: asset %d balance of %s below %d", tx.XferAsset, tx.Sender, tx.AssetAmount)
			}
			assets[from] -= tx.AssetAmount
			assets[to] += tx.AssetAmount
		default:
			return i, fmt.Errorf("unsupported transaction type %s", tx.Type)
		}
	}
	return 0, nil
}

func (l *Ledger) apply(txns []sdktypes.SignedTxn, algos map[sdktypes.Address]uint64, assets map[assetKey]uint64) {
	_, _ = l.applyChecked(txns, algos, assets)
}

func checkGroupID(txns []sdktypes.SignedTxn) error {
	if len(txns) == 1 {
		return nil
	}
	plain := make([]sdktypes.Transaction, len(txns))
	for i, stx := range txns {
		plain[i] = stx.Txn
		plain[i].Group = sdktypes.Digest{}
	}
	gid, err := crypto.ComputeGroupID(plain)
	if err != nil {
		return err
	}
	for _, stx := range txns {
		if stx.Txn.Group != gid {
			return errors.New("incomplete group: group id mismatch")
		}
	}
	return nil
}

func mustAddress(address string) sdktypes.Address {
	addr, err := sdktypes.DecodeAddress(address)
	if err != nil {
		panic(err)
	}
	return addr
}
