package exact

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	sdktypes "github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/A-Maugli/x402-avm-avm-exmaples/clients"
	"github.com/A-Maugli/x402-avm-avm-exmaples/logger"
	"github.com/A-Maugli/x402-avm-avm-exmaples/signer"
	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
	"github.com/A-Maugli/x402-avm-avm-exmaples/utils"
)

// FacilitatorConfig bounds settlement.
type FacilitatorConfig struct {
	ConfirmationRounds uint64
	MaxFeePayerFee     uint64
}

// FacilitatorScheme verifies and settles exact payments. It keeps no per-payment
// state, so concurrent calls only share the network clients.
type FacilitatorScheme struct {
	config FacilitatorConfig
	log    logger.Logger

	mu      sync.RWMutex
	clients map[types.Network]clients.Client
	signers map[string]signer.Signer
	order   []string
}

// NewFacilitatorScheme creates the handler. feePayers are the accounts this
// facilitator is willing to co-sign fee transactions with.
func NewFacilitatorScheme(config FacilitatorConfig, log logger.Logger, feePayers ...signer.Signer) *FacilitatorScheme {
	if config.ConfirmationRounds == 0 {
		config.ConfirmationRounds = DefaultConfirmationRounds
	}
	if config.MaxFeePayerFee == 0 {
		config.MaxFeePayerFee = DefaultMaxFeePayerFee
	}
	log = logger.OrNoop(log)

	f := &FacilitatorScheme{
		config:  config,
		log:     log,
		clients: make(map[types.Network]clients.Client),
		signers: make(map[string]signer.Signer),
	}
	for _, s := range feePayers {
		if s == nil {
			continue
		}
		if _, dup := f.signers[s.Address()]; !dup {
			f.order = append(f.order, s.Address())
		}
		f.signers[s.Address()] = s
	}
	return f
}

func (f *FacilitatorScheme) Scheme() string { return Scheme }

// AddClient registers the adapter for the network it reports.
func (f *FacilitatorScheme) AddClient(client clients.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[client.Network().Normalize()] = client
}

// Client returns the adapter for a network.
func (f *FacilitatorScheme) Client(network string) (clients.Client, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.clients[types.Network(network).Normalize()]
	return c, ok
}

// Networks lists the registered networks in a stable order.
func (f *FacilitatorScheme) Networks() []types.Network {
	f.mu.RLock()
	defer f.mu.RUnlock()
	networks := make([]types.Network, 0, len(f.clients))
	for n := range f.clients {
		networks = append(networks, n)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

// FeePayer returns the address advertised to clients, or "" when fees are not sponsored.
func (f *FacilitatorScheme) FeePayer() string {
	if len(f.order) == 0 {
		return ""
	}
	return f.order[0]
}

// Signers lists the fee payer addresses.
func (f *FacilitatorScheme) Signers() []string {
	return append([]string(nil), f.order...)
}

// Kinds describes the scheme/network pairs for /supported.
func (f *FacilitatorScheme) Kinds() []types.SupportedKind {
	networks := f.Networks()
	kinds := make([]types.SupportedKind, 0, len(networks))
	for _, n := range networks {
		kind := types.SupportedKind{
			X402Version: int(types.X402Version2),
			Scheme:      Scheme,
			Network:     n.String(),
		}
		if feePayer := f.FeePayer(); feePayer != "" {
			kind.Extra = types.ExtraData{types.ExtraFeePayer: feePayer}
		}
		kinds = append(kinds, kind)
	}
	return kinds
}

func (f *FacilitatorScheme) Close() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range f.clients {
		c.Close()
	}
}

// checkedGroup is a decoded payment group that passed every local check.
type checkedGroup struct {
	client   clients.Client
	txns     []sdktypes.SignedTxn
	blobs    [][]byte
	payment  int
	feeSlots []int
	feePayer string
	payer    string
}

// Verify runs decode, match, content, signature and simulation checks.
// Payment problems come back as an invalid result with a nil error.
func (f *FacilitatorScheme) Verify(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.VerificationResult, error) {
	group, invalid, err := f.check(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if invalid != nil {
		return invalid, nil
	}

	return &types.VerificationResult{
		IsValid: true,
		Payer:   group.payer,
	}, nil
}

// Settle repeats every verify check, co-signs fee payer slots, broadcasts the
// group and waits a bounded number of rounds for the transfer to confirm.
func (f *FacilitatorScheme) Settle(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.SettlementResult, error) {
	group, invalid, err := f.check(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if invalid != nil {
		return &types.SettlementResult{
			Success:      false,
			ErrorReason:  invalid.InvalidReason,
			ErrorMessage: invalid.InvalidMessage,
			Network:      requirements.Network,
			Payer:        invalid.Payer,
		}, nil
	}

	failed := func(reason string, txID string, err error) *types.SettlementResult {
		return &types.SettlementResult{
			Success:      false,
			ErrorReason:  reason,
			ErrorMessage: err.Error(),
			Transaction:  txID,
			Network:      requirements.Network,
			Payer:        group.payer,
		}
	}

	signed, err := f.cosign(group)
	if err != nil {
		return failed(types.ReasonBroadcastFailure, "", err), nil
	}

	txID := crypto.GetTxID(group.txns[group.payment].Txn)

	if _, err := group.client.SendTransactions(ctx, signed); err != nil {
		if errors.Is(err, clients.ErrDuplicateTransaction) {
			return failed(types.ReasonDuplicateSettlement, txID, err), nil
		}
		return failed(types.ReasonBroadcastFailure, "", err), nil
	}

	f.log.Info("payment broadcast", map[string]any{
		"txId":    txID,
		"network": requirements.Network,
		"payer":   group.payer,
	})

	confirmation, err := group.client.WaitForConfirmation(ctx, txID, f.config.ConfirmationRounds)
	if err != nil {
		if errors.Is(err, clients.ErrTransactionRejected) {
			return failed(types.ReasonBroadcastFailure, txID, err), nil
		}
		// inclusion status is unknown from here on
		return failed(types.ReasonConfirmationTimeout, txID, err), nil
	}

	return &types.SettlementResult{
		Success:        true,
		Transaction:    txID,
		Network:        requirements.Network,
		Payer:          group.payer,
		ConfirmedRound: confirmation.ConfirmedRound,
	}, nil
}

func (f *FacilitatorScheme) cosign(group *checkedGroup) ([][]byte, error) {
	signed := make([][]byte, len(group.blobs))
	copy(signed, group.blobs)
	if len(group.feeSlots) == 0 {
		return signed, nil
	}

	s, ok := f.signers[group.feePayer]
	if !ok {
		return nil, fmt.Errorf("no signer for fee payer %s", group.feePayer)
	}

	unsigned := make([][]byte, len(group.txns))
	for i, stx := range group.txns {
		unsigned[i] = utils.EncodeTransaction(stx.Txn)
	}

	results, err := s.SignTransactions(unsigned, group.feeSlots)
	if err != nil {
		return nil, fmt.Errorf("fee payer signing failed: %w", err)
	}
	for _, idx := range group.feeSlots {
		if results[idx].Declined || len(results[idx].Signed) == 0 {
			return nil, fmt.Errorf("fee payer declined transaction %d", idx)
		}
		signed[idx] = results[idx].Signed
	}
	return signed, nil
}

func (f *FacilitatorScheme) check(
	ctx context.Context,
	payload *types.PaymentPayload,
	req *types.PaymentRequirements,
) (*checkedGroup, *types.VerificationResult, error) {
	if payload == nil || req == nil {
		return nil, types.Invalid(types.ReasonMalformedPayload, "payload and requirements are required"), nil
	}

	// decode
	encoded := payload.Payload.PaymentGroup
	if len(encoded) == 0 || len(encoded) > MaxGroupSize {
		return nil, types.Invalid(types.ReasonMalformedPayload, "payment group must hold 1 to %d transactions, got %d", MaxGroupSize, len(encoded)), nil
	}
	index := payload.Payload.PaymentIndex
	if index < 0 || index >= len(encoded) {
		return nil, types.Invalid(types.ReasonMalformedPayload, "paymentIndex %d out of range", index), nil
	}

	group := &checkedGroup{
		txns:    make([]sdktypes.SignedTxn, len(encoded)),
		blobs:   make([][]byte, len(encoded)),
		payment: index,
	}
	signedFlags := make([]bool, len(encoded))
	for i, item := range encoded {
		stx, blob, signed, err := utils.DecodeBase64Transaction(item)
		if err != nil {
			return nil, types.Invalid(types.ReasonMalformedPayload, "transaction %d: %v", i, err), nil
		}
		group.txns[i], group.blobs[i], signedFlags[i] = stx, blob, signed
	}
	pay := group.txns[index].Txn
	group.payer = pay.Sender.String()

	invalid := func(reason, format string, args ...any) (*checkedGroup, *types.VerificationResult, error) {
		res := types.Invalid(reason, format, args...)
		res.Payer = group.payer
		return nil, res, nil
	}

	amount, err := req.AmountUint64()
	if err != nil {
		return invalid(types.ReasonMalformedRequirement, "%v", err)
	}
	asset, err := req.AssetID()
	if err != nil {
		return invalid(types.ReasonMalformedRequirement, "%v", err)
	}
	payTo, err := sdktypes.DecodeAddress(req.PayTo)
	if err != nil {
		return invalid(types.ReasonMalformedRequirement, "payTo: %v", err)
	}

	// scheme and network
	if req.Scheme != Scheme || payload.Accepted.Scheme != req.Scheme {
		return invalid(types.ReasonSchemeMismatch, "payload scheme %q does not match requirement scheme %q", payload.Accepted.Scheme, req.Scheme)
	}
	if !types.SameNetwork(payload.Accepted.Network, req.Network) {
		return invalid(types.ReasonNetworkMismatch, "payload network %s does not match requirement network %s", payload.Accepted.Network, req.Network)
	}
	client, ok := f.Client(req.Network)
	if !ok {
		return invalid(types.ReasonNetworkMismatch, "network %s is not supported by this facilitator", req.Network)
	}
	group.client = client
	if genesis, err := types.Network(req.Network).GenesisHash(); err == nil {
		for i, stx := range group.txns {
			if stx.Txn.GenesisHash != genesis {
				return invalid(types.ReasonNetworkMismatch, "transaction %d targets a different network than %s", i, req.Network)
			}
		}
	}

	// content
	if payload.Accepted.PayTo != req.PayTo || payload.Accepted.Amount != req.Amount || !sameAsset(payload.Accepted.Asset, req.Asset) {
		return invalid(types.ReasonContentMismatch, "accepted requirement does not match the requirement being verified")
	}
	if err := checkTransfer(pay, payTo, amount, asset); err != nil {
		return invalid(types.ReasonContentMismatch, "%v", err)
	}

	feePayer := req.FeePayer()
	if feePayer != "" {
		if _, controlled := f.signers[feePayer]; !controlled {
			return invalid(types.ReasonContentMismatch, "fee payer %s is not managed by this facilitator", feePayer)
		}
		if group.payer == feePayer {
			return invalid(types.ReasonContentMismatch, "fee payer cannot be the payer")
		}
	}
	for i, stx := range group.txns {
		if i == index {
			continue
		}
		if err := f.checkFeePayerTxn(stx.Txn, feePayer); err != nil {
			return invalid(types.ReasonContentMismatch, "transaction %d: %v", i, err)
		}
		if signedFlags[i] {
			return invalid(types.ReasonContentMismatch, "transaction %d: fee payer transaction must be left unsigned", i)
		}
		group.feeSlots = append(group.feeSlots, i)
	}
	group.feePayer = feePayer

	if len(group.txns) > 1 {
		if err := checkGroupID(group.txns); err != nil {
			return invalid(types.ReasonMalformedPayload, "%v", err)
		}
	}

	// signatures
	for i, stx := range group.txns {
		if containsIndex(group.feeSlots, i) {
			continue
		}
		if !stx.AuthAddr.IsZero() && stx.AuthAddr != stx.Txn.Sender {
			return invalid(types.ReasonSignatureInvalid, "transaction %d is authorized by %s instead of %s", i, stx.AuthAddr, stx.Txn.Sender)
		}
		if err := utils.VerifyTransactionSignature(stx); err != nil {
			return invalid(types.ReasonSignatureInvalid, "transaction %d: %v", i, err)
		}
	}

	// simulation
	if err := client.SimulateTransactions(ctx, group.blobs); err != nil {
		var simErr *clients.SimulationError
		switch {
		case errors.Is(err, clients.ErrDuplicateTransaction):
			return invalid(types.ReasonDuplicateSettlement, "%v", err)
		case errors.As(err, &simErr):
			return invalid(types.ReasonSimulationFailure, "%s", simErr.Message)
		default:
			return nil, nil, err
		}
	}

	return group, nil, nil
}

// checkTransfer compares the transfer against the requirement and rejects any
// field that could move more than the declared amount.
func checkTransfer(tx sdktypes.Transaction, payTo sdktypes.Address, amount, asset uint64) error {
	if !tx.RekeyTo.IsZero() {
		return fmt.Errorf("payment transaction must not rekey")
	}

	if asset != 0 {
		if tx.Type != sdktypes.AssetTransferTx {
			return fmt.Errorf("expected an asset transfer, got %s", tx.Type)
		}
		if uint64(tx.XferAsset) != asset {
			return fmt.Errorf("asset %d does not match required asset %d", tx.XferAsset, asset)
		}
		if tx.AssetReceiver != payTo {
			return fmt.Errorf("receiver %s does not match payTo %s", tx.AssetReceiver, payTo)
		}
		if tx.AssetAmount != amount {
			return fmt.Errorf("amount %d does not match required amount %d", tx.AssetAmount, amount)
		}
		if !tx.AssetCloseTo.IsZero() {
			return fmt.Errorf("payment transaction must not close out the asset")
		}
		if !tx.AssetSender.IsZero() {
			return fmt.Errorf("clawback transfers are not accepted")
		}
		return nil
	}

	if tx.Type != sdktypes.PaymentTx {
		return fmt.Errorf("expected a payment, got %s", tx.Type)
	}
	if tx.Receiver != payTo {
		return fmt.Errorf("receiver %s does not match payTo %s", tx.Receiver, payTo)
	}
	if uint64(tx.Amount) != amount {
		return fmt.Errorf("amount %d does not match required amount %d", tx.Amount, amount)
	}
	if !tx.CloseRemainderTo.IsZero() {
		return fmt.Errorf("payment transaction must not close the account")
	}
	return nil
}

// checkFeePayerTxn accepts only a zero amount self-payment from the advertised fee payer.
func (f *FacilitatorScheme) checkFeePayerTxn(tx sdktypes.Transaction, feePayer string) error {
	if feePayer == "" {
		return fmt.Errorf("unexpected extra transaction without a fee payer")
	}
	if tx.Sender.String() != feePayer {
		return fmt.Errorf("sender %s is not the fee payer", tx.Sender)
	}
	if tx.Type != sdktypes.PaymentTx {
		return fmt.Errorf("fee payer transaction must be a payment, got %s", tx.Type)
	}
	if tx.Amount != 0 || tx.Receiver != tx.Sender {
		return fmt.Errorf("fee payer transaction must not transfer funds")
	}
	if !tx.CloseRemainderTo.IsZero() || !tx.RekeyTo.IsZero() {
		return fmt.Errorf("fee payer transaction must not close or rekey")
	}
	if uint64(tx.Fee) > f.config.MaxFeePayerFee {
		return fmt.Errorf("fee payer fee %d exceeds maximum %d", tx.Fee, f.config.MaxFeePayerFee)
	}
	return nil
}

func checkGroupID(txns []sdktypes.SignedTxn) error {
	plain := make([]sdktypes.Transaction, len(txns))
	for i, stx := range txns {
		plain[i] = stx.Txn
		plain[i].Group = sdktypes.Digest{}
	}
	gid, err := crypto.ComputeGroupID(plain)
	if err != nil {
		return fmt.Errorf("failed to compute group id: %v", err)
	}
	for i, stx := range txns {
		if stx.Txn.Group != gid {
			return fmt.Errorf("transaction %d has an inconsistent group id", i)
		}
	}
	return nil
}

func containsIndex(indexes []int, i int) bool {
	for _, idx := range indexes {
		if idx == i {
			return true
		}
	}
	return false
}
