package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"RingSim/internal/chain"
	"RingSim/internal/ledger"
	bigmath "RingSim/internal/math"
	"RingSim/internal/order"
	"RingSim/internal/ring"
	"RingSim/internal/types"
)

// ErrInvalidMinerSignature aborts the whole simulation; a batch with a bad
// miner signature would revert on chain before touching any ring.
var ErrInvalidMinerSignature = errors.New("invalid miner signature")

// Engine is the batch settlement driver. One Simulate call is a pure
// function of its input and the chain view passed to it; the only state
// carried across simulations is the ring index counter labelling RingMined
// events. The engine is single-threaded: the view handed to Simulate is
// pinned for the duration of that call.
type Engine struct {
	chain     chain.ChainView
	hasher    chain.Hasher
	verifier  chain.SignatureVerifier
	feeHolder common.Address

	ringIndex uint64
}

func NewEngine(hasher chain.Hasher, verifier chain.SignatureVerifier, feeHolder common.Address) *Engine {
	return &Engine{
		hasher:    hasher,
		verifier:  verifier,
		feeHolder: feeHolder,
	}
}

// FeeHolder returns the fee-holder address transfers are routed to.
func (e *Engine) FeeHolder() common.Address {
	return e.feeHolder
}

type brokerSpendableKey struct {
	Broker common.Address
	Owner  common.Address
	Token  common.Address
}

// Simulate settles one miner-submitted batch against the given chain view
// and reports every transfer, event and state delta it would cause on
// chain. Fatal conditions return an error alongside a reverted report.
func (e *Engine) Simulate(ctx context.Context, input *types.RingsInput, view chain.ChainView) (*Report, error) {
	e.chain = view
	report := &Report{
		SimulationID:        uuid.New(),
		FilledAmountsBefore: make(map[common.Hash]*big.Int),
		FilledAmountsAfter:  make(map[common.Hash]*big.Int),
	}
	revert := func(err error) (*Report, error) {
		report.Reverted = true
		return report, err
	}

	validator := order.NewValidator(e.chain, e.hasher, e.verifier, input.Timestamp)

	// Per-order preflight.
	for _, o := range input.Orders {
		o.Valid = true
		o.FilledAmountS = new(big.Int)
		o.TokenSpendableS = types.NewSpendable()
		o.TokenSpendableFee = types.NewSpendable()

		validator.CheckP2P(o)
		validator.ComputeHash(o)
		validator.ValidateInfo(o)
		if err := validator.ResolveBroker(ctx, o); err != nil {
			return revert(err)
		}
		validator.CheckBrokerSignature(o)
	}

	// One broker spendable per distinct (broker, owner, token), shared by
	// reference so reservations interact across orders.
	brokerSpendables := make(map[brokerSpendableKey]*types.Spendable)
	sharedSpendable := func(broker, owner, token common.Address) *types.Spendable {
		key := brokerSpendableKey{Broker: broker, Owner: owner, Token: token}
		sp, ok := brokerSpendables[key]
		if !ok {
			sp = types.NewSpendable()
			brokerSpendables[key] = sp
		}
		return sp
	}
	for _, o := range input.Orders {
		if o.HasBroker() {
			o.BrokerSpendableS = sharedSpendable(o.Broker, o.Owner, o.TokenS)
			o.BrokerSpendableFee = sharedSpendable(o.Broker, o.Owner, o.FeeToken)
		}
	}

	if err := e.loadFilledAmounts(ctx, input.Orders, report); err != nil {
		return revert(err)
	}

	// Ring construction. Out-of-range indices mean the input blob was
	// corrupt, which is fatal.
	rings := make([]*ring.Ring, 0, len(input.Rings))
	for _, indices := range input.Rings {
		members := make([]*types.Order, 0, len(indices))
		for _, idx := range indices {
			if idx < 0 || idx >= len(input.Orders) {
				return revert(fmt.Errorf("ring references order %d, batch has %d orders", idx, len(input.Orders)))
			}
			members = append(members, input.Orders[idx])
		}
		rings = append(rings, ring.NewRing(members, validator, e.chain, e.hasher, e.feeHolder))
	}

	mining := types.NewMining(input)
	mining.Hash = e.miningHash(mining, rings)
	if !validator.CheckMinerSignature(mining, input.TransactionOrigin) {
		return revert(ErrInvalidMinerSignature)
	}
	for _, o := range input.Orders {
		validator.CheckDualAuthSignature(o, mining.Hash)
	}

	// Fill computation per ring, then the all-or-none fixed point.
	for _, r := range rings {
		r.CheckOrdersValid()
		r.CheckForSubRings()
		if err := r.CalculateFillAmountAndFee(ctx); err != nil {
			return revert(err)
		}
		if r.Valid {
			r.AdjustOrderStates()
		}
	}
	ResolveAllOrNone(validator, input.Orders, rings)

	// Payments for surviving rings.
	feeBook := ledger.NewBalanceBook()
	planned := ledger.NewBalanceBook()
	var transfers []types.TransferItem

	for _, r := range rings {
		if !r.Valid {
			report.InvalidRingEvents = append(report.InvalidRingEvents, types.InvalidRingEvent{RingHash: r.Hash})
			continue
		}
		items, err := r.DoPayments(ctx, mining)
		if err != nil {
			return revert(err)
		}
		if err := r.ValidateSettlement(); err != nil {
			return revert(err)
		}
		transfers = append(transfers, items...)

		for _, entry := range r.FeeBalances.Entries() {
			feeBook.Add(entry.Owner, entry.Token, entry.Tranche, entry.Amount)
		}
		e.recordPlannedSpend(planned, r)

		report.RingMinedEvents = append(report.RingMinedEvents, types.RingMined{
			RingIndex:    new(big.Int).SetUint64(e.ringIndex),
			RingHash:     r.Hash.Hex(),
			FeeRecipient: mining.FeeRecipient,
			Fills:        ringFills(r),
		})
		e.ringIndex++
	}

	report.TransferItems = MergeTransfers(transfers)

	if err := e.snapshotBalances(ctx, input, mining, report); err != nil {
		return revert(err)
	}
	if err := e.snapshotFeeBalances(ctx, feeBook, report); err != nil {
		return revert(err)
	}
	for _, o := range input.Orders {
		report.FilledAmountsAfter[o.Hash] = bigmath.Clone(o.FilledAmountS)
	}

	if err := e.validateRings(ctx, report, rings, input.Orders, planned, feeBook); err != nil {
		return revert(err)
	}
	return report, nil
}

// loadFilledAmounts runs the packed batch query against the trade delegate
// and applies filled amounts and the cancellation sentinel.
func (e *Engine) loadFilledAmounts(ctx context.Context, orders []*types.Order, report *Report) error {
	if len(orders) == 0 {
		return nil
	}

	query := make([]common.Hash, 0, len(orders)*chain.FilledQueryWords)
	for _, o := range orders {
		query = append(query,
			common.BytesToHash(o.Broker.Bytes()),
			common.BytesToHash(o.Owner.Bytes()),
			o.Hash,
			common.BigToHash(new(big.Int).SetUint64(o.ValidSince)),
			tokenXorWord(o.TokenS, o.TokenB),
		)
	}

	fills, err := e.chain.BatchGetFilledAndCheckCancelled(ctx, query)
	if err != nil {
		return fmt.Errorf("batch filled query: %w", err)
	}
	if len(fills) != len(orders) {
		return fmt.Errorf("batch filled query returned %d results for %d orders", len(fills), len(orders))
	}

	for i, o := range orders {
		if fills[i].Cmp(chain.CancelledSentinel) == 0 {
			o.Valid = false
		} else {
			o.FilledAmountS = bigmath.Clone(fills[i])
		}
		report.FilledAmountsBefore[o.Hash] = bigmath.Clone(o.FilledAmountS)
	}
	return nil
}

// tokenXorWord packs tokenS XOR tokenB into the high 20 bytes of a word,
// followed by 12 zero pad bytes.
func tokenXorWord(tokenS, tokenB common.Address) common.Hash {
	var word common.Hash
	for i := 0; i < common.AddressLength; i++ {
		word[i] = tokenS[i] ^ tokenB[i]
	}
	return word
}

// miningHash binds the ordered ring hashes to the miner identity.
func (e *Engine) miningHash(mining *types.Mining, rings []*ring.Ring) common.Hash {
	var buf []byte
	for _, r := range rings {
		buf = append(buf, r.Hash.Bytes()...)
	}
	buf = append(buf, mining.FeeRecipient.Bytes()...)
	buf = append(buf, mining.Miner.Bytes()...)
	return e.hasher.Hash(buf)
}

// recordPlannedSpend accumulates each owner's maximum outflow per token so
// validateRings can bound the actual transfers against it.
func (e *Engine) recordPlannedSpend(planned *ledger.BalanceBook, r *ring.Ring) {
	for _, p := range r.Participations {
		o := p.Order
		trancheS := o.TrancheS
		if o.TokenTypeS != types.TokenTypeERC1400 {
			trancheS = types.ZeroAddress
		}
		spend := new(big.Int).Add(p.FillAmountS, p.SplitS)
		if o.TokenS == o.FeeToken {
			spend.Add(spend, p.FeeAmount)
			planned.Add(o.Owner, o.TokenS, trancheS, spend)
		} else {
			planned.Add(o.Owner, o.TokenS, trancheS, spend)
			if p.FeeAmount.Sign() > 0 {
				trancheFee := o.TrancheFee
				if o.TokenTypeFee != types.TokenTypeERC1400 {
					trancheFee = types.ZeroAddress
				}
				planned.Add(o.Owner, o.FeeToken, trancheFee, p.FeeAmount)
			}
		}
	}
}

func ringFills(r *ring.Ring) []types.Fill {
	fills := make([]types.Fill, 0, r.Size())
	for _, p := range r.Participations {
		fee := bigmath.Clone(p.FeeAmount)
		if !p.Order.P2P {
			fee.Add(fee, p.FeeAmountB)
		}
		fills = append(fills, types.Fill{
			OrderHash: p.Order.Hash,
			Owner:     p.Order.Owner,
			TokenS:    p.Order.TokenS,
			AmountS:   bigmath.Clone(p.FillAmountS),
			Split:     bigmath.Clone(p.SplitS),
			FeeAmount: fee,
		})
	}
	return fills
}

// snapshotBalances captures the pre-simulation balance of every (owner,
// token, tranche) a transfer touches, plus the fee recipient's balance in
// every ERC20 tokenS (ERC1400 tokenS is skipped), then derives the post-simulation balances by applying the
// transfers.
func (e *Engine) snapshotBalances(ctx context.Context, input *types.RingsInput, mining *types.Mining, report *Report) error {
	before := ledger.NewBalanceBook()
	ensure := func(owner, token common.Address, tokenType types.TokenType, tranche common.Address) error {
		if tokenType != types.TokenTypeERC1400 {
			tranche = types.ZeroAddress
		}
		if before.IsKnown(owner, token, tranche) {
			return nil
		}
		balance, err := e.chain.Balance(ctx, tokenType, token, tranche, owner)
		if err != nil {
			return fmt.Errorf("balance snapshot for %s in %s: %w", owner.Hex(), token.Hex(), err)
		}
		before.Add(owner, token, tranche, balance)
		return nil
	}

	for _, item := range report.TransferItems {
		if err := ensure(item.From, item.Token, item.TokenType, item.FromTranche); err != nil {
			return err
		}
		if err := ensure(item.To, item.Token, item.TokenType, item.ToTranche); err != nil {
			return err
		}
	}
	for _, o := range input.Orders {
		if o.TokenTypeS == types.TokenTypeERC20 {
			if err := ensure(mining.FeeRecipient, o.TokenS, o.TokenTypeS, types.ZeroAddress); err != nil {
				return err
			}
		}
	}

	after := before.Copy()
	for _, item := range report.TransferItems {
		neg := new(big.Int).Neg(item.Amount)
		after.Add(item.From, item.Token, item.FromTranche, neg)
		after.Add(item.To, item.Token, item.ToTranche, item.Amount)
	}

	report.BalancesBefore = before
	report.BalancesAfter = after
	return nil
}

// snapshotFeeBalances mirrors the fee credits onto the fee holder's
// per-token accounts.
func (e *Engine) snapshotFeeBalances(ctx context.Context, feeBook *ledger.BalanceBook, report *Report) error {
	before := ledger.NewBalanceBook()
	for _, entry := range feeBook.Entries() {
		if before.IsKnown(entry.Owner, entry.Token, types.ZeroAddress) {
			continue
		}
		balance, err := e.chain.FeeBalance(ctx, entry.Token, entry.Owner)
		if err != nil {
			return fmt.Errorf("fee balance snapshot for %s in %s: %w", entry.Owner.Hex(), entry.Token.Hex(), err)
		}
		before.Add(entry.Owner, entry.Token, types.ZeroAddress, balance)
	}

	after := before.Copy()
	for _, entry := range feeBook.Entries() {
		after.Add(entry.Owner, entry.Token, entry.Tranche, entry.Amount)
	}

	report.FeeBalancesBefore = before
	report.FeeBalancesAfter = after
	return nil
}
