// Package order validates individual orders and manages their spendable
// budgets against the chain view.
package order

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"RingSim/internal/chain"
	bigmath "RingSim/internal/math"
	"RingSim/internal/types"
)

// Validator is a stateless helper over orders and the chain view. The
// timestamp is the batch's "now"; the validator never reads the wall clock.
type Validator struct {
	chain    chain.ChainView
	hasher   chain.Hasher
	verifier chain.SignatureVerifier
	now      uint64
}

func NewValidator(view chain.ChainView, hasher chain.Hasher, verifier chain.SignatureVerifier, now uint64) *Validator {
	return &Validator{
		chain:    view,
		hasher:   hasher,
		verifier: verifier,
		now:      now,
	}
}

// ValidateInfo checks the static validity of an order and clears Valid on
// the first failed condition.
func (v *Validator) ValidateInfo(o *types.Order) {
	valid := true

	if o.ValidSince > v.now {
		valid = false
	}
	if o.ValidUntil <= v.now {
		valid = false
	}
	if bigmath.IsZero(o.AmountS) {
		valid = false
	}
	if bigmath.IsZero(o.AmountB) {
		valid = false
	}
	if o.FeeToken == types.ZeroAddress {
		valid = false
	}
	if o.Owner == types.ZeroAddress {
		valid = false
	}

	o.Valid = o.Valid && valid
}

// CheckP2P marks an order peer-to-peer iff it pays fees in the traded
// tokens.
func (v *Validator) CheckP2P(o *types.Order) {
	o.P2P = o.TokenSFeePercentage > 0 || o.TokenBFeePercentage > 0
}

// ComputeHash derives the deterministic order hash over the canonical
// fields and stores it on the order.
func (v *Validator) ComputeHash(o *types.Order) common.Hash {
	var buf []byte

	buf = append(buf, o.Owner.Bytes()...)
	buf = append(buf, o.TokenRecipient.Bytes()...)
	buf = append(buf, o.TokenS.Bytes()...)
	buf = append(buf, o.TokenB.Bytes()...)
	buf = append(buf, o.FeeToken.Bytes()...)
	buf = append(buf, o.WalletAddr.Bytes()...)
	buf = append(buf, o.DualAuthAddr.Bytes()...)
	buf = append(buf, common.BigToHash(o.AmountS).Bytes()...)
	buf = append(buf, common.BigToHash(o.AmountB).Bytes()...)
	buf = append(buf, common.BigToHash(o.FeeAmount).Bytes()...)
	buf = append(buf, o.TrancheS.Bytes()...)
	buf = append(buf, o.TrancheB.Bytes()...)
	buf = append(buf, o.TrancheFee.Bytes()...)
	buf = appendUint64(buf, o.ValidSince)
	buf = appendUint64(buf, o.ValidUntil)

	if o.AllOrNone {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	buf = appendUint16(buf, uint16(o.FeePercentage))
	buf = appendUint16(buf, uint16(o.TokenSFeePercentage))
	buf = appendUint16(buf, uint16(o.TokenBFeePercentage))
	buf = appendUint16(buf, uint16(o.WalletSplitPercentage))
	buf = appendUint16(buf, uint16(int16(o.WaiveFeePercentage)))
	buf = append(buf, byte(o.TokenTypeS), byte(o.TokenTypeB), byte(o.TokenTypeFee))
	buf = append(buf, o.TransferDataS...)

	o.Hash = v.hasher.Hash(buf)
	return o.Hash
}

// ResolveBroker queries the broker registry for orders trading through a
// broker. An unregistered broker invalidates the order.
func (v *Validator) ResolveBroker(ctx context.Context, o *types.Order) error {
	if !o.HasBroker() {
		return nil
	}
	interceptor, registered, err := v.chain.BrokerRegistry(ctx, o.Owner, o.Broker)
	if err != nil {
		return fmt.Errorf("broker registry %s/%s: %w", o.Broker.Hex(), o.Owner.Hex(), err)
	}
	if !registered {
		o.Valid = false
		return nil
	}
	o.BrokerInterceptor = interceptor
	return nil
}

// CheckBrokerSignature verifies the order signature. The signer is the
// broker when present, the owner otherwise. Orders without a signature are
// taken as pre-approved on chain.
func (v *Validator) CheckBrokerSignature(o *types.Order) {
	if len(o.Sig) == 0 {
		return
	}
	signer := o.Owner
	if o.HasBroker() {
		signer = o.Broker
	}
	if !v.verifier.Verify(signer, o.Hash, o.Sig) {
		o.Valid = false
	}
}

// CheckDualAuthSignature verifies the dual-auth signature over the mining
// hash, binding the order to this specific miner submission.
func (v *Validator) CheckDualAuthSignature(o *types.Order, miningHash common.Hash) {
	if o.DualAuthAddr == types.ZeroAddress {
		return
	}
	if len(o.DualAuthSig) == 0 || !v.verifier.Verify(o.DualAuthAddr, miningHash, o.DualAuthSig) {
		o.Valid = false
	}
}

// CheckMinerSignature verifies the miner's signature over the mining hash.
// A missing signature is accepted only when the transaction origin is the
// miner itself.
func (v *Validator) CheckMinerSignature(m *types.Mining, transactionOrigin common.Address) bool {
	if len(m.Sig) == 0 {
		return transactionOrigin == m.Miner
	}
	return v.verifier.Verify(m.Miner, m.Hash, m.Sig)
}

// ValidateAllOrNone invalidates all-or-none orders that did not fill
// completely after settlement planning.
func (v *Validator) ValidateAllOrNone(o *types.Order) {
	if o.AllOrNone && o.FilledAmountS.Cmp(o.AmountS) < 0 {
		o.Valid = false
	}
}

// SpendableS returns the live budget for the order's tokenS path, lazily
// initializing the cached spendables.
func (v *Validator) SpendableS(ctx context.Context, o *types.Order) (*big.Int, error) {
	return v.spendable(ctx, o, o.TokenTypeS, o.TokenS, o.TrancheS, o.TokenSpendableS, o.BrokerSpendableS)
}

// SpendableFee returns the live budget for the order's feeToken path.
func (v *Validator) SpendableFee(ctx context.Context, o *types.Order) (*big.Int, error) {
	return v.spendable(ctx, o, o.TokenTypeFee, o.FeeToken, o.TrancheFee, o.TokenSpendableFee, o.BrokerSpendableFee)
}

// spendable resolves the effective live budget: the token path, further
// limited by the broker path when a broker interceptor is present.
func (v *Validator) spendable(
	ctx context.Context,
	o *types.Order,
	tokenType types.TokenType,
	token, tranche common.Address,
	tokenSp, brokerSp *types.Spendable,
) (*big.Int, error) {
	if err := v.initTokenSpendable(ctx, tokenType, token, tranche, o.Owner, tokenSp); err != nil {
		return nil, err
	}
	available := tokenSp.Available()

	if o.BrokerInterceptor != types.ZeroAddress && brokerSp != nil {
		if err := v.initBrokerSpendable(ctx, o, tokenType, token, tranche, brokerSp); err != nil {
			return nil, err
		}
		available = bigmath.Min(available, brokerSp.Available())
	}

	if available.Sign() < 0 {
		available.SetInt64(0)
	}
	return available, nil
}

func (v *Validator) initTokenSpendable(
	ctx context.Context,
	tokenType types.TokenType,
	token, tranche, owner common.Address,
	sp *types.Spendable,
) error {
	if sp.Initialized {
		return nil
	}
	balance, err := v.chain.Balance(ctx, tokenType, token, tranche, owner)
	if err != nil {
		return fmt.Errorf("balance of %s in %s: %w", owner.Hex(), token.Hex(), err)
	}
	allowance, err := v.chain.Allowance(ctx, tokenType, token, tranche, owner)
	if err != nil {
		return fmt.Errorf("allowance of %s in %s: %w", owner.Hex(), token.Hex(), err)
	}
	amount := bigmath.Min(balance, allowance)
	sp.Initialized = true
	sp.Amount = amount
	sp.InitialAmount = bigmath.Clone(amount)
	return nil
}

func (v *Validator) initBrokerSpendable(
	ctx context.Context,
	o *types.Order,
	tokenType types.TokenType,
	token, tranche common.Address,
	sp *types.Spendable,
) error {
	if sp.Initialized {
		return nil
	}
	amount, err := v.chain.BrokerAllowance(ctx, tokenType, token, tranche, o.Owner, o.Broker)
	if err != nil {
		return fmt.Errorf("broker allowance of %s via %s: %w", o.Owner.Hex(), o.Broker.Hex(), err)
	}
	sp.Initialized = true
	sp.Amount = amount
	sp.InitialAmount = bigmath.Clone(amount)
	return nil
}

// ReserveAmountS adds a tokenS reservation so later fills of the same owner
// inside one ring see the reduced budget.
func (v *Validator) ReserveAmountS(o *types.Order, amount *big.Int) {
	o.TokenSpendableS.Reserved.Add(o.TokenSpendableS.Reserved, amount)
	if o.HasBroker() && o.BrokerSpendableS != nil {
		o.BrokerSpendableS.Reserved.Add(o.BrokerSpendableS.Reserved, amount)
	}
}

// ReserveAmountFee adds a feeToken reservation.
func (v *Validator) ReserveAmountFee(o *types.Order, amount *big.Int) {
	o.TokenSpendableFee.Reserved.Add(o.TokenSpendableFee.Reserved, amount)
	if o.HasBroker() && o.BrokerSpendableFee != nil {
		o.BrokerSpendableFee.Reserved.Add(o.BrokerSpendableFee.Reserved, amount)
	}
}

// ResetReservations clears all reservations on the order's spendables.
// Reservations only live for the duration of one ring's fill computation.
func (v *Validator) ResetReservations(o *types.Order) {
	o.TokenSpendableS.Reserved.SetInt64(0)
	o.TokenSpendableFee.Reserved.SetInt64(0)
	if o.BrokerSpendableS != nil {
		o.BrokerSpendableS.Reserved.SetInt64(0)
	}
	if o.BrokerSpendableFee != nil {
		o.BrokerSpendableFee.Reserved.SetInt64(0)
	}
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}
