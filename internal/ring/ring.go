// Package ring implements the settlement of one cyclic chain of orders:
// the fill fixed point, fee/burn/rebate distribution and transfer emission.
package ring

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"RingSim/internal/chain"
	"RingSim/internal/ledger"
	"RingSim/internal/order"
	"RingSim/internal/types"
)

// Participation is one order's slot inside a ring. All amounts start at
// zero and are filled in by CalculateFillAmountAndFee.
type Participation struct {
	Order *types.Order

	FillAmountS *big.Int
	FillAmountB *big.Int
	SplitS      *big.Int

	FeeAmount  *big.Int
	FeeAmountS *big.Int
	FeeAmountB *big.Int

	RebateFee *big.Int
	RebateS   *big.Int
	RebateB   *big.Int

	RingSpendableS   *big.Int
	RingSpendableFee *big.Int
}

func newParticipation(o *types.Order) *Participation {
	return &Participation{
		Order:            o,
		FillAmountS:      new(big.Int),
		FillAmountB:      new(big.Int),
		SplitS:           new(big.Int),
		FeeAmount:        new(big.Int),
		FeeAmountS:       new(big.Int),
		FeeAmountB:       new(big.Int),
		RebateFee:        new(big.Int),
		RebateS:          new(big.Int),
		RebateB:          new(big.Int),
		RingSpendableS:   new(big.Int),
		RingSpendableFee: new(big.Int),
	}
}

// Ring is a cyclic chain of 2..8 participations. Participation i sells to
// participation i-1 (mod n) and buys from i+1 (mod n).
type Ring struct {
	Participations []*Participation
	Hash           common.Hash
	Valid          bool

	MinerFeesToOrdersPercentage int

	// FeeBalances records every fee credit of this ring; the engine
	// merges it into the global book after payments.
	FeeBalances *ledger.BalanceBook

	validator *order.Validator
	chain     chain.ChainView
	hasher    chain.Hasher
	feeHolder common.Address
}

// NewRing builds a ring over the given orders. Size bounds are checked
// here; order validity and geometry are re-checked by CheckOrdersValid.
func NewRing(
	orders []*types.Order,
	validator *order.Validator,
	view chain.ChainView,
	hasher chain.Hasher,
	feeHolder common.Address,
) *Ring {
	r := &Ring{
		Participations: make([]*Participation, 0, len(orders)),
		Valid:          len(orders) >= types.RingMinSize && len(orders) <= types.RingMaxSize,
		FeeBalances:    ledger.NewBalanceBook(),
		validator:      validator,
		chain:          view,
		hasher:         hasher,
		feeHolder:      feeHolder,
	}
	for _, o := range orders {
		r.Participations = append(r.Participations, newParticipation(o))
	}
	r.Hash = r.computeHash()
	return r
}

// computeHash derives the ring identity from its ordered member hashes and
// waive percentages.
func (r *Ring) computeHash() common.Hash {
	var buf []byte
	for _, p := range r.Participations {
		buf = append(buf, p.Order.Hash.Bytes()...)
		buf = append(buf, byte(int16(p.Order.WaiveFeePercentage)>>8), byte(int16(p.Order.WaiveFeePercentage)))
	}
	return r.hasher.Hash(buf)
}

// Size returns the number of participations.
func (r *Ring) Size() int {
	return len(r.Participations)
}

// prev returns the participation buying what participation i sells.
func (r *Ring) prev(i int) *Participation {
	n := len(r.Participations)
	return r.Participations[(i+n-1)%n]
}

// CheckOrdersValid clears Valid when any member order is invalid or the
// cyclic token geometry is broken.
func (r *Ring) CheckOrdersValid() {
	n := len(r.Participations)
	valid := r.Valid && n >= types.RingMinSize && n <= types.RingMaxSize
	for i := 0; i < n && valid; i++ {
		o := r.Participations[i].Order
		if !o.Valid {
			valid = false
			break
		}
		prev := r.prev(i).Order
		if o.TokenS != prev.TokenB || o.TokenTypeS != prev.TokenTypeB {
			valid = false
		}
	}
	r.Valid = valid
}

// CheckForSubRings invalidates rings where two orders sell the same token;
// such rings decompose into smaller rings and must not settle as one.
func (r *Ring) CheckForSubRings() {
	for i := 0; i < len(r.Participations); i++ {
		tokenS := r.Participations[i].Order.TokenS
		for j := i + 1; j < len(r.Participations); j++ {
			if r.Participations[j].Order.TokenS == tokenS {
				r.Valid = false
				return
			}
		}
	}
}

// Orders returns the member orders in ring order.
func (r *Ring) Orders() []*types.Order {
	orders := make([]*types.Order, 0, len(r.Participations))
	for _, p := range r.Participations {
		orders = append(orders, p.Order)
	}
	return orders
}
