package ring

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	bigmath "RingSim/internal/math"
	"RingSim/internal/types"
)

// ValidateSettlement checks the per-ring invariants after payments. Any
// violation is a fatal simulation error, not a ring invalidation: by this
// point the ring has already settled.
func (r *Ring) ValidateSettlement() error {
	for i, p := range r.Participations {
		prevP := r.prev(i)
		o := p.Order

		// Ring closure: what this order delivers net of its tokenS fee
		// is exactly what its buyer receives.
		postFee := new(big.Int).Sub(p.FillAmountS, p.FeeAmountS)
		if postFee.Cmp(prevP.FillAmountB) != 0 {
			return fmt.Errorf("ring %s: closure broken at %d: %s != %s",
				r.Hash.Hex(), i, postFee, prevP.FillAmountB)
		}

		// Rate respect, tolerant to 8 digits. The fill arithmetic itself
		// is bit-exact; the tolerance only absorbs truncation.
		spent := new(big.Int).Add(p.FillAmountS, p.SplitS)
		if p.FillAmountB.Sign() > 0 &&
			!bigmath.RatApproxEqual(spent, p.FillAmountB, o.AmountS, o.AmountB) {
			return fmt.Errorf("ring %s: order %s fill rate deviates from order rate",
				r.Hash.Hex(), o.Hash.Hex())
		}

		for name, v := range map[string]*big.Int{
			"fillAmountS": p.FillAmountS,
			"fillAmountB": p.FillAmountB,
			"splitS":      p.SplitS,
			"feeAmount":   p.FeeAmount,
			"feeAmountS":  p.FeeAmountS,
			"feeAmountB":  p.FeeAmountB,
			"rebateFee":   p.RebateFee,
			"rebateS":     p.RebateS,
			"rebateB":     p.RebateB,
		} {
			if v.Sign() < 0 {
				return fmt.Errorf("ring %s: order %s: negative %s: %s", r.Hash.Hex(), o.Hash.Hex(), name, v)
			}
		}

		if spent.Cmp(o.AmountS) > 0 {
			return fmt.Errorf("ring %s: order %s sells %s over amountS %s", r.Hash.Hex(), o.Hash.Hex(), spent, o.AmountS)
		}
		if p.FillAmountB.Cmp(o.AmountB) > 0 {
			return fmt.Errorf("ring %s: order %s buys over amountB", r.Hash.Hex(), o.Hash.Hex())
		}
		if p.FeeAmount.Cmp(o.FeeAmount) > 0 {
			return fmt.Errorf("ring %s: order %s fee over feeAmount", r.Hash.Hex(), o.Hash.Hex())
		}

		if p.RebateFee.Cmp(p.FeeAmount) > 0 || p.RebateS.Cmp(p.FeeAmountS) > 0 || p.RebateB.Cmp(p.FeeAmountB) > 0 {
			return fmt.Errorf("ring %s: order %s rebate exceeds fee", r.Hash.Hex(), o.Hash.Hex())
		}

		// Spendable safety against the budget captured at fill time.
		if o.TokenS == o.FeeToken {
			need := new(big.Int).Add(spent, p.FeeAmount)
			if need.Cmp(p.RingSpendableS) > 0 {
				return fmt.Errorf("ring %s: order %s spends %s over budget %s", r.Hash.Hex(), o.Hash.Hex(), need, p.RingSpendableS)
			}
		} else {
			if spent.Cmp(p.RingSpendableS) > 0 {
				return fmt.Errorf("ring %s: order %s spends over tokenS budget", r.Hash.Hex(), o.Hash.Hex())
			}
			if p.FeeAmount.Sign() > 0 && p.FeeAmount.Cmp(p.RingSpendableFee) > 0 {
				return fmt.Errorf("ring %s: order %s fee over fee budget", r.Hash.Hex(), o.Hash.Hex())
			}
		}

		if o.P2P {
			if p.FeeAmount.Sign() != 0 {
				return fmt.Errorf("ring %s: P2P order %s pays feeToken fee", r.Hash.Hex(), o.Hash.Hex())
			}
		} else {
			if p.FeeAmountS.Sign() != 0 {
				return fmt.Errorf("ring %s: order %s has tokenS fee outside P2P", r.Hash.Hex(), o.Hash.Hex())
			}
			if p.FeeAmount.Sign() != 0 && p.FeeAmountB.Sign() != 0 {
				return fmt.Errorf("ring %s: order %s pays fee in both feeToken and tokenB", r.Hash.Hex(), o.Hash.Hex())
			}
		}
	}

	return r.validateFeeBalances()
}

// validateFeeBalances compares the recorded fee credits against the
// amounts the participations actually surrendered, per token, over the
// union of tokens seen by either side.
func (r *Ring) validateFeeBalances() error {
	expected := make(map[common.Address]*big.Int)
	addExpected := func(token common.Address, fee, rebate *big.Int) {
		net := new(big.Int).Sub(fee, rebate)
		if net.Sign() == 0 {
			return
		}
		cur, ok := expected[token]
		if !ok {
			cur = new(big.Int)
			expected[token] = cur
		}
		cur.Add(cur, net)
	}
	for _, p := range r.Participations {
		addExpected(p.Order.FeeToken, p.FeeAmount, p.RebateFee)
		addExpected(p.Order.TokenS, p.FeeAmountS, p.RebateS)
		addExpected(p.Order.TokenB, p.FeeAmountB, p.RebateB)
	}

	tokens := r.FeeBalances.Tokens()
	for token := range expected {
		tokens[token] = true
	}

	for token := range tokens {
		want, ok := expected[token]
		if !ok {
			want = new(big.Int)
		}
		got := r.FeeBalances.TokenTotal(token)
		if got.Cmp(want) != 0 {
			return fmt.Errorf("ring %s: fee balance mismatch for %s: credited %s, surrendered %s",
				r.Hash.Hex(), token.Hex(), got, want)
		}
	}
	return nil
}
