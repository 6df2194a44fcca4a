package ring

import (
	"context"
	"fmt"
	"math/big"

	"RingSim/internal/chain"
	bigmath "RingSim/internal/math"
	"RingSim/internal/types"
)

// CalculateFillAmountAndFee runs the ring's fill fixed point: initial max
// fills per participation, the two-sweep resize propagation, fee
// calculation per pair and the margin split. On infeasibility the ring is
// marked invalid; an error is returned only for chain read failures.
func (r *Ring) CalculateFillAmountAndFee(ctx context.Context) error {
	if !r.Valid {
		return nil
	}

	for _, p := range r.Participations {
		if err := r.setMaxFillAmounts(ctx, p); err != nil {
			return err
		}
	}

	// Two sweeps suffice: the first finds the smallest index forcing a
	// shrink, the second stops there.
	smallest := 0
	for i := r.Size() - 1; i >= 0; i-- {
		smallest = r.resize(i, smallest)
	}
	for i := r.Size() - 1; i >= smallest; i-- {
		r.resize(i, smallest)
	}

	for _, p := range r.Participations {
		if p.FillAmountS.Sign() <= 0 {
			r.Valid = false
		}
	}

	if r.Valid {
		// Reserve tokenS so later fills by the same owner in this ring
		// see the reduced budget.
		for _, p := range r.Participations {
			r.validator.ReserveAmountS(p.Order, p.FillAmountS)
		}

		r.MinerFeesToOrdersPercentage = 0
		for i := 0; i < r.Size(); i++ {
			p := r.Participations[i]
			ok, err := r.calculateFees(ctx, p, r.prev(i))
			if err != nil {
				return err
			}
			if !ok {
				r.Valid = false
				break
			}
			if p.Order.WaiveFeePercentage < 0 {
				r.MinerFeesToOrdersPercentage += -p.Order.WaiveFeePercentage
			}
		}
		if r.MinerFeesToOrdersPercentage > types.FeePercentageBase {
			r.Valid = false
		}
	}

	// Reservations never outlive one ring's fill computation.
	for _, p := range r.Participations {
		r.validator.ResetReservations(p.Order)
	}
	return nil
}

// setMaxFillAmounts computes the participation's unconstrained maximum
// fill: remaining amount capped by the spendable budget, adjusted for fee
// affordability on non-P2P orders.
func (r *Ring) setMaxFillAmounts(ctx context.Context, p *Participation) error {
	o := p.Order

	remainingS := new(big.Int).Sub(o.AmountS, o.FilledAmountS)
	if remainingS.Sign() < 0 {
		remainingS.SetInt64(0)
	}

	spendableS, err := r.validator.SpendableS(ctx, o)
	if err != nil {
		return err
	}
	p.RingSpendableS = spendableS
	p.FillAmountS = bigmath.Min(spendableS, remainingS)

	if !o.P2P && !r.feePaidFromBoughtAmount(o) {
		feeAmount := bigmath.MulDiv(o.FeeAmount, p.FillAmountS, o.AmountS)

		if o.FeeToken == o.TokenS && new(big.Int).Add(p.FillAmountS, feeAmount).Cmp(spendableS) > 0 {
			// Fee comes out of the same budget as the sale: split the
			// available tokens proportionally between sell and fee.
			total := new(big.Int).Add(o.AmountS, o.FeeAmount)
			p.FillAmountS = bigmath.MulDiv(spendableS, o.AmountS, total)
		} else {
			spendableFee, err := r.validator.SpendableFee(ctx, o)
			if err != nil {
				return err
			}
			p.RingSpendableFee = spendableFee
			if feeAmount.Cmp(spendableFee) > 0 {
				feeAmount = spendableFee
				p.FillAmountS = bigmath.MulDiv(feeAmount, o.AmountS, o.FeeAmount)
			}
		}
	}

	p.FillAmountB = bigmath.MulDiv(p.FillAmountS, o.AmountB, o.AmountS)
	return nil
}

// feePaidFromBoughtAmount reports the shortcut where the fee can be taken
// from the bought tokens instead of a separate budget.
func (r *Ring) feePaidFromBoughtAmount(o *types.Order) bool {
	return o.FeeToken == o.TokenB &&
		o.Owner == o.TokenRecipient &&
		o.FeeAmount.Cmp(o.AmountB) <= 0
}

// resize shrinks the predecessor of participation i when it wants more
// than i can deliver after the tokenS fee, and reports the smallest index
// that forced a shrink.
func (r *Ring) resize(i, smallest int) int {
	p := r.Participations[i]
	prevP := r.prev(i)

	postFeeFillAmountS := p.FillAmountS
	if p.Order.TokenSFeePercentage > 0 {
		postFeeFillAmountS = bigmath.MulDivInt(
			p.FillAmountS,
			int64(types.FeePercentageBase-p.Order.TokenSFeePercentage),
			types.FeePercentageBase,
		)
	}

	if prevP.FillAmountB.Cmp(postFeeFillAmountS) > 0 {
		prevP.FillAmountB = new(big.Int).Set(postFeeFillAmountS)
		prevP.FillAmountS = bigmath.MulDiv(prevP.FillAmountB, prevP.Order.AmountS, prevP.Order.AmountB)
		return i
	}
	return smallest
}

// calculateFees fixes the participation's fee split against its buyer and
// carves out the miner margin. A false return marks the ring infeasible.
func (r *Ring) calculateFees(ctx context.Context, p, prevP *Participation) (bool, error) {
	o := p.Order

	if o.P2P {
		// P2P orders pay percentage fees in the traded tokens, never in
		// the fee token.
		p.FeeAmount = new(big.Int)
		p.FeeAmountS = bigmath.MulDivInt(p.FillAmountS, int64(o.TokenSFeePercentage), types.FeePercentageBase)
		p.FeeAmountB = bigmath.MulDivInt(p.FillAmountB, int64(o.TokenBFeePercentage), types.FeePercentageBase)
	} else {
		p.FeeAmount = bigmath.MulDiv(o.FeeAmount, p.FillAmountS, o.AmountS)
		p.FeeAmountS = new(big.Int)
		p.FeeAmountB = new(big.Int)

		if o.FeeToken == o.TokenB && o.Owner == o.TokenRecipient && p.FillAmountB.Cmp(p.FeeAmount) >= 0 {
			// The entire fee is payable from the bought amount.
			p.FeeAmountB = p.FeeAmount
			p.FeeAmount = new(big.Int)
		}

		if p.FeeAmount.Sign() > 0 {
			spendableFee, err := r.validator.SpendableFee(ctx, o)
			if err != nil {
				return false, err
			}
			p.RingSpendableFee = spendableFee
			if p.FeeAmount.Cmp(spendableFee) > 0 {
				return false, nil
			}
			r.validator.ReserveAmountFee(o, p.FeeAmount)
		}
	}

	// Margin: the excess over what the buyer must receive goes to the
	// miner (or the taker in P2P).
	postFee := new(big.Int).Sub(p.FillAmountS, p.FeeAmountS)
	if postFee.Cmp(prevP.FillAmountB) < 0 {
		return false, nil
	}
	p.SplitS = new(big.Int).Sub(postFee, prevP.FillAmountB)
	p.FillAmountS = new(big.Int).Add(prevP.FillAmountB, p.FeeAmountS)

	if o.TokenTypeS == types.TokenTypeERC1400 {
		res, err := r.chain.CanSend(ctx, o.TokenS, o.Owner, prevP.Order.TokenRecipient, o.TrancheS, p.FillAmountS, o.TransferDataS)
		if err != nil {
			return false, fmt.Errorf("canSend probe for %s: %w", o.TokenS.Hex(), err)
		}
		if !chain.CanSendOK(res.Status) || res.DestTranche != prevP.Order.TrancheB {
			return false, nil
		}
	}

	return true, nil
}
