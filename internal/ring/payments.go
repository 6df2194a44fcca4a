package ring

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"RingSim/internal/chain"
	bigmath "RingSim/internal/math"
	"RingSim/internal/types"
)

// AdjustOrderStates books the planned fills into the member orders and
// their spendables. RevertOrderStats is the exact inverse.
func (r *Ring) AdjustOrderStates() {
	for _, p := range r.Participations {
		o := p.Order
		settled := new(big.Int).Add(p.FillAmountS, p.SplitS)

		o.FilledAmountS.Add(o.FilledAmountS, settled)
		o.TokenSpendableS.Amount.Sub(o.TokenSpendableS.Amount, settled)
		o.TokenSpendableFee.Amount.Sub(o.TokenSpendableFee.Amount, p.FeeAmount)
		if o.BrokerSpendableS != nil {
			o.BrokerSpendableS.Amount.Sub(o.BrokerSpendableS.Amount, settled)
		}
		if o.BrokerSpendableFee != nil {
			o.BrokerSpendableFee.Amount.Sub(o.BrokerSpendableFee.Amount, p.FeeAmount)
		}
	}
}

// RevertOrderStats undoes AdjustOrderStates when the ring is invalidated
// during the all-or-none fixed point.
func (r *Ring) RevertOrderStats() {
	for _, p := range r.Participations {
		o := p.Order
		settled := new(big.Int).Add(p.FillAmountS, p.SplitS)

		o.FilledAmountS.Sub(o.FilledAmountS, settled)
		o.TokenSpendableS.Amount.Add(o.TokenSpendableS.Amount, settled)
		o.TokenSpendableFee.Amount.Add(o.TokenSpendableFee.Amount, p.FeeAmount)
		if o.BrokerSpendableS != nil {
			o.BrokerSpendableS.Amount.Add(o.BrokerSpendableS.Amount, settled)
		}
		if o.BrokerSpendableFee != nil {
			o.BrokerSpendableFee.Amount.Add(o.BrokerSpendableFee.Amount, p.FeeAmount)
		}
	}
}

// DoPayments distributes fees and emits the token transfers of a settled
// ring. Fee distribution runs first because the transfer amounts depend on
// the computed rebates.
func (r *Ring) DoPayments(ctx context.Context, mining *types.Mining) ([]types.TransferItem, error) {
	for _, p := range r.Participations {
		if err := r.payFeesAndBurn(ctx, p, mining); err != nil {
			return nil, err
		}
	}

	transfers := make([]types.TransferItem, 0, r.Size()*3)
	for i := 0; i < r.Size(); i++ {
		items, err := r.transferTokens(ctx, r.Participations[i], r.prev(i), mining)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, items...)
	}
	return transfers, nil
}

// payFeesAndBurn applies the fee/burn/rebate model to the participation's
// three fee amounts and records the resulting rebates.
func (r *Ring) payFeesAndBurn(ctx context.Context, p *Participation, mining *types.Mining) error {
	var err error
	p.RebateFee, err = r.distributeFee(ctx, p, mining, p.Order.FeeToken, p.FeeAmount)
	if err != nil {
		return err
	}
	p.RebateS, err = r.distributeFee(ctx, p, mining, p.Order.TokenS, p.FeeAmountS)
	if err != nil {
		return err
	}
	p.RebateB, err = r.distributeFee(ctx, p, mining, p.Order.TokenB, p.FeeAmountB)
	if err != nil {
		return err
	}
	return nil
}

// distributeFee splits one fee amount between wallet, miner, burn address
// and negative-waive orders, returning the part rebated to the order.
func (r *Ring) distributeFee(ctx context.Context, p *Participation, mining *types.Mining, token common.Address, amount *big.Int) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int), nil
	}
	o := p.Order

	// In P2P the wallet takes the whole fee; with no wallet the order
	// keeps its own fee.
	if o.P2P && !o.HasWallet() {
		return new(big.Int).Set(amount), nil
	}

	walletSplit := int64(0)
	if o.P2P {
		walletSplit = types.WalletSplitBase
	} else if o.HasWallet() {
		walletSplit = int64(o.WalletSplitPercentage)
	}

	walletFee := bigmath.MulDivInt(amount, walletSplit, types.WalletSplitBase)
	minerFee := new(big.Int).Sub(amount, walletFee)

	if o.WaiveFeePercentage > 0 {
		minerFee = bigmath.MulDivInt(minerFee, int64(types.FeePercentageBase-o.WaiveFeePercentage), types.FeePercentageBase)
	} else if o.WaiveFeePercentage < 0 {
		// This order pays no miner fee; it is a recipient of other
		// orders' miner fees instead.
		minerFee = new(big.Int)
	}

	packedRate, err := r.chain.BurnRate(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("burn rate for %s: %w", token.Hex(), err)
	}
	burnRate := int64(packedRate & 0xFFFF)
	if o.P2P {
		burnRate = int64(packedRate >> 16)
	}
	// The protocol reserves a burn-rebate rate; it is zero everywhere
	// today, so the rebate terms below never fire.
	const rebateRate = 0

	minerBurn := bigmath.MulDivInt(minerFee, burnRate, types.FeePercentageBase)
	minerRebate := bigmath.MulDivInt(minerFee, rebateRate, types.FeePercentageBase)
	minerFee.Sub(minerFee, new(big.Int).Add(minerBurn, minerRebate))

	walletBurn := bigmath.MulDivInt(walletFee, burnRate, types.FeePercentageBase)
	walletRebate := bigmath.MulDivInt(walletFee, rebateRate, types.FeePercentageBase)
	walletFee.Sub(walletFee, new(big.Int).Add(walletBurn, walletRebate))

	// Redistribute part of the miner fee to orders with negative waive.
	feesToOrders := new(big.Int)
	if r.MinerFeesToOrdersPercentage > 0 && minerFee.Sign() > 0 {
		for _, otherP := range r.Participations {
			if otherP == p || otherP.Order.WaiveFeePercentage >= 0 {
				continue
			}
			share := bigmath.MulDivInt(minerFee, int64(-otherP.Order.WaiveFeePercentage), types.FeePercentageBase)
			if share.Sign() > 0 {
				r.FeeBalances.Add(otherP.Order.Owner, token, types.ZeroAddress, share)
				feesToOrders.Add(feesToOrders, share)
			}
		}
		minerFee = bigmath.MulDivInt(minerFee, int64(types.FeePercentageBase-r.MinerFeesToOrdersPercentage), types.FeePercentageBase)
	}

	if walletFee.Sign() > 0 {
		r.FeeBalances.Add(o.WalletAddr, token, types.ZeroAddress, walletFee)
	}
	if minerFee.Sign() > 0 {
		r.FeeBalances.Add(mining.FeeRecipient, token, types.ZeroAddress, minerFee)
	}
	burned := new(big.Int).Add(minerBurn, walletBurn)
	if burned.Sign() > 0 {
		r.FeeBalances.Add(types.ZeroAddress, token, types.ZeroAddress, burned)
	}

	credited := new(big.Int).Add(walletFee, walletBurn)
	credited.Add(credited, minerFee)
	credited.Add(credited, minerBurn)
	credited.Add(credited, feesToOrders)

	rebate := new(big.Int).Sub(amount, credited)
	if rebate.Sign() < 0 {
		return nil, fmt.Errorf("fee distribution over-credited %s by %s", token.Hex(), new(big.Int).Neg(rebate))
	}
	return rebate, nil
}

// transferTokens emits the participation's transfers: trade proceeds to
// the buyer, fees to the fee holder, margin to the miner.
func (r *Ring) transferTokens(ctx context.Context, p, prevP *Participation, mining *types.Mining) ([]types.TransferItem, error) {
	o := p.Order
	buyerFeeB := new(big.Int).Sub(prevP.FeeAmountB, prevP.RebateB)

	// Amount delivered to the buyer: the fill minus this order's tokenS
	// fee minus the buyer's own tokenB fee.
	amountToBuyer := new(big.Int).Sub(p.FillAmountS, p.FeeAmountS)
	amountToBuyer.Sub(amountToBuyer, buyerFeeB)

	// tokenS fees collected by the fee holder, including the buyer's
	// tokenB fee which is paid in this same token.
	amountToFeeHolderS := new(big.Int).Sub(p.FeeAmountS, p.RebateS)
	amountToFeeHolderS.Add(amountToFeeHolderS, buyerFeeB)

	amountToFeeHolderFee := new(big.Int).Sub(p.FeeAmount, p.RebateFee)
	if o.TokenS == o.FeeToken {
		// Fold the feeToken payment into the tokenS transfer.
		amountToFeeHolderS.Add(amountToFeeHolderS, amountToFeeHolderFee)
		amountToFeeHolderFee = new(big.Int)
	}

	var transfers []types.TransferItem

	add := func(token, from, to common.Address, amount *big.Int, tokenType types.TokenType, tranche common.Address, data []byte) error {
		if amount.Sign() == 0 || from == to {
			return nil
		}
		toTranche := types.ZeroAddress
		if tokenType == types.TokenTypeERC1400 {
			res, err := r.chain.CanSend(ctx, token, from, to, tranche, amount, data)
			if err != nil {
				return fmt.Errorf("canSend %s: %w", token.Hex(), err)
			}
			if !chain.CanSendOK(res.Status) {
				return fmt.Errorf("canSend refused transfer of %s from %s to %s: status 0x%02x",
					token.Hex(), from.Hex(), to.Hex(), res.Status)
			}
			toTranche = res.DestTranche
		} else {
			tranche = types.ZeroAddress
		}
		transfers = append(transfers, types.TransferItem{
			Token:       token,
			From:        from,
			To:          to,
			Amount:      new(big.Int).Set(amount),
			TokenType:   tokenType,
			FromTranche: tranche,
			ToTranche:   toTranche,
			Data:        data,
		})
		return nil
	}

	if err := add(o.TokenS, o.Owner, prevP.Order.TokenRecipient, amountToBuyer, o.TokenTypeS, o.TrancheS, o.TransferDataS); err != nil {
		return nil, err
	}
	if err := add(o.TokenS, o.Owner, r.feeHolder, amountToFeeHolderS, o.TokenTypeS, o.TrancheS, nil); err != nil {
		return nil, err
	}
	if err := add(o.FeeToken, o.Owner, r.feeHolder, amountToFeeHolderFee, o.TokenTypeFee, o.TrancheFee, nil); err != nil {
		return nil, err
	}

	// Margin goes to the miner, except for security tokens which never
	// distribute margin.
	if o.TokenTypeS != types.TokenTypeERC1400 {
		if err := add(o.TokenS, o.Owner, mining.FeeRecipient, p.SplitS, o.TokenTypeS, o.TrancheS, nil); err != nil {
			return nil, err
		}
	}

	return transfers, nil
}
