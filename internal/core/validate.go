package core

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"RingSim/internal/ledger"
	bigmath "RingSim/internal/math"
	"RingSim/internal/ring"
	"RingSim/internal/types"
)

// validateRings runs the global post-settlement invariants over the
// report. Any breach means the simulator itself mis-accounted and is
// fatal.
func (e *Engine) validateRings(
	ctx context.Context,
	report *Report,
	rings []*ring.Ring,
	orders []*types.Order,
	planned *ledger.BalanceBook,
	feeBook *ledger.BalanceBook,
) error {
	// No balance goes negative once every transfer is applied.
	for _, entry := range report.BalancesAfter.Entries() {
		if entry.Amount.Sign() < 0 {
			return fmt.Errorf("balance of %s in %s went negative: %s",
				entry.Owner.Hex(), entry.Token.Hex(), entry.Amount)
		}
	}

	// Actual outflow never exceeds the planned spend; rebates make the
	// difference non-zero but never negative.
	outflow := ledger.NewBalanceBook()
	for _, item := range report.TransferItems {
		outflow.Add(item.From, item.Token, item.FromTranche, item.Amount)
	}
	for _, entry := range outflow.Entries() {
		budget := planned.Get(entry.Owner, entry.Token, entry.Tranche)
		if entry.Amount.Cmp(budget) > 0 {
			return fmt.Errorf("%s transfers %s of %s but only %s was spent",
				entry.Owner.Hex(), entry.Amount, entry.Token.Hex(), budget)
		}
	}

	// All-or-none orders settle completely or not at all.
	for _, o := range orders {
		if !o.AllOrNone {
			continue
		}
		after := report.FilledAmountsAfter[o.Hash]
		before := report.FilledAmountsBefore[o.Hash]
		if after.Cmp(o.AmountS) != 0 && after.Cmp(before) != 0 {
			return fmt.Errorf("all-or-none order %s partially filled: %s of %s",
				o.Hash.Hex(), after, o.AmountS)
		}
	}

	// Fee-holder mirror: per token, what the fee holder receives equals
	// what the fee accounts were credited.
	feeHolderIn := make(map[common.Address]*big.Int)
	for _, item := range report.TransferItems {
		if item.To != e.feeHolder {
			continue
		}
		cur, ok := feeHolderIn[item.Token]
		if !ok {
			cur = new(big.Int)
			feeHolderIn[item.Token] = cur
		}
		cur.Add(cur, item.Amount)
	}
	tokens := feeBook.Tokens()
	for token := range feeHolderIn {
		tokens[token] = true
	}
	for token := range tokens {
		credited := feeBook.TokenTotal(token)
		received, ok := feeHolderIn[token]
		if !ok {
			received = new(big.Int)
		}
		if credited.Cmp(received) != 0 {
			return fmt.Errorf("fee holder received %s of %s but accounts were credited %s",
				received, token.Hex(), credited)
		}
	}

	// Burn match: recompute the expected burn independently and compare
	// against the zero-address fee accounts.
	expectedBurn, err := e.expectedBurn(ctx, rings)
	if err != nil {
		return err
	}
	burnTokens := make(map[common.Address]bool)
	for token := range expectedBurn {
		burnTokens[token] = true
	}
	for token := range feeBook.Tokens() {
		burnTokens[token] = true
	}
	for token := range burnTokens {
		want, ok := expectedBurn[token]
		if !ok {
			want = new(big.Int)
		}
		got := feeBook.Get(types.ZeroAddress, token, types.ZeroAddress)
		if got.Cmp(want) != 0 {
			return fmt.Errorf("burned %s of %s, expected %s", got, token.Hex(), want)
		}
	}

	return nil
}

// expectedBurn replays the burn part of the fee distribution over every
// surviving ring.
func (e *Engine) expectedBurn(ctx context.Context, rings []*ring.Ring) (map[common.Address]*big.Int, error) {
	burned := make(map[common.Address]*big.Int)
	add := func(token common.Address, amount *big.Int) {
		if amount.Sign() == 0 {
			return
		}
		cur, ok := burned[token]
		if !ok {
			cur = new(big.Int)
			burned[token] = cur
		}
		cur.Add(cur, amount)
	}

	for _, r := range rings {
		if !r.Valid {
			continue
		}
		for _, p := range r.Participations {
			o := p.Order
			for _, fee := range []struct {
				token  common.Address
				amount *big.Int
			}{
				{o.FeeToken, p.FeeAmount},
				{o.TokenS, p.FeeAmountS},
				{o.TokenB, p.FeeAmountB},
			} {
				if fee.amount.Sign() == 0 {
					continue
				}
				if o.P2P && !o.HasWallet() {
					continue // fully rebated, nothing burns
				}

				walletSplit := int64(0)
				if o.P2P {
					walletSplit = types.WalletSplitBase
				} else if o.HasWallet() {
					walletSplit = int64(o.WalletSplitPercentage)
				}
				walletFee := bigmath.MulDivInt(fee.amount, walletSplit, types.WalletSplitBase)
				minerFee := new(big.Int).Sub(fee.amount, walletFee)
				if o.WaiveFeePercentage > 0 {
					minerFee = bigmath.MulDivInt(minerFee, int64(types.FeePercentageBase-o.WaiveFeePercentage), types.FeePercentageBase)
				} else if o.WaiveFeePercentage < 0 {
					minerFee = new(big.Int)
				}

				packedRate, err := e.chain.BurnRate(ctx, fee.token)
				if err != nil {
					return nil, fmt.Errorf("burn rate for %s: %w", fee.token.Hex(), err)
				}
				burnRate := int64(packedRate & 0xFFFF)
				if o.P2P {
					burnRate = int64(packedRate >> 16)
				}

				add(fee.token, bigmath.MulDivInt(minerFee, burnRate, types.FeePercentageBase))
				add(fee.token, bigmath.MulDivInt(walletFee, burnRate, types.FeePercentageBase))
			}
		}
	}
	return burned, nil
}
