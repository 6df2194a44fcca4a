package ring_test

import (
	"math/big"
	"testing"

	"RingSim/internal/chain"
	"RingSim/internal/testutil"
	"RingSim/internal/types"
)

// ============================================================================
// Fee affordability paths in setMaxFillAmounts / calculateFees
// ============================================================================

func TestRing_FeeClampedBySpendableFee(t *testing.T) {
	snap := chain.NewSnapshot()
	a := testutil.OrderSpec{
		Owner: testutil.Addr("alice"), TokenS: testutil.Addr("tkn-x"), TokenB: testutil.Addr("tkn-y"),
		AmountS: 1000, AmountB: 1000, FeeAmount: 100,
	}.Build()
	b := testutil.OrderSpec{
		Owner: testutil.Addr("bob"), TokenS: testutil.Addr("tkn-y"), TokenB: testutil.Addr("tkn-x"),
		AmountS: 1000, AmountB: 1000,
	}.Build()
	snap.Fund(a.TokenS, types.ZeroAddress, a.Owner, big.NewInt(1000))
	snap.Fund(b.TokenS, types.ZeroAddress, b.Owner, big.NewInt(1000))
	// Alice can only afford half the fee, so only half the order fills.
	snap.Fund(testutil.LRC, types.ZeroAddress, a.Owner, big.NewInt(50))

	v := prepare(t, snap, a, b)
	r := buildRing(snap, v, a, b)
	computeRing(t, r)
	if !r.Valid {
		t.Fatal("ring should be valid")
	}

	pa := r.Participations[0]
	if pa.FillAmountS.Int64() != 500 {
		t.Errorf("fillAmountS: got %s, want 500", pa.FillAmountS)
	}
	if pa.FeeAmount.Int64() != 50 {
		t.Errorf("feeAmount: got %s, want 50", pa.FeeAmount)
	}

	settle(t, r)
}

func TestRing_FeePaidFromBoughtAmount(t *testing.T) {
	snap := chain.NewSnapshot()
	tokenY := testutil.Addr("tkn-y")
	a := testutil.OrderSpec{
		Owner: testutil.Addr("alice"), TokenS: testutil.Addr("tkn-x"), TokenB: tokenY,
		AmountS: 1000, AmountB: 1000, FeeAmount: 50, FeeToken: tokenY,
	}.Build()
	b := testutil.OrderSpec{
		Owner: testutil.Addr("bob"), TokenS: tokenY, TokenB: testutil.Addr("tkn-x"),
		AmountS: 1000, AmountB: 1000,
	}.Build()
	snap.Fund(a.TokenS, types.ZeroAddress, a.Owner, big.NewInt(1000))
	snap.Fund(b.TokenS, types.ZeroAddress, b.Owner, big.NewInt(1000))
	// Alice holds no tkn-y at all: the fee must come out of the bought
	// amount.

	v := prepare(t, snap, a, b)
	r := buildRing(snap, v, a, b)
	computeRing(t, r)
	if !r.Valid {
		t.Fatal("ring should be valid")
	}

	pa := r.Participations[0]
	if pa.FillAmountS.Int64() != 1000 {
		t.Errorf("fillAmountS: got %s, want full 1000", pa.FillAmountS)
	}
	if pa.FeeAmount.Sign() != 0 {
		t.Errorf("feeAmount should be folded into feeAmountB, got %s", pa.FeeAmount)
	}
	if pa.FeeAmountB.Int64() != 50 {
		t.Errorf("feeAmountB: got %s, want 50", pa.FeeAmountB)
	}

	transfers := settle(t, r)
	// Bob delivers 950 to alice and 50 to the fee holder.
	if tr := findTransfer(transfers, "bob", "alice", "tkn-y"); tr == nil || tr.Amount.Int64() != 950 {
		t.Error("missing bob->alice 950 tkn-y")
	}
	if tr := findTransfer(transfers, "bob", "fee-holder", "tkn-y"); tr == nil || tr.Amount.Int64() != 50 {
		t.Error("missing bob->feeHolder 50 tkn-y")
	}
}

func TestRing_FeeExclusivityOutsideP2P(t *testing.T) {
	snap := chain.NewSnapshot()
	a := testutil.OrderSpec{
		Owner: testutil.Addr("alice"), TokenS: testutil.Addr("tkn-x"), TokenB: testutil.Addr("tkn-y"),
		AmountS: 1000, AmountB: 1000, FeeAmount: 40,
	}.Build()
	b := testutil.OrderSpec{
		Owner: testutil.Addr("bob"), TokenS: testutil.Addr("tkn-y"), TokenB: testutil.Addr("tkn-x"),
		AmountS: 1000, AmountB: 1000,
	}.Build()
	snap.Fund(a.TokenS, types.ZeroAddress, a.Owner, big.NewInt(1000))
	snap.Fund(b.TokenS, types.ZeroAddress, b.Owner, big.NewInt(1000))
	snap.Fund(testutil.LRC, types.ZeroAddress, a.Owner, big.NewInt(40))

	v := prepare(t, snap, a, b)
	r := buildRing(snap, v, a, b)
	computeRing(t, r)
	if !r.Valid {
		t.Fatal("ring should be valid")
	}

	pa := r.Participations[0]
	if pa.FeeAmountS.Sign() != 0 {
		t.Error("non-P2P order must not pay a tokenS fee")
	}
	if pa.FeeAmount.Sign() != 0 && pa.FeeAmountB.Sign() != 0 {
		t.Error("fee must not be paid in both feeToken and tokenB")
	}
	if pa.FeeAmount.Int64() != 40 {
		t.Errorf("feeAmount: got %s, want 40", pa.FeeAmount)
	}

	settle(t, r)
}

// ============================================================================
// Burn rates
// ============================================================================

func TestRing_BurnRateSplitsFee(t *testing.T) {
	snap := chain.NewSnapshot()
	a := testutil.OrderSpec{
		Owner: testutil.Addr("alice"), TokenS: testutil.Addr("tkn-x"), TokenB: testutil.Addr("tkn-y"),
		AmountS: 1000, AmountB: 1000, FeeAmount: 100,
	}.Build()
	b := testutil.OrderSpec{
		Owner: testutil.Addr("bob"), TokenS: testutil.Addr("tkn-y"), TokenB: testutil.Addr("tkn-x"),
		AmountS: 1000, AmountB: 1000,
	}.Build()
	snap.Fund(a.TokenS, types.ZeroAddress, a.Owner, big.NewInt(1000))
	snap.Fund(b.TokenS, types.ZeroAddress, b.Owner, big.NewInt(1000))
	snap.Fund(testutil.LRC, types.ZeroAddress, a.Owner, big.NewInt(100))
	// 20% burn for normal matching in the low 16 bits.
	snap.SetBurnRate(testutil.LRC, 200)

	v := prepare(t, snap, a, b)
	r := buildRing(snap, v, a, b)
	computeRing(t, r)
	if !r.Valid {
		t.Fatal("ring should be valid")
	}
	settle(t, r)

	// 100 fee: 20 burned, 80 to the miner.
	if got := r.FeeBalances.Get(types.ZeroAddress, testutil.LRC, types.ZeroAddress); got.Int64() != 20 {
		t.Errorf("burned: got %s, want 20", got)
	}
	if got := r.FeeBalances.Get(testutil.FeeRecipient, testutil.LRC, types.ZeroAddress); got.Int64() != 80 {
		t.Errorf("miner: got %s, want 80", got)
	}
}
