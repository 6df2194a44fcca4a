package core_test

import (
	"context"
	"math/big"
	"testing"

	"RingSim/internal/chain"
	"RingSim/internal/core"
	"RingSim/internal/order"
	"RingSim/internal/testutil"
	"RingSim/internal/types"
)

func newEngine() *core.Engine {
	return core.NewEngine(chain.KeccakHasher{}, chain.EcdsaVerifier{}, testutil.FeeHolder)
}

func newInput(orders []*types.Order, rings [][]int) *types.RingsInput {
	return &types.RingsInput{
		Orders:            orders,
		Rings:             rings,
		FeeRecipient:      testutil.FeeRecipient,
		Miner:             testutil.FeeRecipient,
		TransactionOrigin: testutil.FeeRecipient,
		Timestamp:         testutil.Now,
	}
}

// twoRingBatch builds the all-or-none cascade scenario: ring 0 holds an
// AON order that can only partially fill, ring 1 is independent and sound.
func twoRingBatch() (*chain.Snapshot, *types.RingsInput) {
	snap := chain.NewSnapshot()

	o1 := testutil.OrderSpec{
		Owner: testutil.Addr("olivia"), TokenS: testutil.Addr("tkn-x"), TokenB: testutil.Addr("tkn-y"),
		AmountS: 1000, AmountB: 1000, AllOrNone: true,
	}.Build()
	o2 := testutil.OrderSpec{
		Owner: testutil.Addr("oscar"), TokenS: testutil.Addr("tkn-y"), TokenB: testutil.Addr("tkn-x"),
		AmountS: 1000, AmountB: 1000,
	}.Build()
	o3 := testutil.OrderSpec{
		Owner: testutil.Addr("peggy"), TokenS: testutil.Addr("tkn-p"), TokenB: testutil.Addr("tkn-q"),
		AmountS: 500, AmountB: 500,
	}.Build()
	o4 := testutil.OrderSpec{
		Owner: testutil.Addr("quentin"), TokenS: testutil.Addr("tkn-q"), TokenB: testutil.Addr("tkn-p"),
		AmountS: 500, AmountB: 500,
	}.Build()

	snap.Fund(o1.TokenS, types.ZeroAddress, o1.Owner, big.NewInt(1000))
	// Oscar can only deliver half of what the AON order needs.
	snap.Fund(o2.TokenS, types.ZeroAddress, o2.Owner, big.NewInt(500))
	snap.Fund(o3.TokenS, types.ZeroAddress, o3.Owner, big.NewInt(500))
	snap.Fund(o4.TokenS, types.ZeroAddress, o4.Owner, big.NewInt(500))

	return snap, newInput([]*types.Order{o1, o2, o3, o4}, [][]int{{0, 1}, {2, 3}})
}

// ============================================================================
// Scenario: all-or-none cascade with revert
// ============================================================================

func TestSimulate_AllOrNoneCascade(t *testing.T) {
	snap, input := twoRingBatch()

	report, err := newEngine().Simulate(context.Background(), input, snap)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if report.Reverted {
		t.Fatal("simulation should not revert")
	}

	if len(report.RingMinedEvents) != 1 {
		t.Fatalf("got %d mined rings, want 1", len(report.RingMinedEvents))
	}
	if len(report.InvalidRingEvents) != 1 {
		t.Fatalf("got %d invalid rings, want 1", len(report.InvalidRingEvents))
	}

	// The AON order's fill was reverted to its pre-simulation value.
	o1 := input.Orders[0]
	if after := report.FilledAmountsAfter[o1.Hash]; after.Sign() != 0 {
		t.Errorf("AON order filled after revert: got %s, want 0", after)
	}

	// Only ring 1's tokens move.
	for _, item := range report.TransferItems {
		if item.Token == testutil.Addr("tkn-x") || item.Token == testutil.Addr("tkn-y") {
			t.Errorf("invalidated ring emitted a transfer of %s", item.Token.Hex())
		}
	}
	if len(report.TransferItems) != 2 {
		t.Errorf("got %d transfers, want 2", len(report.TransferItems))
	}
}

// ============================================================================
// Cancellation sentinel
// ============================================================================

func TestSimulate_CancelledOrderInvalidatesRing(t *testing.T) {
	snap := chain.NewSnapshot()
	a := testutil.OrderSpec{Owner: testutil.Addr("alice"), TokenS: testutil.Addr("tkn-x"), TokenB: testutil.Addr("tkn-y"), AmountS: 1000, AmountB: 1000}.Build()
	b := testutil.OrderSpec{Owner: testutil.Addr("bob"), TokenS: testutil.Addr("tkn-y"), TokenB: testutil.Addr("tkn-x"), AmountS: 1000, AmountB: 1000}.Build()
	snap.Fund(a.TokenS, types.ZeroAddress, a.Owner, big.NewInt(1000))
	snap.Fund(b.TokenS, types.ZeroAddress, b.Owner, big.NewInt(1000))

	// Cancel alice's order on chain. The hash must match the one the
	// engine computes during preflight.
	v := order.NewValidator(snap, chain.KeccakHasher{}, chain.EcdsaVerifier{}, testutil.Now)
	snap.SetCancelled(v.ComputeHash(a))

	report, err := newEngine().Simulate(context.Background(), newInput([]*types.Order{a, b}, [][]int{{0, 1}}), snap)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(report.RingMinedEvents) != 0 {
		t.Error("cancelled order should sink its ring")
	}
	if len(report.InvalidRingEvents) != 1 {
		t.Errorf("got %d invalid ring events, want 1", len(report.InvalidRingEvents))
	}
	if len(report.TransferItems) != 0 {
		t.Error("no transfers expected")
	}
}

func TestSimulate_PriorFillReducesRemaining(t *testing.T) {
	snap := chain.NewSnapshot()
	a := testutil.OrderSpec{Owner: testutil.Addr("alice"), TokenS: testutil.Addr("tkn-x"), TokenB: testutil.Addr("tkn-y"), AmountS: 1000, AmountB: 1000}.Build()
	b := testutil.OrderSpec{Owner: testutil.Addr("bob"), TokenS: testutil.Addr("tkn-y"), TokenB: testutil.Addr("tkn-x"), AmountS: 1000, AmountB: 1000}.Build()
	snap.Fund(a.TokenS, types.ZeroAddress, a.Owner, big.NewInt(1000))
	snap.Fund(b.TokenS, types.ZeroAddress, b.Owner, big.NewInt(1000))

	v := order.NewValidator(snap, chain.KeccakHasher{}, chain.EcdsaVerifier{}, testutil.Now)
	snap.SetFilled(v.ComputeHash(a), big.NewInt(400))

	report, err := newEngine().Simulate(context.Background(), newInput([]*types.Order{a, b}, [][]int{{0, 1}}), snap)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(report.RingMinedEvents) != 1 {
		t.Fatal("ring should settle the remainder")
	}
	fill := report.RingMinedEvents[0].Fills[0]
	if fill.AmountS.Int64() != 600 {
		t.Errorf("fill: got %s, want the 600 remainder", fill.AmountS)
	}
	if after := report.FilledAmountsAfter[a.Hash]; after.Int64() != 1000 {
		t.Errorf("filled after: got %s, want 1000", after)
	}
}

// ============================================================================
// Miner signature
// ============================================================================

func TestSimulate_MinerSignatureMismatchIsFatal(t *testing.T) {
	snap, input := twoRingBatch()
	input.Miner = testutil.Addr("miner")
	input.FeeRecipient = testutil.Addr("miner")
	input.TransactionOrigin = testutil.Addr("mallory")

	report, err := newEngine().Simulate(context.Background(), input, snap)
	if err != core.ErrInvalidMinerSignature {
		t.Fatalf("got err %v, want ErrInvalidMinerSignature", err)
	}
	if report == nil || !report.Reverted {
		t.Error("fatal failure should produce a reverted report")
	}
}

// ============================================================================
// Corrupt input
// ============================================================================

func TestSimulate_OutOfRangeRingIndexIsFatal(t *testing.T) {
	snap, input := twoRingBatch()
	input.Rings = [][]int{{0, 7}}

	_, err := newEngine().Simulate(context.Background(), input, snap)
	if err == nil {
		t.Fatal("out-of-range ring index should be fatal")
	}
}

// ============================================================================
// Determinism
// ============================================================================

func TestSimulate_Deterministic(t *testing.T) {
	snap1, input1 := twoRingBatch()
	snap2, input2 := twoRingBatch()

	report1, err := newEngine().Simulate(context.Background(), input1, snap1)
	if err != nil {
		t.Fatalf("simulate 1: %v", err)
	}
	report2, err := newEngine().Simulate(context.Background(), input2, snap2)
	if err != nil {
		t.Fatalf("simulate 2: %v", err)
	}

	if report1.Digest() != report2.Digest() {
		t.Error("identical inputs must produce byte-identical reports")
	}
}

// ============================================================================
// Broker spendable de-duplication
// ============================================================================

func TestSimulate_BrokerSpendablesShared(t *testing.T) {
	snap := chain.NewSnapshot()
	owner := testutil.Addr("alice")
	broker := testutil.Addr("broker-1")
	snap.RegisterBroker(owner, broker, testutil.Addr("interceptor"))

	a := testutil.OrderSpec{Owner: owner, Broker: broker, TokenS: testutil.Addr("tkn-x"), TokenB: testutil.Addr("tkn-y"), AmountS: 10, AmountB: 10}.Build()
	b := testutil.OrderSpec{Owner: owner, Broker: broker, TokenS: testutil.Addr("tkn-x"), TokenB: testutil.Addr("tkn-z"), AmountS: 10, AmountB: 10}.Build()

	_, err := newEngine().Simulate(context.Background(), newInput([]*types.Order{a, b}, nil), snap)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	if a.BrokerSpendableS != b.BrokerSpendableS {
		t.Error("orders sharing (broker, owner, tokenS) must share one spendable")
	}
	if a.BrokerSpendableFee != b.BrokerSpendableFee {
		t.Error("orders sharing (broker, owner, feeToken) must share one spendable")
	}
}

// ============================================================================
// Transfer merging
// ============================================================================

func TestMergeTransfers(t *testing.T) {
	route := func(amount int64) types.TransferItem {
		return types.TransferItem{
			Token:  testutil.Addr("tkn-x"),
			From:   testutil.Addr("alice"),
			To:     testutil.Addr("bob"),
			Amount: big.NewInt(amount),
		}
	}
	other := types.TransferItem{
		Token:  testutil.Addr("tkn-x"),
		From:   testutil.Addr("alice"),
		To:     testutil.Addr("carol"),
		Amount: big.NewInt(7),
	}

	merged := core.MergeTransfers([]types.TransferItem{route(5), other, route(11)})
	if len(merged) != 2 {
		t.Fatalf("got %d items, want 2", len(merged))
	}
	if merged[0].Amount.Int64() != 16 {
		t.Errorf("merged amount: got %s, want 16", merged[0].Amount)
	}

	// Merging is insensitive to how the list is split.
	first := core.MergeTransfers([]types.TransferItem{route(5), other})
	again := core.MergeTransfers(append(first, route(11)))
	if len(again) != 2 || again[0].Amount.Int64() != 16 {
		t.Error("merging in stages must agree with merging at once")
	}
}

func TestMergeTransfers_DataIsPartOfRoute(t *testing.T) {
	a := types.TransferItem{Token: testutil.Addr("tkn-x"), From: testutil.Addr("alice"), To: testutil.Addr("bob"), Amount: big.NewInt(1), Data: []byte{1}}
	b := types.TransferItem{Token: testutil.Addr("tkn-x"), From: testutil.Addr("alice"), To: testutil.Addr("bob"), Amount: big.NewInt(2), Data: []byte{2}}

	if merged := core.MergeTransfers([]types.TransferItem{a, b}); len(merged) != 2 {
		t.Error("different payloads must not merge")
	}
}

// ============================================================================
// Balance bookkeeping
// ============================================================================

func TestSimulate_BalanceSnapshots(t *testing.T) {
	snap, input := twoRingBatch()

	report, err := newEngine().Simulate(context.Background(), input, snap)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	// Peggy's tkn-p: 500 before, 0 after (fully sold into ring 1).
	peggy := testutil.Addr("peggy")
	tokenP := testutil.Addr("tkn-p")
	if got := report.BalancesBefore.Get(peggy, tokenP, types.ZeroAddress); got.Int64() != 500 {
		t.Errorf("before: got %s, want 500", got)
	}
	if got := report.BalancesAfter.Get(peggy, tokenP, types.ZeroAddress); got.Sign() != 0 {
		t.Errorf("after: got %s, want 0", got)
	}

	// Quentin received it.
	if got := report.BalancesAfter.Get(testutil.Addr("quentin"), tokenP, types.ZeroAddress); got.Int64() != 500 {
		t.Errorf("counterparty after: got %s, want 500", got)
	}

	for _, entry := range report.BalancesAfter.Entries() {
		if entry.Amount.Sign() < 0 {
			t.Errorf("negative post-settlement balance for %s", entry.Owner.Hex())
		}
	}
}
