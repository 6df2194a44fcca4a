// Package testutil provides the order builder and the shared addresses used
// across the simulator's tests.
package testutil

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"RingSim/internal/types"
)

// Addr derives a readable deterministic address from a short label.
func Addr(label string) common.Address {
	return common.BytesToAddress([]byte(label))
}

// Common actors and tokens shared by tests.
var (
	FeeHolder    = Addr("fee-holder")
	FeeRecipient = Addr("fee-recipient")
	LRC          = Addr("token-lrc")
)

// OrderSpec is the minimal description of a test order; Build fills in the
// defaults the engine preflight would otherwise require.
type OrderSpec struct {
	Owner     common.Address
	TokenS    common.Address
	TokenB    common.Address
	AmountS   int64
	AmountB   int64
	FeeAmount int64

	FeeToken              common.Address
	WalletAddr            common.Address
	Broker                common.Address
	AllOrNone             bool
	WaiveFeePercentage    int
	WalletSplitPercentage int
	TokenSFeePercentage   int
	TokenBFeePercentage   int

	TokenTypeS types.TokenType
	TokenTypeB types.TokenType
	TrancheS   common.Address
	TrancheB   common.Address
}

// Build materializes the spec with initialized simulation state, valid for
// a batch timestamp of Now.
func (s OrderSpec) Build() *types.Order {
	feeToken := s.FeeToken
	if feeToken == types.ZeroAddress {
		feeToken = LRC
	}
	o := &types.Order{
		Owner:          s.Owner,
		TokenRecipient: s.Owner,
		Broker:         s.Broker,
		WalletAddr:     s.WalletAddr,
		TokenS:         s.TokenS,
		TokenB:         s.TokenB,
		FeeToken:       feeToken,
		AmountS:        big.NewInt(s.AmountS),
		AmountB:        big.NewInt(s.AmountB),
		FeeAmount:      big.NewInt(s.FeeAmount),
		TrancheS:       s.TrancheS,
		TrancheB:       s.TrancheB,
		TokenTypeS:     s.TokenTypeS,
		TokenTypeB:     s.TokenTypeB,
		ValidSince:     1,
		ValidUntil:     Now + 3600,
		AllOrNone:      s.AllOrNone,

		WaiveFeePercentage:    s.WaiveFeePercentage,
		WalletSplitPercentage: s.WalletSplitPercentage,
		TokenSFeePercentage:   s.TokenSFeePercentage,
		TokenBFeePercentage:   s.TokenBFeePercentage,

		Valid:             true,
		FilledAmountS:     new(big.Int),
		TokenSpendableS:   types.NewSpendable(),
		TokenSpendableFee: types.NewSpendable(),
	}
	return o
}

// Now is the batch timestamp tests simulate at.
const Now uint64 = 1_700_000_000
