// Package types holds the value types shared by the settlement simulator:
// orders, spendables, transfers and the protocol constants governing
// percentage arithmetic and ring geometry.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FeePercentageBase is the denominator for all percentage arithmetic.
// Percentage fields are expressed in tenths of a percent.
const FeePercentageBase = 1000

// WalletSplitBase is the denominator for walletSplitPercentage.
const WalletSplitBase = 100

// Ring size bounds.
const (
	RingMinSize = 2
	RingMaxSize = 8
)

// ZeroAddress is the canonical "no tranche / default" marker.
var ZeroAddress = common.Address{}

// TokenType discriminates the transfer semantics of a token.
type TokenType int32

const (
	// TokenTypeERC20 is fungible and ignores tranches.
	TokenTypeERC20 TokenType = iota
	// TokenTypeERC1400 is partitioned: every balance lives in a named
	// tranche and transfers may be redirected to a different destination
	// tranche by the token's canSend check.
	TokenTypeERC1400
)

func (t TokenType) String() string {
	switch t {
	case TokenTypeERC20:
		return "ERC20"
	case TokenTypeERC1400:
		return "ERC1400"
	default:
		return "UNKNOWN"
	}
}

// Spendable caches how much of a token an owner can move via a given path.
// Amount minus Reserved is the live budget; InitialAmount freezes the
// starting value for invariant checks.
type Spendable struct {
	Initialized   bool
	Amount        *big.Int
	Reserved      *big.Int
	InitialAmount *big.Int
}

func NewSpendable() *Spendable {
	return &Spendable{
		Amount:        new(big.Int),
		Reserved:      new(big.Int),
		InitialAmount: new(big.Int),
	}
}

// Available returns Amount - Reserved.
func (s *Spendable) Available() *big.Int {
	return new(big.Int).Sub(s.Amount, s.Reserved)
}

// Order is a single signed sell order as submitted by a miner inside a
// ring batch. The trailing mutable block is simulation state owned by the
// engine, not part of the signed payload.
type Order struct {
	Owner             common.Address
	TokenRecipient    common.Address
	Broker            common.Address
	BrokerInterceptor common.Address
	WalletAddr        common.Address
	DualAuthAddr      common.Address

	TokenS   common.Address
	TokenB   common.Address
	FeeToken common.Address

	AmountS   *big.Int
	AmountB   *big.Int
	FeeAmount *big.Int

	TrancheS   common.Address
	TrancheB   common.Address
	TrancheFee common.Address

	TokenTypeS   TokenType
	TokenTypeB   TokenType
	TokenTypeFee TokenType

	// Opaque bytes handed to ERC1400 canSend for the tokenS leg.
	TransferDataS []byte

	ValidSince uint64
	ValidUntil uint64

	AllOrNone bool

	FeePercentage         int
	TokenSFeePercentage   int
	TokenBFeePercentage   int
	WalletSplitPercentage int
	WaiveFeePercentage    int // signed: negative makes the order a fee recipient

	Sig         []byte
	DualAuthSig []byte

	// --- mutable simulation state ---

	Hash  common.Hash
	P2P   bool
	Valid bool

	FilledAmountS *big.Int

	TokenSpendableS   *Spendable
	TokenSpendableFee *Spendable
	// Broker spendables are shared between orders with the same
	// (broker, owner, token) triple so reservations interact.
	BrokerSpendableS   *Spendable
	BrokerSpendableFee *Spendable
}

// HasBroker reports whether the order trades through a broker.
func (o *Order) HasBroker() bool {
	return o.Broker != ZeroAddress
}

// HasWallet reports whether a wallet address takes a fee split.
func (o *Order) HasWallet() bool {
	return o.WalletAddr != ZeroAddress
}

// SellsSecurityToken reports whether tokenS is a partitioned token.
func (o *Order) SellsSecurityToken() bool {
	return o.TokenTypeS == TokenTypeERC1400
}

// RingsInput is the deserialized miner submission: the order pool, rings as
// index lists into that pool, and the mining context.
type RingsInput struct {
	Orders            []*Order
	Rings             [][]int
	FeeRecipient      common.Address
	Miner             common.Address
	Sig               []byte
	TransactionOrigin common.Address

	// Timestamp is the "now" used for validity windows. The core never
	// reads the wall clock.
	Timestamp uint64
}

// TransferItem is one emitted token movement.
type TransferItem struct {
	Token       common.Address
	From        common.Address
	To          common.Address
	Amount      *big.Int
	TokenType   TokenType
	FromTranche common.Address
	ToTranche   common.Address
	Data        []byte
}

// SameRoute reports whether two transfers can be merged by summing amounts.
// The destination tranche is derived from the canSend probe at each call
// site and is therefore part of the route identity only through the other
// fields; merging keys on (token, from, to, tokenType, fromTranche, data).
func (t *TransferItem) SameRoute(u *TransferItem) bool {
	return t.Token == u.Token &&
		t.From == u.From &&
		t.To == u.To &&
		t.TokenType == u.TokenType &&
		t.FromTranche == u.FromTranche &&
		string(t.Data) == string(u.Data)
}

// Fill is the per-order line of a RingMined event.
type Fill struct {
	OrderHash common.Hash
	Owner     common.Address
	TokenS    common.Address
	AmountS   *big.Int
	Split     *big.Int
	FeeAmount *big.Int
}
