// Package chain defines the read-only facade over on-chain state consumed
// by the simulator, plus the in-memory snapshot implementation used by the
// CLI, the pre-flight service and tests.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"RingSim/internal/types"
)

// CancelledSentinel is the filled-amount value the trade delegate returns
// for cancelled orders: 2^256 - 1.
var CancelledSentinel = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// FilledQueryWords is the number of 32-byte words packed per order in a
// batchGetFilledAndCheckCancelled query.
const FilledQueryWords = 5

// ERC1400 canSend status codes that allow a transfer.
const (
	CanSendTransferVerified   byte = 0xa0
	CanSendTransferSuccess    byte = 0xa1
	CanSendTransferHold       byte = 0xa2
	CanSendTransferBlocked    byte = 0xa3
	CanSendInsufficientFunds  byte = 0xa4
	CanSendInvalidTranche     byte = 0xa5
)

// CanSendOK reports whether a status code permits the transfer.
func CanSendOK(status byte) bool {
	return status == CanSendTransferVerified ||
		status == CanSendTransferSuccess ||
		status == CanSendTransferHold
}

// CanSendResult is the outcome of an ERC1400 canSend probe. DestTranche is
// the tranche the token will actually credit, which may differ from the
// source tranche.
type CanSendResult struct {
	Status      byte
	Reason      [32]byte
	DestTranche common.Address
}

// ChainView is the narrow read-only interface to chain state. For a given
// snapshot, identical queries must return identical results; the simulator
// treats any error as fatal.
type ChainView interface {
	// BatchGetFilledAndCheckCancelled resolves a packed query of
	// FilledQueryWords words per order into one filled amount per order.
	// Cancelled orders report CancelledSentinel.
	BatchGetFilledAndCheckCancelled(ctx context.Context, query []common.Hash) ([]*big.Int, error)

	// Filled returns the filled amount recorded for an order hash.
	Filled(ctx context.Context, orderHash common.Hash) (*big.Int, error)

	// FeeBalance returns the fee-holder balance of owner in token.
	FeeBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)

	// BurnRate returns the packed burn rate for a token: low 16 bits for
	// normal matching, high 16 bits for P2P.
	BurnRate(ctx context.Context, token common.Address) (uint32, error)

	// BrokerRegistry resolves (interceptor, registered) for a broker
	// acting on behalf of owner.
	BrokerRegistry(ctx context.Context, owner, broker common.Address) (common.Address, bool, error)

	// Balance returns the token balance of owner; for ERC1400 the balance
	// held in the given tranche.
	Balance(ctx context.Context, tokenType types.TokenType, token, tranche, owner common.Address) (*big.Int, error)

	// Allowance returns how much of owner's balance the trade delegate may
	// move.
	Allowance(ctx context.Context, tokenType types.TokenType, token, tranche, owner common.Address) (*big.Int, error)

	// BrokerAllowance returns how much the broker path may move for owner.
	BrokerAllowance(ctx context.Context, tokenType types.TokenType, token, tranche, owner, broker common.Address) (*big.Int, error)

	// CanSend probes an ERC1400 token's transfer restrictions.
	CanSend(ctx context.Context, token, from, to, tranche common.Address, amount *big.Int, data []byte) (CanSendResult, error)
}
