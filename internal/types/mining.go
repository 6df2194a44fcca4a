package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Mining is the miner context of a ring batch. FeeRecipient defaults to the
// transaction origin and Miner defaults to FeeRecipient when unset.
type Mining struct {
	FeeRecipient common.Address
	Miner        common.Address
	Sig          []byte

	Hash common.Hash
}

// NewMining normalizes the optional miner fields from a RingsInput.
func NewMining(input *RingsInput) *Mining {
	feeRecipient := input.FeeRecipient
	if feeRecipient == ZeroAddress {
		feeRecipient = input.TransactionOrigin
	}
	miner := input.Miner
	if miner == ZeroAddress {
		miner = feeRecipient
	}
	return &Mining{
		FeeRecipient: feeRecipient,
		Miner:        miner,
		Sig:          input.Sig,
	}
}

// RingMined is the event emitted for every settled ring.
type RingMined struct {
	RingIndex    *big.Int
	RingHash     string
	FeeRecipient common.Address
	Fills        []Fill
}

// InvalidRingEvent is emitted for rings rejected during simulation.
type InvalidRingEvent struct {
	RingHash common.Hash
}
