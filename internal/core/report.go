// Package core drives batch settlement: order preflight, ring
// construction, the all-or-none fixed point, payments and the global
// post-settlement invariants.
package core

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"RingSim/internal/ledger"
	"RingSim/internal/types"
)

// Report is the full outcome of one simulation: the events, transfers and
// before/after state needed to check an on-chain settlement against the
// oracle.
type Report struct {
	SimulationID uuid.UUID

	Reverted bool

	RingMinedEvents   []types.RingMined
	InvalidRingEvents []types.InvalidRingEvent
	TransferItems     []types.TransferItem

	FeeBalancesBefore *ledger.BalanceBook
	FeeBalancesAfter  *ledger.BalanceBook

	FilledAmountsBefore map[common.Hash]*big.Int
	FilledAmountsAfter  map[common.Hash]*big.Int

	BalancesBefore *ledger.BalanceBook
	BalancesAfter  *ledger.BalanceBook
}

// MergeTransfers collapses transfers sharing a route by summing amounts.
// First-occurrence order is kept so merged output is deterministic.
func MergeTransfers(items []types.TransferItem) []types.TransferItem {
	merged := make([]types.TransferItem, 0, len(items))
	for _, item := range items {
		found := false
		for i := range merged {
			if merged[i].SameRoute(&item) {
				merged[i].Amount = new(big.Int).Add(merged[i].Amount, item.Amount)
				found = true
				break
			}
		}
		if !found {
			copied := item
			copied.Amount = new(big.Int).Set(item.Amount)
			merged = append(merged, copied)
		}
	}
	return merged
}

// Digest computes a canonical SHA-256 over the report. Two simulations of
// identical inputs against the same snapshot must produce identical
// digests; the simulation id is deliberately excluded.
func (r *Report) Digest() [32]byte {
	h := sha256.New()

	var flag byte
	if r.Reverted {
		flag = 1
	}
	h.Write([]byte{flag})

	for _, evt := range r.RingMinedEvents {
		h.Write(common.BigToHash(evt.RingIndex).Bytes())
		h.Write([]byte(evt.RingHash))
		h.Write(evt.FeeRecipient.Bytes())
		for _, fill := range evt.Fills {
			h.Write(fill.OrderHash.Bytes())
			h.Write(fill.Owner.Bytes())
			h.Write(fill.TokenS.Bytes())
			h.Write(common.BigToHash(fill.AmountS).Bytes())
			h.Write(common.BigToHash(fill.Split).Bytes())
			h.Write(common.BigToHash(fill.FeeAmount).Bytes())
		}
	}
	for _, evt := range r.InvalidRingEvents {
		h.Write(evt.RingHash.Bytes())
	}
	for _, item := range r.TransferItems {
		h.Write(item.Token.Bytes())
		h.Write(item.From.Bytes())
		h.Write(item.To.Bytes())
		h.Write(common.BigToHash(item.Amount).Bytes())
		h.Write([]byte{byte(item.TokenType)})
		h.Write(item.FromTranche.Bytes())
		h.Write(item.ToTranche.Bytes())
		h.Write(item.Data)
	}

	writeBook(h, r.FeeBalancesBefore)
	writeBook(h, r.FeeBalancesAfter)
	writeBook(h, r.BalancesBefore)
	writeBook(h, r.BalancesAfter)
	writeFilled(h, r.FilledAmountsBefore)
	writeFilled(h, r.FilledAmountsAfter)

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

func writeBook(h interface{ Write([]byte) (int, error) }, book *ledger.BalanceBook) {
	if book == nil {
		return
	}
	entries := book.Entries()
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(entries)))
	h.Write(n[:])
	for _, e := range entries {
		h.Write(e.Owner.Bytes())
		h.Write(e.Token.Bytes())
		h.Write(e.Tranche.Bytes())
		h.Write(common.BigToHash(new(big.Int).Abs(e.Amount)).Bytes())
		if e.Amount.Sign() < 0 {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
}

func writeFilled(h interface{ Write([]byte) (int, error) }, filled map[common.Hash]*big.Int) {
	hashes := make([]common.Hash, 0, len(filled))
	for hash := range filled {
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i].Hex() < hashes[j].Hex()
	})
	for _, hash := range hashes {
		h.Write(hash.Bytes())
		h.Write(common.BigToHash(filled[hash]).Bytes())
	}
}
