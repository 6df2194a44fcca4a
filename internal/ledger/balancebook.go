// Package ledger implements the sparse balance accumulator used for fee
// bookkeeping and pre/post settlement snapshots.
package ledger

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceKey identifies one balance bucket. ERC20 balances use the zero
// tranche.
type BalanceKey struct {
	Owner   common.Address
	Token   common.Address
	Tranche common.Address
}

// Entry is one enumerated balance.
type Entry struct {
	Owner   common.Address
	Token   common.Address
	Tranche common.Address
	Amount  *big.Int
}

// BalanceBook is a sparse additive accumulator over (owner, token, tranche)
// triples. Insertion order is not observable; enumeration is sorted by the
// triple so reports are reproducible.
type BalanceBook struct {
	balances map[BalanceKey]*big.Int
}

func NewBalanceBook() *BalanceBook {
	return &BalanceBook{
		balances: make(map[BalanceKey]*big.Int),
	}
}

// Add creates the bucket at zero on absence, then adds delta (which may be
// negative).
func (b *BalanceBook) Add(owner, token, tranche common.Address, delta *big.Int) {
	key := BalanceKey{Owner: owner, Token: token, Tranche: tranche}
	cur, ok := b.balances[key]
	if !ok {
		cur = new(big.Int)
		b.balances[key] = cur
	}
	cur.Add(cur, delta)
}

// Get returns the balance for the triple, zero if absent. The returned
// value is a copy.
func (b *BalanceBook) Get(owner, token, tranche common.Address) *big.Int {
	key := BalanceKey{Owner: owner, Token: token, Tranche: tranche}
	if cur, ok := b.balances[key]; ok {
		return new(big.Int).Set(cur)
	}
	return new(big.Int)
}

// IsKnown reports whether the triple was ever written, including an
// explicit zero.
func (b *BalanceBook) IsKnown(owner, token, tranche common.Address) bool {
	_, ok := b.balances[BalanceKey{Owner: owner, Token: token, Tranche: tranche}]
	return ok
}

// Copy returns a deep clone.
func (b *BalanceBook) Copy() *BalanceBook {
	c := NewBalanceBook()
	for key, amount := range b.balances {
		c.balances[key] = new(big.Int).Set(amount)
	}
	return c
}

// Entries enumerates all balances sorted by (owner, token, tranche).
func (b *BalanceBook) Entries() []Entry {
	keys := make([]BalanceKey, 0, len(b.balances))
	for key := range b.balances {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return compareKeys(keys[i], keys[j]) < 0
	})

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, Entry{
			Owner:   key.Owner,
			Token:   key.Token,
			Tranche: key.Tranche,
			Amount:  new(big.Int).Set(b.balances[key]),
		})
	}
	return entries
}

// Tokens returns the set of tokens present in the book.
func (b *BalanceBook) Tokens() map[common.Address]bool {
	tokens := make(map[common.Address]bool)
	for key := range b.balances {
		tokens[key.Token] = true
	}
	return tokens
}

// TokenTotal sums all balances held in a token across owners and tranches.
func (b *BalanceBook) TokenTotal(token common.Address) *big.Int {
	total := new(big.Int)
	for key, amount := range b.balances {
		if key.Token == token {
			total.Add(total, amount)
		}
	}
	return total
}

func compareKeys(a, b BalanceKey) int {
	if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
		return c
	}
	if c := bytes.Compare(a.Token[:], b.Token[:]); c != 0 {
		return c
	}
	return bytes.Compare(a.Tranche[:], b.Tranche[:])
}
