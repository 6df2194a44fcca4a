// Package math provides the big-integer helpers used by the settlement
// engine. Every division truncates toward zero, matching the consensus
// implementation; percent-and-base computations multiply first and divide
// once afterwards.
package math

import "math/big"

// MulDiv returns (a * b) / d with truncation toward zero.
// The multiplication always happens before the division.
func MulDiv(a, b, d *big.Int) *big.Int {
	n := new(big.Int).Mul(a, b)
	return n.Quo(n, d)
}

// MulDivInt is MulDiv with int64 multiplier and divisor, for percentage
// arithmetic against a fixed base.
func MulDivInt(a *big.Int, b, d int64) *big.Int {
	n := new(big.Int).Mul(a, big.NewInt(b))
	return n.Quo(n, big.NewInt(d))
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns a copy of the larger of a and b.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Clone returns an owned copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// ratDigits is the precision of tolerant ratio comparison: two ratios are
// considered equal when they agree to 8 significant digits.
var ratDigits = big.NewInt(100_000_000)

// RatApproxEqual reports whether n1/d1 == n2/d2 within 8-digit precision.
// Used only in the validation path; settlement arithmetic is bit-exact.
func RatApproxEqual(n1, d1, n2, d2 *big.Int) bool {
	if d1.Sign() == 0 || d2.Sign() == 0 {
		return d1.Sign() == 0 && d2.Sign() == 0 && n1.Cmp(n2) == 0
	}
	lhs := new(big.Int).Mul(n1, d2)
	rhs := new(big.Int).Mul(n2, d1)
	diff := new(big.Int).Sub(lhs, rhs)
	diff.Abs(diff)
	diff.Mul(diff, ratDigits)
	bound := new(big.Int).Abs(lhs)
	return diff.Cmp(bound) <= 0
}
