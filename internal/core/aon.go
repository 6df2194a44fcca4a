package core

import (
	"RingSim/internal/order"
	"RingSim/internal/ring"
	"RingSim/internal/types"
)

// ResolveAllOrNone iterates order invalidation to a fixed point: an
// all-or-none order that is not completely filled across the whole batch
// invalidates its rings, whose reverts can in turn un-fill other
// all-or-none orders. Each pass strictly shrinks the valid order set, so
// the loop terminates in at most len(orders) iterations.
func ResolveAllOrNone(validator *order.Validator, orders []*types.Order, rings []*ring.Ring) {
	for {
		changed := false
		for _, o := range orders {
			if !o.Valid || !o.AllOrNone {
				continue
			}
			validator.ValidateAllOrNone(o)
			if !o.Valid {
				changed = true
			}
		}
		if !changed {
			return
		}

		for _, r := range rings {
			prevValid := r.Valid
			r.CheckOrdersValid()
			if prevValid && !r.Valid {
				r.RevertOrderStats()
			}
		}
	}
}
