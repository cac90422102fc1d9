package btree

import "math"

// DefaultMaxOrder is the cap spec §3 names for the dynamic order formula.
const DefaultMaxOrder = 1000

// minOrder is the floor of the clamp(4, cbrt(count), maxOrder) formula.
const minOrder = 4

// Order computes the dynamic max-children-per-node for a tree carrying
// count records (spec §3): clamp(4, cbrt(count), maxOrder). This keeps
// small trees shallow (order stays at the floor until cbrt(count) exceeds
// it) and large trees bounded (order never exceeds maxOrder regardless of
// how large the tree grows).
func Order(count uint64, maxOrder int) int {
	if maxOrder <= 0 {
		maxOrder = DefaultMaxOrder
	}
	o := int(math.Ceil(math.Cbrt(float64(count))))
	if o < minOrder {
		o = minOrder
	}
	if o > maxOrder {
		o = maxOrder
	}
	return o
}

// MinOccupancy is the split/merge threshold ceil(order/2) a leaf or
// interior node must stay at or above outside of the root (spec §4.4).
func MinOccupancy(order int) int {
	return (order + 1) / 2
}
