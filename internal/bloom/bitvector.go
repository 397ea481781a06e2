package bloom

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// BitVector is a fixed-size array of bits addressed 0..Len()-1. It is owned
// by exactly one Layer and never resized after construction.
type BitVector struct {
	set *bitset.BitSet
	n   uint64
}

// NewBitVector allocates a zeroed vector of n bits.
func NewBitVector(n uint64) *BitVector {
	return &BitVector{set: bitset.New(uint(n)), n: n}
}

// Len returns the number of addressable bits.
func (v *BitVector) Len() uint64 {
	return v.n
}

// SizeBytes returns ceil(Len()/8), the byte footprint of the bit array.
func (v *BitVector) SizeBytes() uint64 {
	return (v.n + 7) / 8
}

// Set turns bit pos on. It is idempotent.
//
// The underlying bitset grows on out-of-range writes, which would silently
// break the fixed-size invariant, so out-of-range positions panic instead.
func (v *BitVector) Set(pos uint64) {
	v.check(pos)
	v.set.Set(uint(pos))
}

// Get reports whether bit pos is on.
func (v *BitVector) Get(pos uint64) bool {
	v.check(pos)
	return v.set.Test(uint(pos))
}

// PopCount returns the number of bits currently on.
func (v *BitVector) PopCount() uint64 {
	return uint64(v.set.Count())
}

// ClearAll turns every bit off.
func (v *BitVector) ClearAll() {
	v.set.ClearAll()
}

// Clone returns an independent copy backed by a new buffer.
func (v *BitVector) Clone() *BitVector {
	return &BitVector{set: v.set.Clone(), n: v.n}
}

// union ORs other into v. Both vectors must have the same length.
func (v *BitVector) union(other *BitVector) {
	v.set.InPlaceUnion(other.set)
}

func (v *BitVector) check(pos uint64) {
	if pos >= v.n {
		panic(fmt.Sprintf("bloom: bit position %d out of range [0, %d)", pos, v.n))
	}
}
