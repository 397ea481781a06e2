package bloom

import (
	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// Hasher is a deterministic 32-bit hash over an arbitrary byte sequence,
// parameterized by a seed. Implementations must be total (any length,
// including zero) and must decorrelate outputs across seeds, since a layer
// derives all of its probe positions from two seeds applied to the same item.
type Hasher func(data []byte, seed uint32) uint32

// Seeds for the two base hashes of the double-hashing scheme.
const (
	SeedPrimary   uint32 = 0x9747b28c
	SeedSecondary uint32 = 0x5bd1e995
)

// Murmur3 is MurmurHash3 x86_32: 4-byte blocks followed by a tail of up to
// three bytes, then the fmix32 finalizer. It is the default Hasher.
func Murmur3(data []byte, seed uint32) uint32 {
	return murmur3.Sum32WithSeed(data, seed)
}

// XXHash hashes data once with xxHash64 and folds the seed in through the
// SplitMix64 finalizer, then reduces the result to 32 bits. It trades the
// per-seed rehash of Murmur3 for a single pass over long items.
func XXHash(data []byte, seed uint32) uint32 {
	h := mix(xxhash.Sum64(data) ^ uint64(seed)*0x9e3779b97f4a7c15)
	return uint32(h ^ h>>32)
}

// mix scrambles a 64-bit integer to remove correlation using the SplitMix64
// algorithm (public domain).
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// HasherByName resolves the names accepted in configuration files.
func HasherByName(name string) (Hasher, bool) {
	switch name {
	case "", "murmur3":
		return Murmur3, true
	case "xxhash":
		return XXHash, true
	}
	return nil, false
}
