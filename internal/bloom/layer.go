package bloom

import (
	"fmt"
	"math"
)

// Layer is one fixed-capacity Bloom filter. A ScalableFilter chains layers;
// used on its own a Layer is the classic single-array filter.
type Layer struct {
	bits      *BitVector
	capacity  uint64
	count     uint64
	hashCount uint32
	errorRate float64
	hash      Hasher
}

// derivedBits is the optimal bit count m = -(n * ln(p)) / (ln(2)^2).
func derivedBits(n uint64, p float64) float64 {
	return -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
}

// EstimateParameters returns the bit count and hash count of a layer sized
// for n items at false positive rate p. The bit count is floored at
// MinLayerBits and the hash count is clamped to [MinHashCount, MaxHashCount].
// n must be positive and p must lie in (0, 1).
func EstimateParameters(n uint64, p float64) (uint64, uint32) {
	m := derivedBits(n, p)

	bitCount := uint64(math.Ceil(m))
	if bitCount < MinLayerBits {
		bitCount = MinLayerBits
	}

	k := math.Round(m / float64(n) * math.Ln2)
	k = math.Max(MinHashCount, math.Min(MaxHashCount, k))

	return bitCount, uint32(k)
}

// NewLayer allocates a zeroed layer sized for capacity items at errorRate.
// A nil hasher selects Murmur3.
func NewLayer(capacity uint64, errorRate float64, hasher Hasher) (*Layer, error) {
	if capacity == 0 {
		return nil, &ConfigError{Field: "capacity", Value: capacity, Reason: "must be positive"}
	}
	if !(errorRate > 0 && errorRate < 1) {
		return nil, &ConfigError{Field: "error_rate", Value: errorRate, Reason: "must be in the open interval (0, 1)"}
	}
	if capacity > MaxLayerCapacity {
		return nil, fmt.Errorf("%w: capacity %d exceeds %d", ErrAllocation, capacity, uint64(MaxLayerCapacity))
	}
	if m := derivedBits(capacity, errorRate); m > MaxLayerBits {
		return nil, fmt.Errorf("%w: %.0f bits exceeds %d", ErrAllocation, m, uint64(MaxLayerBits))
	}

	if hasher == nil {
		hasher = Murmur3
	}

	bitCount, hashCount := EstimateParameters(capacity, errorRate)

	return &Layer{
		bits:      NewBitVector(bitCount),
		capacity:  capacity,
		hashCount: hashCount,
		errorRate: errorRate,
		hash:      hasher,
	}, nil
}

// probes returns the two base hashes of item, widened so that h1 + i*h2
// never wraps before the modulo.
func (l *Layer) probes(item []byte) (uint64, uint64) {
	return uint64(l.hash(item, SeedPrimary)), uint64(l.hash(item, SeedSecondary))
}

// Add sets the hashCount probe bits of item and increments the inserted
// count. The count always increments, even past capacity: capacity only
// tells the owning chain when to grow.
func (l *Layer) Add(item []byte) {
	//
	// DESIGN
	// ------
	//
	// Kirsch-Mitzenmacher double hashing ("Less hashing, same performance:
	// Building a better Bloom filter"): two base hashes h1, h2 simulate k
	// independent hash functions as g_i(x) = (h1 + i*h2) mod m. The sum is
	// computed on 64 bits; with 32-bit inputs and k <= 20 it cannot overflow.
	//
	h1, h2 := l.probes(item)
	m := l.bits.Len()

	for i := uint64(0); i < uint64(l.hashCount); i++ {
		l.bits.Set((h1 + i*h2) % m)
	}

	l.count++
}

// Check reports whether item is possibly present. It returns false on the
// first probe bit that is not set.
func (l *Layer) Check(item []byte) bool {
	h1, h2 := l.probes(item)
	m := l.bits.Len()

	for i := uint64(0); i < uint64(l.hashCount); i++ {
		if !l.bits.Get((h1 + i*h2) % m) {
			return false
		}
	}

	return true
}

// IsFull reports whether the layer has received at least capacity items.
func (l *Layer) IsFull() bool {
	return l.count >= l.capacity
}

func (l *Layer) Capacity() uint64         { return l.capacity }
func (l *Layer) Count() uint64            { return l.count }
func (l *Layer) HashCount() uint32        { return l.hashCount }
func (l *Layer) BitCount() uint64         { return l.bits.Len() }
func (l *Layer) SizeBytes() uint64        { return l.bits.SizeBytes() }
func (l *Layer) TargetErrorRate() float64 { return l.errorRate }

// BitsSet returns the population count of the bit array.
func (l *Layer) BitsSet() uint64 {
	return l.bits.PopCount()
}

// FillRatio returns BitsSet / BitCount.
func (l *Layer) FillRatio() float64 {
	return float64(l.bits.PopCount()) / float64(l.bits.Len())
}

// EstimatedErrorRate is the false positive probability implied by the
// current fill: fill^k.
func (l *Layer) EstimatedErrorRate() float64 {
	return math.Pow(l.FillRatio(), float64(l.hashCount))
}

// Clone returns a deep copy with its own bit buffer.
func (l *Layer) Clone() *Layer {
	c := *l
	c.bits = l.bits.Clone()
	return &c
}

// Clear turns every bit off and resets the inserted count. Sizing is kept.
func (l *Layer) Clear() {
	l.bits.ClearAll()
	l.count = 0
}

// Union ORs other's bits into l and adds its count. Both layers must have
// the same bit count and hash count, and must have been built with the same
// Hasher (functions are not comparable, so that part is on the caller).
func (l *Layer) Union(other *Layer) error {
	if l.bits.Len() != other.bits.Len() || l.hashCount != other.hashCount {
		return fmt.Errorf("%w: %d bits/%d hashes vs %d bits/%d hashes", ErrIncompatibleLayers,
			l.bits.Len(), l.hashCount, other.bits.Len(), other.hashCount)
	}

	l.bits.union(other.bits)
	l.count += other.count

	return nil
}
