// Package bloom implements a Scalable Bloom Filter: a chain of independently
// sized Bloom layers that grows as items are inserted while keeping the
// compounded false positive rate under a fixed target.
//
// A Bloom filter answers "definitely not in the set" or "possibly in the
// set". It never reports a false negative, and it trades a bounded false
// positive rate for memory that is a small constant number of bits per item.
//
// A plain Bloom filter has a fixed capacity: once more items than planned
// are inserted, its false positive rate rises without bound. This package
// follows "Scalable Bloom Filters" (P. Almeida, C. Baquero, N. Preguica,
// D. Hutchison): when the newest layer reaches its capacity, a larger layer
// with a tighter error budget is appended, and lookups consult every layer.
//
// Sizing
// ======
//
// A layer sized for n items at false positive rate p uses
//
//	m = ceil(-n * ln(p) / ln(2)^2)   bits (at least 64)
//	k = round(m / n * ln(2))         probes (clamped to [1, 20])
//
// Probe positions come from two 32-bit base hashes of the item (seeds
// SeedPrimary and SeedSecondary) combined as (h1 + i*h2) mod m, the
// Kirsch-Mitzenmacher double hashing scheme.
//
// Growth
// ======
//
// Layer i is allotted the error budget
//
//	e_i = P * (1 - r) * r^i
//
// where P is the configured ErrorRate and r the TighteningRatio. The series
// sums to P, so the union bound over all layers stays at or below P however
// deep the chain grows. Capacities grow from InitialCapacity by a factor
// that flattens with depth:
//
//	+-------------+------------+
//	| Layer index | Multiplier |
//	+-------------+------------+
//	| 1 .. 3      | 2.00       |
//	| 4 .. 7      | 1.75       |
//	| 8 .. 11     | 1.50       |
//	| 12 ..       | 1.25       |
//	+-------------+------------+
//
// Chain Layout
// ============
//
//	+-----------------------+-----------------------+-----------------------+
//	| Layer 0               | Layer 1               | Layer 2 ...           |
//	| cap n, budget e_0     | cap 2n, budget e_1    | cap 4n, budget e_2    |
//	+-----------------------+-----------------------+-----------------------+
//	  oldest                                          active (receives Add)
//
// Check walks the chain from the active layer back to layer 0 and stops at
// the first layer that reports the item.
//
// Ownership
// =========
//
// Each Layer owns its BitVector and each ScalableFilter owns its layers.
// Merge deep-copies the other filter's layers, so two filters never share a
// bit array. Nothing in this package is safe for concurrent mutation.
package bloom
