package bloom

import (
	"fmt"
	"unsafe"
)

// ScalableFilter is an append-only chain of Layers. New items always go to
// the newest layer; when it reaches its capacity a larger layer with a
// tighter error budget is appended first.
//
// A ScalableFilter is not safe for concurrent use. Callers that share one
// across goroutines must serialize every call, reads included, since growth
// appends to the layer slice.
type ScalableFilter struct {
	// layers is never empty after construction. Layers are owned
	// exclusively: Merge copies, it never aliases.
	layers []*Layer

	config Config

	// count is the sum of every layer's inserted count.
	count uint64
}

// NewScalableFilter validates cfg and allocates layer 0 sized for
// cfg.InitialCapacity at LayerErrorBudget(cfg.ErrorRate, cfg.TighteningRatio, 0).
func NewScalableFilter(cfg Config) (*ScalableFilter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Hasher == nil {
		cfg.Hasher = Murmur3
	}

	sf := &ScalableFilter{config: cfg}

	first, err := sf.newLayer(0, cfg.InitialCapacity)
	if err != nil {
		return nil, err
	}
	sf.layers = []*Layer{first}

	return sf, nil
}

// newLayer allocates the layer that would sit at index in the chain.
func (sf *ScalableFilter) newLayer(index int, capacity uint64) (*Layer, error) {
	budget := LayerErrorBudget(sf.config.ErrorRate, sf.config.TighteningRatio, index)

	layer, err := NewLayer(capacity, budget, sf.config.Hasher)
	if err != nil {
		return nil, fmt.Errorf("layer %d: %w", index, err)
	}
	return layer, nil
}

// Config returns the configuration the filter was built with.
func (sf *ScalableFilter) Config() Config {
	return sf.config
}

// active returns the newest layer, the only one that receives inserts.
func (sf *ScalableFilter) active() *Layer {
	return sf.layers[len(sf.layers)-1]
}

// Add inserts item into the newest layer, growing the chain first if that
// layer is full. A growth failure leaves the existing layers untouched.
func (sf *ScalableFilter) Add(item []byte) error {
	active := sf.active()

	if active.IsFull() {
		next, err := sf.grow(active)
		if err != nil {
			return err
		}
		active = next
	}

	active.Add(item)
	sf.count++

	return nil
}

// grow appends a layer sized from the current active layer. The chain length
// itself is never capped: Merge may append any number of layers, and
// growth bounds are enforced per layer by NextCapacity and NewLayer.
func (sf *ScalableFilter) grow(active *Layer) (*Layer, error) {
	index := len(sf.layers)

	capacity, err := NextCapacity(active.Capacity(), index)
	if err != nil {
		return nil, err
	}

	layer, err := sf.newLayer(index, capacity)
	if err != nil {
		return nil, err
	}

	sf.layers = append(sf.layers, layer)

	return layer, nil
}

// Check tests if an item is likely in the set. Layers are scanned from
// newest to oldest, since recently inserted items live in recent layers.
func (sf *ScalableFilter) Check(item []byte) bool {
	for i := len(sf.layers) - 1; i >= 0; i-- {
		if sf.layers[i].Check(item) {
			return true
		}
	}
	return false
}

// AddString is Add for string items without copying them.
func (sf *ScalableFilter) AddString(item string) error {
	return sf.Add(unsafe.Slice(unsafe.StringData(item), len(item)))
}

// CheckString is Check for string items without copying them.
func (sf *ScalableFilter) CheckString(item string) bool {
	return sf.Check(unsafe.Slice(unsafe.StringData(item), len(item)))
}

// Reset drops every layer and starts over with a fresh layer 0, exactly as
// built by NewScalableFilter. If the replacement layer cannot be allocated
// the filter is left as it was.
func (sf *ScalableFilter) Reset() error {
	first, err := sf.newLayer(0, sf.config.InitialCapacity)
	if err != nil {
		return err
	}

	// Drop the references so the old bit arrays can be collected even
	// though the slice's backing array is reused.
	clear(sf.layers)
	sf.layers = append(sf.layers[:0], first)
	sf.count = 0

	return nil
}

// Merge appends a deep copy of every layer of other, in order, and adds
// other's inserted count. other is not modified. Merging a filter into
// itself duplicates its layers.
//
// Merged layers keep the sizing and error budget they were built with, so
// the merged filter's false positive rate is no longer bounded by this
// filter's configured ErrorRate.
func (sf *ScalableFilter) Merge(other *ScalableFilter) error {
	if other == nil {
		return ErrNilFilter
	}

	// Snapshot length and count first so self-merge terminates.
	src := other.layers[:len(other.layers):len(other.layers)]
	count := other.count

	for _, layer := range src {
		sf.layers = append(sf.layers, layer.Clone())
	}
	sf.count += count

	return nil
}

// Count returns the total number of Add calls across all layers.
func (sf *ScalableFilter) Count() uint64 {
	return sf.count
}

// LayerCount returns the number of layers in the chain.
func (sf *ScalableFilter) LayerCount() int {
	return len(sf.layers)
}

// Layer returns the layer at index i, oldest first.
func (sf *ScalableFilter) Layer(i int) *Layer {
	return sf.layers[i]
}

// SizeBytes returns the bit-vector footprint of every layer. Unlike Stats it
// does not count set bits.
func (sf *ScalableFilter) SizeBytes() uint64 {
	var total uint64
	for _, l := range sf.layers {
		total += l.SizeBytes()
	}

	return total
}
