package bloom

import "math"

// LayerStats is a read-only snapshot of one layer.
type LayerStats struct {
	Index     int
	Capacity  uint64
	Count     uint64
	SizeBytes uint64
	BitCount  uint64
	HashCount uint32
	BitsSet   uint64
	FillRatio float64

	// ErrorBudget is the growth-policy share for this position in the
	// chain: LayerErrorBudget(ErrorRate, TighteningRatio, Index).
	ErrorBudget float64

	// EstimatedErrorRate is fill^k, the rate implied by the current bits.
	EstimatedErrorRate float64

	// Saturated is set when FillRatio reaches SaturationFillRatio.
	Saturated bool
}

// Stats is a read-only snapshot of a whole filter.
type Stats struct {
	Count           uint64
	Layers          int
	TotalBytes      uint64
	TotalBits       uint64
	BitsSet         uint64
	FillRatio       float64
	ErrorRate       float64
	TighteningRatio float64
	InitialCapacity uint64

	// EstimatedErrorRate is 1 - Π(1 - fill_i^k_i): the probability that at
	// least one layer reports a false positive, given the current bits.
	EstimatedErrorRate float64

	PerLayer []LayerStats
}

// Stats computes aggregate and per-layer statistics. It walks every bit
// array once to count set bits.
func (sf *ScalableFilter) Stats() Stats {
	st := Stats{
		Count:           sf.count,
		Layers:          len(sf.layers),
		ErrorRate:       sf.config.ErrorRate,
		TighteningRatio: sf.config.TighteningRatio,
		InitialCapacity: sf.config.InitialCapacity,
		PerLayer:        make([]LayerStats, 0, len(sf.layers)),
	}

	pass := 1.0
	for i, layer := range sf.layers {
		ls := LayerStats{
			Index:       i,
			Capacity:    layer.Capacity(),
			Count:       layer.Count(),
			SizeBytes:   layer.SizeBytes(),
			BitCount:    layer.BitCount(),
			HashCount:   layer.HashCount(),
			BitsSet:     layer.BitsSet(),
			ErrorBudget: LayerErrorBudget(sf.config.ErrorRate, sf.config.TighteningRatio, i),
		}
		ls.FillRatio = float64(ls.BitsSet) / float64(ls.BitCount)
		ls.EstimatedErrorRate = math.Pow(ls.FillRatio, float64(ls.HashCount))
		ls.Saturated = ls.FillRatio >= SaturationFillRatio

		st.TotalBytes += ls.SizeBytes
		st.TotalBits += ls.BitCount
		st.BitsSet += ls.BitsSet
		pass *= 1 - ls.EstimatedErrorRate

		st.PerLayer = append(st.PerLayer, ls)
	}

	if st.TotalBits > 0 {
		st.FillRatio = float64(st.BitsSet) / float64(st.TotalBits)
	}
	st.EstimatedErrorRate = 1 - pass

	return st
}
