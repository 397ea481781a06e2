package bloom

import (
	"fmt"
	"math"
)

// CapacityMultiplier returns the factor applied to the previous layer's
// capacity when allocating the layer at index. Growth is aggressive early
// and flattens as the chain deepens.
func CapacityMultiplier(index int) float64 {
	switch {
	case index < 4:
		return 2.0
	case index < 8:
		return 1.75
	case index < 12:
		return 1.5
	default:
		return 1.25
	}
}

// LayerErrorBudget returns the share of the total error rate allotted to
// the layer at index: total * (1 - r) * r^index, floored at MinErrorBudget.
//
// The shares form a geometric series summing to total, so the union bound
// over all layers never exceeds the configured target.
func LayerErrorBudget(total, r float64, index int) float64 {
	e := total * (1 - r) * math.Pow(r, float64(index))
	if e < MinErrorBudget {
		return MinErrorBudget
	}
	return e
}

// NextCapacity returns round(prev * CapacityMultiplier(index)), the capacity
// of the layer allocated at index after a layer of capacity prev.
func NextCapacity(prev uint64, index int) (uint64, error) {
	next := math.Round(float64(prev) * CapacityMultiplier(index))
	if next > MaxLayerCapacity {
		return 0, fmt.Errorf("%w: layer %d capacity %.0f exceeds %d", ErrAllocation, index, next, uint64(MaxLayerCapacity))
	}
	return uint64(next), nil
}
