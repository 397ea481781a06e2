package bloom

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is matched by every *ConfigError via errors.Is.
	ErrInvalidConfig = errors.New("bloom: invalid configuration")

	// ErrAllocation is returned when a layer cannot be sized or allocated
	// because its bit array would exceed MaxLayerBits or its capacity would
	// exceed MaxLayerCapacity.
	ErrAllocation = errors.New("bloom: cannot allocate layer")

	// ErrIncompatibleLayers is returned by Layer.Union when the two layers
	// do not share the same bit count and hash count.
	ErrIncompatibleLayers = errors.New("bloom: cannot union layers with different parameters")

	// ErrNilFilter is returned by Merge when the source filter is nil.
	ErrNilFilter = errors.New("bloom: nil filter")
)

// ConfigError reports a construction parameter outside its valid interval.
// The filter is never created when a ConfigError is returned.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("bloom: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }
