package bloom

const (
	// Configuration Defaults
	DefaultErrorRate       = 0.01
	DefaultInitialCapacity = 8192
	DefaultTighteningRatio = 0.85

	// MinHashCount and MaxHashCount bound the number of probes per layer.
	MinHashCount = 1
	MaxHashCount = 20

	// MinLayerBits is the smallest bit array a layer is ever given.
	MinLayerBits = 64

	// MinErrorBudget floors the per-layer error rate so ln(p) stays finite
	// no matter how deep the chain grows.
	MinErrorBudget = 1e-15

	// SaturationFillRatio is the fill ratio above which a layer is reported
	// as saturated in Stats. It is diagnostic only: growth is driven by the
	// layer's inserted count reaching its capacity.
	SaturationFillRatio = 0.5

	// MaxLayerBits caps a single layer's bit array at 32 GiB.
	MaxLayerBits = 1 << 38

	// MaxLayerCapacity caps the element count a single layer is sized for.
	MaxLayerCapacity = 1 << 48
)

// Config holds the construction parameters of a ScalableFilter. All three
// scalar fields are validated once by NewScalableFilter.
type Config struct {
	// ErrorRate is the overall false positive target across all layers,
	// in the open interval (0, 1).
	ErrorRate float64

	// InitialCapacity is the number of items layer 0 is sized for. Later
	// layers grow from it according to CapacityMultiplier.
	InitialCapacity uint64

	// TighteningRatio is the geometric decay r in (0, 1) applied to the
	// error budget of successive layers.
	TighteningRatio float64

	// Hasher derives probe positions. Nil selects Murmur3.
	Hasher Hasher
}

// DefaultConfig returns the default configuration for new filters.
func DefaultConfig() Config {
	return Config{
		ErrorRate:       DefaultErrorRate,
		InitialCapacity: DefaultInitialCapacity,
		TighteningRatio: DefaultTighteningRatio,
		Hasher:          Murmur3,
	}
}

// Validate reports the first field outside its valid interval as a
// *ConfigError.
func (c Config) Validate() error {
	if !(c.ErrorRate > 0 && c.ErrorRate < 1) {
		return &ConfigError{Field: "error_rate", Value: c.ErrorRate, Reason: "must be in the open interval (0, 1)"}
	}
	if c.InitialCapacity == 0 {
		return &ConfigError{Field: "initial_capacity", Value: c.InitialCapacity, Reason: "must be positive"}
	}
	if !(c.TighteningRatio > 0 && c.TighteningRatio < 1) {
		return &ConfigError{Field: "tightening_ratio", Value: c.TighteningRatio, Reason: "must be in the open interval (0, 1)"}
	}
	return nil
}
