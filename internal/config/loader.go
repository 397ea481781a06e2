package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"scalebloom.lopezb.com/internal/bloom"
)

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix, e.g. SCALEBLOOM_SERVER_PORT.
const envPrefix = "SCALEBLOOM"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// FlagBindings maps command-line flag names to configuration keys. Flags
// that a command does not define are skipped.
var FlagBindings = map[string]string{
	"port":             "server.port",
	"max-conn":         "server.max_connections",
	"shutdown-timeout": "server.shutdown_timeout",
	"idle-timeout":     "server.idle_timeout",
	"metrics-addr":     "server.metrics_addr",
	"error-rate":       "filter.error_rate",
	"capacity":         "filter.initial_capacity",
	"tightening-ratio": "filter.tightening_ratio",
	"hash":             "filter.hash",
	"log-level":        "log.level",
}

// Load builds the configuration. If configPath is empty no file is read.
// flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagBindings {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.max_connections", DefaultMaxConnections)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("server.idle_timeout", DefaultIdleTimeout)
	v.SetDefault("server.metrics_addr", DefaultMetricsAddr)

	v.SetDefault("filter.error_rate", bloom.DefaultErrorRate)
	v.SetDefault("filter.initial_capacity", bloom.DefaultInitialCapacity)
	v.SetDefault("filter.tightening_ratio", bloom.DefaultTighteningRatio)
	v.SetDefault("filter.hash", DefaultHash)

	v.SetDefault("log.level", DefaultLogLevel)
}
