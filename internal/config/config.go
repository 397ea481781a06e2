// Package config loads the bloomd and bloomctl settings from defaults, an
// optional YAML file, SCALEBLOOM_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"scalebloom.lopezb.com/internal/bloom"
)

// Defaults for every configurable key.
const (
	DefaultPort            = 6479
	DefaultMaxConnections  = 100
	DefaultShutdownTimeout = 5 * time.Second
	DefaultIdleTimeout     = time.Duration(0)
	DefaultMetricsAddr     = ""
	DefaultHash            = "murmur3"
	DefaultLogLevel        = "info"
)

var (
	errInvalidPort           = errors.New("server.port must be in [0, 65535]")
	errInvalidMaxConnections = errors.New("server.max_connections must be positive")
	errInvalidTimeout        = errors.New("server timeouts must not be negative")
	errUnknownHash           = errors.New("filter.hash must be one of murmur3, xxhash")
)

// Config is the root configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Filter FilterConfig `mapstructure:"filter"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig configures the RESP listener and the metrics endpoint.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	MaxConnections  int           `mapstructure:"max_connections"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`

	// MetricsAddr is the listen address of the Prometheus endpoint.
	// Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// FilterConfig holds the parameters used for filters created implicitly
// (BF.ADD on a missing key) and as the base of BF.RESERVE.
type FilterConfig struct {
	ErrorRate       float64 `mapstructure:"error_rate"`
	InitialCapacity uint64  `mapstructure:"initial_capacity"`
	TighteningRatio float64 `mapstructure:"tightening_ratio"`
	Hash            string  `mapstructure:"hash"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: %d", errInvalidPort, c.Server.Port)
	}
	if c.Server.MaxConnections <= 0 {
		return fmt.Errorf("%w: %d", errInvalidMaxConnections, c.Server.MaxConnections)
	}
	if c.Server.ShutdownTimeout < 0 || c.Server.IdleTimeout < 0 {
		return errInvalidTimeout
	}

	if _, err := c.Filter.BloomConfig(); err != nil {
		return err
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

// BloomConfig converts the filter section into a validated bloom.Config.
func (f FilterConfig) BloomConfig() (bloom.Config, error) {
	hasher, ok := bloom.HasherByName(f.Hash)
	if !ok {
		return bloom.Config{}, fmt.Errorf("%w: %q", errUnknownHash, f.Hash)
	}

	cfg := bloom.Config{
		ErrorRate:       f.ErrorRate,
		InitialCapacity: f.InitialCapacity,
		TighteningRatio: f.TighteningRatio,
		Hasher:          hasher,
	}
	if err := cfg.Validate(); err != nil {
		return bloom.Config{}, fmt.Errorf("filter: %w", err)
	}

	return cfg, nil
}
