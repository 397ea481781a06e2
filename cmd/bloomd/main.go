// main.go is the entry point for bloomd, a RESP server that hosts named
// scalable Bloom filters.
//
// Startup Sequence
// ================
//
// Configuration is resolved from defaults, an optional YAML file, SCALEBLOOM_*
// environment variables and command-line flags. Filter defaults are validated
// once at startup so that implicit filter creation (BF.ADD on a missing key)
// can never fail on configuration.
//
// Two listeners run under one errgroup: the RESP listener and, when
// server.metrics_addr is set, a Prometheus endpoint. Either failing stops the
// other.
//
// Graceful Shutdown
// =================
//
// SIGINT and SIGTERM cancel the root context. The RESP listener stops
// accepting, then waits up to server.shutdown_timeout for in-flight
// connections. The metrics server is shut down with the same timeout.
//
// Filters live only in memory. Nothing is written on exit.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"scalebloom.lopezb.com/internal/bloom"
	"scalebloom.lopezb.com/internal/config"
)

type application struct {
	config      config.ServerConfig
	filter      bloom.Config
	logger      zerolog.Logger
	listener    net.Listener
	store       *Store
	router      *Router
	metrics     *Metrics
	readyCh     chan struct{}
	wg          sync.WaitGroup
	connLimiter chan struct{}
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "bloomd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "bloomd",
		Short:         "RESP server for scalable Bloom filters",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}

			return run(cmd.Context(), cfg, os.Stdout)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flags.Int("port", config.DefaultPort, "TCP server port")
	flags.Int("max-conn", config.DefaultMaxConnections, "Maximum concurrent connections")
	flags.Duration("shutdown-timeout", config.DefaultShutdownTimeout, "Graceful shutdown timeout")
	flags.Duration("idle-timeout", config.DefaultIdleTimeout, "Idle client connection timeout (0 for no timeout)")
	flags.String("metrics-addr", config.DefaultMetricsAddr, "Prometheus listen address (empty disables)")
	flags.Float64("error-rate", bloom.DefaultErrorRate, "Target false positive rate for new filters")
	flags.Uint64("capacity", bloom.DefaultInitialCapacity, "Initial layer capacity for new filters")
	flags.Float64("tightening-ratio", bloom.DefaultTighteningRatio, "Per-layer error tightening ratio for new filters")
	flags.String("hash", config.DefaultHash, "Hash function for new filters (murmur3, xxhash)")
	flags.String("log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")

	return cmd
}

func newLogger(level string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func newApplication(cfg *config.Config, logger zerolog.Logger) (*application, error) {
	filterCfg, err := cfg.Filter.BloomConfig()
	if err != nil {
		return nil, err
	}

	app := &application{
		config:      cfg.Server,
		filter:      filterCfg,
		logger:      logger,
		store:       NewStore(),
		metrics:     NewMetrics(),
		connLimiter: make(chan struct{}, cfg.Server.MaxConnections),
	}
	app.router = app.commands()

	return app, nil
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger, err := newLogger(cfg.Log.Level, out)
	if err != nil {
		return err
	}

	app, err := newApplication(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.serve(gctx)
	})

	if cfg.Server.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(newCollector(app.metrics, app.store, app.connLimiter))

		srv := &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: newMetricsHandler(registry),
		}

		g.Go(func() error {
			logger.Info().Str("address", srv.Addr).Msg("metrics server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}

	return nil
}
