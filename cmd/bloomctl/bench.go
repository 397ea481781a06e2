package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"scalebloom.lopezb.com/internal/bloom"
	"scalebloom.lopezb.com/internal/config"
)

var errFalseNegatives = errors.New("false negatives detected")

type benchOptions struct {
	Items  int
	Probes int
	Seed   uint64
}

type benchResult struct {
	Hash           string
	Inserted       int
	FalseNegatives int
	Probes         int
	FalsePositives int
	InsertTime     time.Duration
	ProbeTime      time.Duration
	Stats          bloom.Stats
}

// ObservedErrorRate is the fraction of never-inserted probes reported present.
func (r benchResult) ObservedErrorRate() float64 {
	if r.Probes == 0 {
		return 0
	}
	return float64(r.FalsePositives) / float64(r.Probes)
}

func newBenchCommand() *cobra.Command {
	var (
		configPath string
		opts       benchOptions
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Fill a filter with random keys and report its error rate and layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.Log.Level, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			filterCfg, err := cfg.Filter.BloomConfig()
			if err != nil {
				return err
			}

			logger.Info().
				Int("items", opts.Items).
				Int("probes", opts.Probes).
				Float64("error_rate", filterCfg.ErrorRate).
				Uint64("capacity", filterCfg.InitialCapacity).
				Str("hash", cfg.Filter.Hash).
				Msg("bench starting")

			res, err := runBench(filterCfg, opts)
			if err != nil {
				return err
			}
			res.Hash = cfg.Filter.Hash

			logger.Info().
				Dur("insert", res.InsertTime).
				Dur("probe", res.ProbeTime).
				Int("layers", res.Stats.Layers).
				Msg("bench finished")

			renderBench(cmd.OutOrStdout(), res)

			if res.FalseNegatives > 0 {
				return fmt.Errorf("%w: %d of %d", errFalseNegatives, res.FalseNegatives, res.Inserted)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flags.IntVar(&opts.Items, "items", 100000, "Number of random keys to insert")
	flags.IntVar(&opts.Probes, "probes", 100000, "Number of never-inserted keys to probe")
	flags.Uint64Var(&opts.Seed, "seed", 1, "Random seed")
	flags.Float64("error-rate", bloom.DefaultErrorRate, "Target false positive rate")
	flags.Uint64("capacity", bloom.DefaultInitialCapacity, "Initial layer capacity")
	flags.Float64("tightening-ratio", bloom.DefaultTighteningRatio, "Per-layer error tightening ratio")
	flags.String("hash", config.DefaultHash, "Hash function (murmur3, xxhash)")
	flags.String("log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")

	return cmd
}

// runBench inserts opts.Items random keys, checks each one back, then probes
// opts.Probes keys from a disjoint key space.
func runBench(cfg bloom.Config, opts benchOptions) (benchResult, error) {
	if opts.Items < 0 || opts.Probes < 0 {
		return benchResult{}, errors.New("items and probes must not be negative")
	}

	sf, err := bloom.NewScalableFilter(cfg)
	if err != nil {
		return benchResult{}, err
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	// Inserted and probed keys differ in their first byte.
	keys := make([][]byte, opts.Items)
	for i := range keys {
		keys[i] = strconv.AppendUint([]byte("i"), rng.Uint64(), 36)
	}

	res := benchResult{Inserted: opts.Items, Probes: opts.Probes}

	start := time.Now()
	for _, k := range keys {
		if err := sf.Add(k); err != nil {
			return benchResult{}, fmt.Errorf("insert %d: %w", sf.Count(), err)
		}
	}
	res.InsertTime = time.Since(start)

	for _, k := range keys {
		if !sf.Check(k) {
			res.FalseNegatives++
		}
	}

	probe := make([]byte, 0, 16)
	start = time.Now()
	for range opts.Probes {
		probe = strconv.AppendUint(append(probe[:0], 'p'), rng.Uint64(), 36)
		if sf.Check(probe) {
			res.FalsePositives++
		}
	}
	res.ProbeTime = time.Since(start)

	res.Stats = sf.Stats()

	return res, nil
}

func perSecond(n int, d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return humanize.Comma(int64(float64(n)/d.Seconds())) + "/s"
}

func renderBench(w io.Writer, res benchResult) {
	st := res.Stats

	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetStyle(table.StyleLight)
	summary.SetTitle("Filter")
	summary.AppendRows([]table.Row{
		{"hash", res.Hash},
		{"items", humanize.Comma(int64(st.Count))},
		{"layers", st.Layers},
		{"memory", humanize.Bytes(st.TotalBytes)},
		{"bits set", fmt.Sprintf("%s / %s", humanize.Comma(int64(st.BitsSet)), humanize.Comma(int64(st.TotalBits)))},
		{"fill ratio", fmt.Sprintf("%.4f", st.FillRatio)},
		{"target error rate", fmt.Sprintf("%g", st.ErrorRate)},
		{"estimated error rate", fmt.Sprintf("%.6f", st.EstimatedErrorRate)},
		{"observed error rate", fmt.Sprintf("%.6f (%d / %d)", res.ObservedErrorRate(), res.FalsePositives, res.Probes)},
		{"false negatives", res.FalseNegatives},
		{"insert rate", perSecond(res.Inserted, res.InsertTime)},
		{"probe rate", perSecond(res.Probes, res.ProbeTime)},
	})
	summary.Render()

	layers := table.NewWriter()
	layers.SetOutputMirror(w)
	layers.SetStyle(table.StyleLight)
	layers.SetTitle("Layers")
	layers.AppendHeader(table.Row{"#", "capacity", "items", "bits", "k", "memory", "fill", "budget", "est. fpr", "saturated"})

	for _, ls := range st.PerLayer {
		layers.AppendRow(table.Row{
			ls.Index,
			humanize.Comma(int64(ls.Capacity)),
			humanize.Comma(int64(ls.Count)),
			humanize.Comma(int64(ls.BitCount)),
			ls.HashCount,
			humanize.Bytes(ls.SizeBytes),
			fmt.Sprintf("%.4f", ls.FillRatio),
			fmt.Sprintf("%.3g", ls.ErrorBudget),
			fmt.Sprintf("%.3g", ls.EstimatedErrorRate),
			ls.Saturated,
		})
	}

	layers.AppendFooter(table.Row{"", "", humanize.Comma(int64(st.Count)), humanize.Comma(int64(st.TotalBits)), "", humanize.Bytes(st.TotalBytes)})
	layers.Render()
}
