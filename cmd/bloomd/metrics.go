package main

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scalebloom.lopezb.com/internal/bloom"
)

const metricsNamespace = "bloomd"

// Metrics holds the server counters. They are read by INFO and exported by
// the Prometheus collector.
type Metrics struct {
	TotalConnections atomic.Uint64
	TotalCommands    atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// keyspaceSummary aggregates every filter in the store.
type keyspaceSummary struct {
	Keys   int
	Layers int
	Items  uint64
	Bytes  uint64
}

func summarize(store *Store) keyspaceSummary {
	var sum keyspaceSummary

	store.Range(func(_ string, e *Entry) {
		_ = e.With(func(sf *bloom.ScalableFilter) error {
			sum.Keys++
			sum.Layers += sf.LayerCount()
			sum.Items += sf.Count()
			sum.Bytes += sf.SizeBytes()
			return nil
		})
	})

	return sum
}

// collector exports Metrics and a keyspace summary, computed on scrape.
type collector struct {
	metrics     *Metrics
	store       *Store
	connLimiter chan struct{}

	connectionsTotal  *prometheus.Desc
	connectionsActive *prometheus.Desc
	commandsTotal     *prometheus.Desc
	keys              *prometheus.Desc
	layers            *prometheus.Desc
	items             *prometheus.Desc
	bytes             *prometheus.Desc
}

func newCollector(metrics *Metrics, store *Store, connLimiter chan struct{}) prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, nil)
	}

	return &collector{
		metrics:     metrics,
		store:       store,
		connLimiter: connLimiter,

		connectionsTotal:  desc("connections_total", "Client connections accepted."),
		connectionsActive: desc("connections_active", "Client connections currently open."),
		commandsTotal:     desc("commands_processed_total", "Commands dispatched."),
		keys:              desc("filters", "Filters in the keyspace."),
		layers:            desc("filter_layers", "Layers across all filters."),
		items:             desc("filter_items", "Items added across all filters."),
		bytes:             desc("filter_bytes", "Bit-vector bytes across all filters."),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectionsTotal
	ch <- c.connectionsActive
	ch <- c.commandsTotal
	ch <- c.keys
	ch <- c.layers
	ch <- c.items
	ch <- c.bytes
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.connectionsTotal, prometheus.CounterValue, float64(c.metrics.TotalConnections.Load()))
	ch <- prometheus.MustNewConstMetric(c.connectionsActive, prometheus.GaugeValue, float64(len(c.connLimiter)))
	ch <- prometheus.MustNewConstMetric(c.commandsTotal, prometheus.CounterValue, float64(c.metrics.TotalCommands.Load()))

	sum := summarize(c.store)

	ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(sum.Keys))
	ch <- prometheus.MustNewConstMetric(c.layers, prometheus.GaugeValue, float64(sum.Layers))
	ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(sum.Items))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(sum.Bytes))
}

func newMetricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return mux
}
