package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherValues(t *testing.T, registry *prometheus.Registry) map[string]float64 {
	t.Helper()

	families, err := registry.Gather()
	require.NoError(t, err)

	values := make(map[string]float64, len(families))
	for _, mf := range families {
		require.Len(t, mf.GetMetric(), 1)
		m := mf.GetMetric()[0]

		switch {
		case m.GetCounter() != nil:
			values[mf.GetName()] = m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}

	return values
}

func TestCollector(t *testing.T) {
	app := newTestApp(t)

	addItems(t, app, "bf", 5)
	addItems(t, app, "c", 1)
	app.metrics.TotalConnections.Add(2)

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(newCollector(app.metrics, app.store, app.connLimiter)))

	values := gatherValues(t, registry)

	assert.Equal(t, map[string]float64{
		"bloomd_connections_total":        2,
		"bloomd_connections_active":       0,
		"bloomd_commands_processed_total": 0,
		"bloomd_filters":                  2,
		"bloomd_filter_layers":            3,
		"bloomd_filter_items":             6,
		"bloomd_filter_bytes":             30,
	}, values)
}

func TestMetricsHandler(t *testing.T) {
	app := newTestApp(t)
	addItems(t, app, "bf", 1)

	registry := prometheus.NewRegistry()
	registry.MustRegister(newCollector(app.metrics, app.store, app.connLimiter))

	srv := httptest.NewServer(newMetricsHandler(registry))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "bloomd_filters 1")
	assert.Contains(t, string(body), "bloomd_filter_items 1")

	notFound, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	_ = notFound.Body.Close()
	assert.Equal(t, http.StatusNotFound, notFound.StatusCode)
}
