package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/basestation"
	"github.com/dbehnke/adsbfeed/internal/compressed"
	"github.com/dbehnke/adsbfeed/internal/config"
	"github.com/dbehnke/adsbfeed/internal/feed"
	"github.com/dbehnke/adsbfeed/internal/statistics"
)

func newTestManager(t *testing.T) (*feed.Manager, *prometheus.Registry) {
	t.Helper()
	cfg := config.New()
	for i, name := range []string{"Roof", "Hidden"} {
		r := config.DefaultReceiver()
		r.ID = i + 1
		r.Name = name
		r.Enabled = false
		r.Address = "192.0.2.1"
		r.Port = 30003
		cfg.Receivers = append(cfg.Receivers, r)
	}
	cfg.Receivers[1].Usage = config.UsageMergeOnly

	collector := statistics.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	m := feed.NewManager(feed.Options{}, collector)
	t.Cleanup(func() { m.Close() })
	require.NoError(t, m.Apply(cfg))
	return m, registry
}

func TestFeedsEndpoint(t *testing.T) {
	m, registry := newTestManager(t)
	srv := httptest.NewServer(newMux(m, registry, zap.NewNop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/feeds")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var feeds []feedStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&feeds))
	require.Len(t, feeds, 2)
	assert.Equal(t, "Roof", feeds[0].Name)
	assert.Equal(t, "disconnected", feeds[0].Status)
	assert.True(t, feeds[0].Visible)
	assert.False(t, feeds[1].Visible)
}

func TestAircraftEndpoint(t *testing.T) {
	m, registry := newTestManager(t)
	srv := httptest.NewServer(newMux(m, registry, zap.NewNop()))
	defer srv.Close()

	roof, ok := m.Feed(1)
	require.True(t, ok)
	roof.Aircraft().Apply(&basestation.Message{
		MessageType: basestation.MessageTypeTransmission,
		Icao24:      "4CA2D1",
		Altitude:    basestation.Ptr(38000),
	})

	resp, err := http.Get(srv.URL + "/feeds/1/aircraft.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report compressed.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	require.Len(t, report.Aircraft, 1)
	assert.Equal(t, "4CA2D1", report.Aircraft[0].Hex)

	for path, code := range map[string]int{
		"/feeds/2/aircraft.json":  http.StatusNotFound,
		"/feeds/99/aircraft.json": http.StatusNotFound,
		"/feeds/x/aircraft.json":  http.StatusBadRequest,
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, code, resp.StatusCode, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m, registry := newTestManager(t)
	srv := httptest.NewServer(newMux(m, registry, zap.NewNop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "debug"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = newLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
