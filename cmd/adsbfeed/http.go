package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/feed"
)

// feedStatus is one entry of the /feeds listing
type feedStatus struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Merged        bool   `json:"merged"`
	Visible       bool   `json:"visible"`
	Status        string `json:"status"`
	Aircraft      int    `json:"aircraft"`
	BytesReceived string `json:"bytes_received,omitempty"`
	ConnectedFor  string `json:"connected_for,omitempty"`
}

func newMux(manager *feed.Manager, registry *prometheus.Registry, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /feeds", func(w http.ResponseWriter, r *http.Request) {
		feeds := manager.Feeds()
		out := make([]feedStatus, 0, len(feeds))
		for _, f := range feeds {
			st := feedStatus{
				ID:       f.ID(),
				Name:     f.Name(),
				Merged:   f.IsMerged(),
				Visible:  f.IsVisible(),
				Status:   f.Status().String(),
				Aircraft: f.Aircraft().Count(),
			}
			if !st.Merged {
				c := f.Statistics().Snapshot()
				st.BytesReceived = humanize.Bytes(uint64(c.BytesReceived))
				if !c.ConnectedSince.IsZero() {
					st.ConnectedFor = humanize.RelTime(c.ConnectedSince, time.Now(), "", "")
				}
			}
			out = append(out, st)
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("GET /feeds/{id}/aircraft.json", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.PathValue("id"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad feed id"})
			return
		}
		f, ok := manager.Feed(id)
		if !ok || !f.IsVisible() {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "feed not found"})
			return
		}
		writeJSON(w, http.StatusOK, f.Aircraft().Report())
	})

	return withLogging(logger, mux)
}

func withLogging(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debug("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.code),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	code int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
