// Package admin runs the chi-based HTTP server exposing process health,
// Prometheus metrics, and the export table's current occupancy — separate
// from the NBD listener itself, the way dittofs keeps its control-plane API
// on its own port from the filesystem protocols it serves.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/cloudnbd/internal/logger"
	"github.com/marmos91/cloudnbd/pkg/export"
)

// NewRouter builds the admin HTTP server's routes: GET /healthz, GET
// /metrics (Prometheus text exposition), GET /status (export table +
// per-export cache occupancy as JSON).
func NewRouter(table *export.Table, registry *prometheus.Registry, occupancy OccupancyReporter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", healthzHandler)

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Get("/status", statusHandler(table, occupancy))

	return r
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Status is the JSON shape served at GET /status, also consumed by
// cloudnbdctl for its tablewriter rendering.
type Status struct {
	Exports []ExportStatus `json:"exports"`
}

// ExportStatus reports one export's name and cache occupancy.
type ExportStatus struct {
	Name           string `json:"name"`
	ResidentBlocks int    `json:"resident_blocks"`
	CapacityBlocks int    `json:"capacity_blocks"`
}

// OccupancyReporter exposes the cache occupancy for a named export, read by
// the status handler. Implemented by the server bootstrap package (which
// holds the actual *cache.Cache instances); admin stays decoupled from the
// cache package's concrete type.
type OccupancyReporter interface {
	Occupancy(export string) (resident, capacity int, ok bool)
}

func statusHandler(table *export.Table, occupancy OccupancyReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		names := table.Names()
		status := Status{Exports: make([]ExportStatus, 0, len(names))}
		for _, name := range names {
			resident, capacity, _ := occupancy.Occupancy(name)
			status.Exports = append(status.Exports, ExportStatus{
				Name:           name,
				ResidentBlocks: resident,
				CapacityBlocks: capacity,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Debug("admin request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}
