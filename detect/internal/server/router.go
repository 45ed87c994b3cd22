// Package server provides HTTP server setup for the detect service.
package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/secops-alerts/common/httputil"
	"github.com/telhawk-systems/secops-alerts/common/middleware"
	"github.com/telhawk-systems/secops-alerts/detect/internal/handlers"
)

// NewRouter constructs a ServeMux with detect API routes registered.
func NewRouter(h *handlers.Handler, cors middleware.CORSConfig, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("/healthz", h.HealthCheck)
	mux.HandleFunc("/readyz", h.ReadyCheck)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Alert routes
	mux.HandleFunc("/alerts", h.ListAlerts)
	mux.HandleFunc("/alerts/", alertRouteHandler(h))

	var handler http.Handler = mux
	handler = middleware.RequestLogger(logger)(handler)
	handler = middleware.CORS(cors)(handler)
	return middleware.RequestID(handler)
}

// alertRouteHandler routes /alerts/* requests to appropriate handlers
func alertRouteHandler(h *handlers.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		switch {
		case path == "/alerts/":
			h.ListAlerts(w, r)
		case path == "/alerts/stats":
			h.AlertStats(w, r)
		case path == "/alerts/generate":
			h.GenerateAlerts(w, r)
		case path == "/alerts/events":
			h.RecentEvents(w, r)
		case strings.HasSuffix(path, "/status") && strings.Count(strings.Trim(path, "/"), "/") == 2:
			// Handle /alerts/{id}/status
			h.UpdateAlertStatus(w, r)
		default:
			httputil.WriteError(w, http.StatusNotFound, "not_found", "")
		}
	}
}
