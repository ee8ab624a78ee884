package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshgate/opmond/internal/handlers"
	"github.com/meshgate/opmond/internal/middleware"
)

// NewRouter constructs a ServeMux with the daemon's API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Proxy-facing submission endpoint
	mux.HandleFunc("/store_data", h.HandleStoreData)

	// Query endpoints
	mux.HandleFunc("/query/operational-data", h.HandleOperationalData)
	mux.HandleFunc("/query/health-data", h.HandleHealthData)

	// Health endpoints
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/readyz", h.Readyz)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
