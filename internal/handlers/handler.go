// Package handlers exposes the daemon's HTTP surface: record submission
// for proxies and the operational data and health data query endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/meshgate/opmond/internal/auth"
	"github.com/meshgate/opmond/internal/buffer"
	"github.com/meshgate/opmond/internal/health"
	"github.com/meshgate/opmond/internal/logging"
	"github.com/meshgate/opmond/internal/models"
	"github.com/meshgate/opmond/internal/query"
	"github.com/meshgate/opmond/internal/ratelimit"
	"github.com/meshgate/opmond/internal/registry"
	"github.com/meshgate/opmond/internal/store"
)

type Handler struct {
	engine   *query.Engine
	buffer   *buffer.Buffer
	registry *registry.Registry
	limiter  ratelimit.RateLimiter
	tokens   *auth.TokenGenerator
	health   *health.Aggregator
	records  store.Records
	logger   *logging.Logger
}

func New(engine *query.Engine, buf *buffer.Buffer, reg *registry.Registry,
	limiter ratelimit.RateLimiter, tokens *auth.TokenGenerator,
	agg *health.Aggregator, records store.Records, logger *logging.Logger) *Handler {
	return &Handler{
		engine:   engine,
		buffer:   buf,
		registry: reg,
		limiter:  limiter,
		tokens:   tokens,
		health:   agg,
		records:  records,
		logger:   logger,
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.records.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "record store unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// callerIdentity authenticates the query caller from the bearer token.
func (h *Handler) callerIdentity(r *http.Request) (models.ClientID, bool) {
	token := bearerToken(r)
	if token == "" {
		return models.ClientID{}, false
	}
	caller, err := h.tokens.ValidateCallerToken(token)
	if err != nil {
		return models.ClientID{}, false
	}
	return caller, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// sendFault writes a query fault with the HTTP status matching its code.
func (h *Handler) sendFault(ctx context.Context, w http.ResponseWriter, err error) {
	if fault, ok := err.(*query.Fault); ok {
		writeJSON(w, faultStatus(fault.Code), fault)
		return
	}
	h.logger.ErrorContext(ctx, "request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, &query.Fault{
		Code:   query.FaultStoreUnavailable,
		String: "internal error",
	})
}

func faultStatus(code string) int {
	switch code {
	case query.FaultInvalidRequest:
		return http.StatusBadRequest
	case query.FaultAccessDenied:
		return http.StatusForbidden
	case query.FaultStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
