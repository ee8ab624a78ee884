package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/meshgate/opmond/internal/models"
)

type storeDataRequest struct {
	Records []models.OperationalRecord `json:"records"`
}

type storeDataResponse struct {
	Status    string `json:"status"`
	Submitted int    `json:"submitted"`
}

// HandleStoreData serves POST /store_data, the proxy-facing record
// submission endpoint. Invalid batches are rejected whole so a proxy bug
// surfaces immediately instead of thinning out the data unnoticed.
func (h *Handler) HandleStoreData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing producer token"})
		return
	}
	producer, err := h.registry.VerifyProducerToken(token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid producer token"})
		return
	}

	allowed, err := h.limiter.Allow(r.Context(), producer)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "rate limit check failed", "producer", producer, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "rate limiter unavailable"})
		return
	}
	if !allowed {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}

	var req storeDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if len(req.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no records in request"})
		return
	}

	for i := range req.Records {
		if err := req.Records[i].Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	for i := range req.Records {
		h.buffer.Submit(req.Records[i])
		h.health.ObserveRecord(&req.Records[i])
	}

	h.logger.DebugContext(r.Context(), "records accepted",
		"producer", producer, "count", len(req.Records))
	writeJSON(w, http.StatusOK, storeDataResponse{Status: "ok", Submitted: len(req.Records)})
}
