package handlers

import (
	"compress/gzip"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/meshgate/opmond/internal/query"
)

// attachmentName is the filename of the gzip record attachment in the
// operational data response.
const attachmentName = "operational-monitoring-data.json.gz"

// HandleOperationalData serves POST /query/operational-data. A successful
// response is multipart/related: a JSON summary part followed by a gzip
// attachment holding the record page. Faults are plain JSON.
func (h *Handler) HandleOperationalData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	caller, ok := h.callerIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, &query.Fault{
			Code:   query.FaultAccessDenied,
			String: "missing or invalid caller token",
		})
		return
	}

	var req query.OperationalDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &query.Fault{
			Code:   query.FaultInvalidRequest,
			String: "malformed request body",
		})
		return
	}

	result, err := h.engine.QueryOperationalData(r.Context(), caller, &req)
	if err != nil {
		h.sendFault(r.Context(), w, err)
		return
	}

	if err := writeOperationalDataResponse(w, result); err != nil {
		h.logger.ErrorContext(r.Context(), "writing operational data response failed", "error", err)
	}
}

func writeOperationalDataResponse(w http.ResponseWriter, result *query.OperationalDataResult) error {
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/related; charset=UTF-8; boundary="+mw.Boundary())

	summaryPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json"},
	})
	if err != nil {
		return err
	}
	summary := struct {
		RecordsCount    int    `json:"recordsCount"`
		NextRecordsFrom *int64 `json:"nextRecordsFrom,omitempty"`
	}{result.RecordsCount, result.NextRecordsFrom}
	if err := json.NewEncoder(summaryPart).Encode(summary); err != nil {
		return err
	}

	recordsPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"application/gzip"},
		"Content-Transfer-Encoding": {"binary"},
		"Content-Disposition":       {`attachment; filename="` + attachmentName + `"`},
	})
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(recordsPart)
	payload := struct {
		Records []map[string]json.RawMessage `json:"records"`
	}{result.Records}
	if err := json.NewEncoder(gz).Encode(payload); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}

	return mw.Close()
}

// HandleHealthData serves POST /query/health-data.
func (h *Handler) HandleHealthData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	caller, ok := h.callerIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, &query.Fault{
			Code:   query.FaultAccessDenied,
			String: "missing or invalid caller token",
		})
		return
	}

	var req query.HealthDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &query.Fault{
			Code:   query.FaultInvalidRequest,
			String: "malformed request body",
		})
		return
	}

	data, err := h.engine.QueryHealthData(r.Context(), caller, &req)
	if err != nil {
		h.sendFault(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, data)
}
