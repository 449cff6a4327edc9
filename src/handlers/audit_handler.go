package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/username/crewledger/backend/src/audit"
	"github.com/username/crewledger/backend/src/utils"
)

type AuditHandler struct {
	sink *audit.Sink
}

func NewAuditHandler(sink *audit.Sink) *AuditHandler {
	return &AuditHandler{sink: sink}
}

// HandleListByResource returns the audit trail of one resource in
// chronological order.
func (h *AuditHandler) HandleListByResource(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	resourceID := r.URL.Query().Get("resource_id")
	if resource == "" || resourceID == "" {
		utils.SendJSONError(w, "resource and resource_id query parameters required", http.StatusBadRequest)
		return
	}

	entries, err := h.sink.ListByResource(resource, resourceID)
	if err != nil {
		utils.SendJSONError(w, "failed to load audit entries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

type legalHoldRequest struct {
	Hold bool `json:"hold"`
}

// HandleSetLegalHold flags or unflags one entry. Held entries survive
// retention sweeps regardless of category.
func (h *AuditHandler) HandleSetLegalHold(w http.ResponseWriter, r *http.Request) {
	var req legalHoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.sink.SetLegalHold(r.PathValue("id"), req.Hold); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
