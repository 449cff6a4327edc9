package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/username/crewledger/backend/src/logger"
	"github.com/username/crewledger/backend/src/services"
	"github.com/username/crewledger/backend/src/utils"
)

type TransactionHandler struct {
	txService *services.TransactionService
}

func NewTransactionHandler(txService *services.TransactionService) *TransactionHandler {
	return &TransactionHandler{txService: txService}
}

// HandleInitiate creates a pending transaction and triggers OTP delivery to
// the recipient. The initiator is always the authenticated caller.
func (h *TransactionHandler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := GetActorIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req services.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.InitiatorID = actorID

	tx, err := h.txService.Initiate(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(tx); err != nil {
		logger.L.Error("Failed to encode initiate response", "transactionID", tx.ID, "error", err)
	}
}

type confirmRequest struct {
	OTP string `json:"otp"`
}

func (h *TransactionHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	actorID, ok := GetActorIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	transactionID := r.PathValue("id")

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tx, err := h.txService.Confirm(r.Context(), transactionID, req.OTP, actorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tx)
}

type overrideRequest struct {
	Reason string `json:"reason"`
}

func (h *TransactionHandler) HandleOverride(w http.ResponseWriter, r *http.Request) {
	actorID, ok := GetActorIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	transactionID := r.PathValue("id")

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tx, err := h.txService.Override(r.Context(), transactionID, actorID, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tx)
}

func (h *TransactionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tx, err := h.txService.Get(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tx)
}

func (h *TransactionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	organizationID := r.URL.Query().Get("organization_id")
	if organizationID == "" {
		utils.SendJSONError(w, "organization_id query parameter required", http.StatusBadRequest)
		return
	}
	status := r.URL.Query().Get("status")

	txs, err := h.txService.List(organizationID, status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txs)
}
