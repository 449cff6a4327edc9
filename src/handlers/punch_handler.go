package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/username/crewledger/backend/src/logger"
	"github.com/username/crewledger/backend/src/services"
	"github.com/username/crewledger/backend/src/utils"
)

type PunchHandler struct {
	punchService *services.PunchService
}

func NewPunchHandler(punchService *services.PunchService) *PunchHandler {
	return &PunchHandler{punchService: punchService}
}

type punchRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Note      string   `json:"note"`
}

type punchResponse struct {
	Record      any `json:"record"`
	PendingSync int `json:"pending_sync"`
}

func (h *PunchHandler) HandlePunchIn(w http.ResponseWriter, r *http.Request) {
	h.handlePunch(w, r, true)
}

func (h *PunchHandler) HandlePunchOut(w http.ResponseWriter, r *http.Request) {
	h.handlePunch(w, r, false)
}

func (h *PunchHandler) handlePunch(w http.ResponseWriter, r *http.Request, in bool) {
	actorID, ok := GetActorIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req punchRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.SendJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	opts := services.PunchOptions{Latitude: req.Latitude, Longitude: req.Longitude, Note: req.Note}

	var rec any
	var err error
	if in {
		rec, err = h.punchService.PunchIn(r.Context(), actorID, opts)
	} else {
		rec, err = h.punchService.PunchOut(r.Context(), actorID, opts)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pending, err := h.punchService.PendingSyncCount(actorID)
	if err != nil {
		logger.L.Error("Failed to count pending punches", "employeeID", actorID, "error", err)
		pending = 0
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(punchResponse{Record: rec, PendingSync: pending})
}

// HandleAttendanceSummary aggregates the caller's punches over a calendar
// window (today, week or month). Responses carry an ETag so polling clients
// can skip unchanged payloads.
func (h *PunchHandler) HandleAttendanceSummary(w http.ResponseWriter, r *http.Request) {
	actorID, ok := GetActorIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	window := r.URL.Query().Get("window")
	if window == "" {
		window = "today"
	}
	from, to, err := windowBounds(window, time.Now())
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Stored client times are UTC; query in the same zone.
	summary, err := h.punchService.SummarizeWindow(actorID, from.UTC(), to.UTC())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	etag, etagErr := utils.GenerateETag(summary)
	if etagErr == nil {
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (h *PunchHandler) HandleEarnings(w http.ResponseWriter, r *http.Request) {
	actorID, ok := GetActorIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	statement, err := h.punchService.Earnings(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statement)
}

func (h *PunchHandler) HandlePendingSync(w http.ResponseWriter, r *http.Request) {
	actorID, ok := GetActorIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	pending, err := h.punchService.PendingSyncCount(actorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"pending_sync": pending})
}

type annotateRequest struct {
	Note string `json:"note"`
}

func (h *PunchHandler) HandleAnnotateNote(w http.ResponseWriter, r *http.Request) {
	var req annotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.punchService.AnnotateNote(r.PathValue("id"), req.Note); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// windowBounds resolves a named calendar window in the server's location.
// Weeks start on Monday.
func windowBounds(window string, now time.Time) (time.Time, time.Time, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch window {
	case "today":
		return midnight, midnight.AddDate(0, 0, 1), nil
	case "week":
		offset := int(midnight.Weekday()) - int(time.Monday)
		if offset < 0 {
			offset += 7
		}
		start := midnight.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7), nil
	case "month":
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0), nil
	}
	return time.Time{}, time.Time{}, &windowError{window}
}

type windowError struct{ window string }

func (e *windowError) Error() string {
	return "unknown window " + e.window + ", expected today, week or month"
}
