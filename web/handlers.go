package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"f0oster/dbspy/notify"
)

// Request/response types for JSON serialization

type RespondRequest struct {
	ActionID string            `json:"action_id"`
	ActorID  string            `json:"actor_id"`
	Data     map[string]string `json:"data,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Handlers

func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	s.sched.TriggerScanNow()
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "scan scheduled"})
}

func (s *Server) handleScannerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Status())
}

func (s *Server) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	history, err := s.pipe.SnapshotHistory(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scan history")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleLatestChanges(w http.ResponseWriter, r *http.Request) {
	changes := s.pipe.LatestChangeSet()
	if changes == nil {
		writeError(w, http.StatusNotFound, "No scan has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := notify.ActiveFilter{
		Priority: notify.Priority(q.Get("priority")),
		Type:     notify.Type(q.Get("type")),
	}

	active, err := s.notifier.ListActive(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}
	if active == nil {
		active = []*notify.Notification{}
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleNotificationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.notifier.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid notification ID")
		return
	}

	notification, err := s.notifier.Get(r.Context(), id)
	if errors.Is(err, notify.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Notification not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load notification")
		return
	}
	writeJSON(w, http.StatusOK, notification)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid notification ID")
		return
	}

	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.ActionID == "" {
		writeError(w, http.StatusBadRequest, "action_id is required")
		return
	}
	if req.ActorID == "" {
		req.ActorID = "system"
	}

	err = s.notifier.Respond(r.Context(), id, notify.ActionID(req.ActionID), req.ActorID, req.Data)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, StatusResponse{Status: "processed"})
	case errors.Is(err, notify.ErrNotFound):
		writeError(w, http.StatusNotFound, "Notification not found or already resolved")
	case errors.Is(err, notify.ErrActionNotAllowed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, notify.ErrActionFailed):
		// Surface the failure verbatim; the audit trail keeps the attempt.
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
