package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/remotecast/remotecast-server/internal/models"
	"github.com/remotecast/remotecast-server/internal/storage"
)

// ========== Audit event handlers ==========

// HandleListAuditEvents lists security events for operators
func (s *RESTServer) HandleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	var filters storage.AuditEventFilters
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		filters.UserID = &userID
	}
	if deviceID := r.URL.Query().Get("device_id"); deviceID != "" {
		filters.DeviceID = &deviceID
	}
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		id, err := uuid.Parse(sessionID)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid session_id")
			return
		}
		filters.SessionID = &id
	}
	if eventType := r.URL.Query().Get("type"); eventType != "" {
		t := models.AuditEventType(eventType)
		filters.Type = &t
	}
	if level := r.URL.Query().Get("level"); level != "" {
		l := models.AuditLevel(level)
		filters.Level = &l
	}
	if start := r.URL.Query().Get("start"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start time")
			return
		}
		filters.StartTime = &t
	}
	if end := r.URL.Query().Get("end"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end time")
			return
		}
		filters.EndTime = &t
	}

	events, total, err := s.store.ListAuditEvents(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}
