package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/remotecast/remotecast-server/internal/breaker"
	"github.com/remotecast/remotecast-server/internal/session"
	"github.com/remotecast/remotecast-server/internal/storage"
)

// ========== Session handlers ==========

// HandleRefreshSession rotates a device session's token pair
func (s *RESTServer) HandleRefreshSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tokens, err := s.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidToken),
			errors.Is(err, session.ErrSessionNotFound),
			errors.Is(err, session.ErrSessionExpired):
			s.respondError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		case errors.Is(err, breaker.ErrOpen):
			s.respondError(w, http.StatusServiceUnavailable, "session refresh temporarily unavailable")
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.respondJSON(w, http.StatusOK, tokens)
}

// HandleRevokeSession revokes the session a device token belongs to.
// Idempotent: revoking an unknown token still returns 204.
func (s *RESTServer) HandleRevokeSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  string `json:"token" validate:"required"`
		Reason string `json:"reason"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "client request"
	}

	if err := s.sessions.Revoke(r.Context(), req.Token, reason); err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			s.respondError(w, http.StatusServiceUnavailable, "session revocation temporarily unavailable")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleListSessions lists sessions for operators
func (s *RESTServer) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	var filters storage.SessionFilters
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		filters.UserID = &userID
	}
	if deviceID := r.URL.Query().Get("device_id"); deviceID != "" {
		filters.DeviceID = &deviceID
	}
	filters.ActiveOnly = r.URL.Query().Get("active") == "true"

	sessions, total, err := s.store.ListSessions(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    total,
	})
}

// HandleAdminRevokeSession revokes a session by id
func (s *RESTServer) HandleAdminRevokeSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if err := s.sessions.RevokeByID(r.Context(), id, "operator revocation"); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleAdminRotateSession issues a fresh token pair for an active session
func (s *RESTServer) HandleAdminRotateSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	tokens, err := s.sessions.Rotate(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			s.respondError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, session.ErrSessionExpired):
			s.respondError(w, http.StatusConflict, "session is no longer active")
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.respondJSON(w, http.StatusOK, tokens)
}
