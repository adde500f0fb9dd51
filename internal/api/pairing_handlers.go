package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/remotecast/remotecast-server/internal/breaker"
	"github.com/remotecast/remotecast-server/internal/models"
	"github.com/remotecast/remotecast-server/internal/pairing"
	"github.com/remotecast/remotecast-server/internal/session"
)

// ========== Pairing handlers ==========

// HandleRequestPairing issues a pairing code for the authenticated user
func (s *RESTServer) HandleRequestPairing(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		s.respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req struct {
		DeviceInfo models.DeviceInfo `json:"deviceInfo"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.pairing.Issue(r.Context(), claims.UserID.String(), req.DeviceInfo, r.RemoteAddr)
	if err != nil {
		switch {
		case errors.Is(err, pairing.ErrInvalidDeviceInfo):
			s.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, pairing.ErrRateLimited):
			s.respondError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, breaker.ErrOpen):
			s.respondError(w, http.StatusServiceUnavailable, "pairing temporarily unavailable")
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.respondJSON(w, http.StatusCreated, result)
}

// HandleClaimPairing redeems a pairing code and establishes the device
// session in one round trip
func (s *RESTServer) HandleClaimPairing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code     string `json:"code" validate:"required"`
		DeviceID string `json:"deviceId" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.pairing.Validate(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			s.respondError(w, http.StatusServiceUnavailable, "pairing temporarily unavailable")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !result.Valid {
		s.respondJSON(w, http.StatusBadRequest, result)
		return
	}

	caps, err := models.ParseCapabilities(result.DeviceInfo.Capabilities)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.sessions.RegisterDevice(r.Context(), req.DeviceID, result.UserID, *result.DeviceInfo, caps); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	tokens, err := s.sessions.Create(r.Context(), req.DeviceID, result.UserID, caps)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRateLimited):
			s.respondError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, breaker.ErrOpen):
			s.respondError(w, http.StatusServiceUnavailable, "session creation temporarily unavailable")
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"valid":        true,
		"userId":       result.UserID,
		"deviceInfo":   result.DeviceInfo,
		"token":        result.Token,
		"capabilities": caps,
		"session":      tokens,
	})
}
