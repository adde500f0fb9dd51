package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/remotecast/remotecast-server/internal/models"
	"github.com/remotecast/remotecast-server/internal/storage"
)

// ========== Device handlers ==========

// HandleListDevices lists paired devices. Non-admin operators only see
// their own devices.
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := claimsFromContext(ctx)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	userID := r.URL.Query().Get("user_id")
	if claims != nil && !claims.IsAdmin {
		userID = claims.UserID.String()
	}

	devices, total, err := s.store.ListDevices(ctx, userID, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   total,
	})
}

// HandleGetDevice gets a device
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	device, err := s.store.GetDevice(ctx, chi.URLParam(r, "device_id"))
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	claims := claimsFromContext(ctx)
	if claims != nil && !claims.IsAdmin && device.UserID != claims.UserID.String() {
		s.respondError(w, http.StatusForbidden, "device belongs to another user")
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleCheckFingerprint compares presented device info against the stored
// fingerprint and reports a risk recommendation
func (s *RESTServer) HandleCheckFingerprint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceInfo models.DeviceInfo `json:"deviceInfo"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.sessions.ValidateDeviceFingerprint(r.Context(), chi.URLParam(r, "device_id"), req.DeviceInfo)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, result)
}
