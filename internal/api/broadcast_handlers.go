package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/remotecast/remotecast-server/internal/gateway"
	"github.com/remotecast/remotecast-server/internal/models"
)

// broadcastableEvents limits operator pushes to server-initiated event
// types devices know how to render
var broadcastableEvents = map[string]bool{
	gateway.EventStreamStatusUpdate: true,
	gateway.EventAdDetected:         true,
	gateway.EventPipStatusUpdate:    true,
}

// ========== Broadcast handlers ==========

// HandleBroadcastToDevice publishes an event to every connection of a
// device, across all gateway nodes
func (s *RESTServer) HandleBroadcastToDevice(w http.ResponseWriter, r *http.Request) {
	s.handleBroadcast(w, r, func(eventType string, payload models.Variables) error {
		return s.bridge.PublishToDevice(chi.URLParam(r, "device_id"), eventType, payload)
	})
}

// HandleBroadcastToUser publishes an event to every connection of a user's
// devices, across all gateway nodes
func (s *RESTServer) HandleBroadcastToUser(w http.ResponseWriter, r *http.Request) {
	s.handleBroadcast(w, r, func(eventType string, payload models.Variables) error {
		return s.bridge.PublishToUser(chi.URLParam(r, "user_id"), eventType, payload)
	})
}

func (s *RESTServer) handleBroadcast(w http.ResponseWriter, r *http.Request, publish func(string, models.Variables) error) {
	if s.bridge == nil {
		s.respondError(w, http.StatusServiceUnavailable, "broadcast requires NATS")
		return
	}

	var req struct {
		Type    string           `json:"type" validate:"required"`
		Payload models.Variables `json:"payload"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !broadcastableEvents[req.Type] {
		s.respondError(w, http.StatusBadRequest, "event type is not broadcastable")
		return
	}

	if err := publish(req.Type, req.Payload); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
