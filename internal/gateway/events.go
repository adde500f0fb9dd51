package gateway

import (
	"encoding/json"
	"time"

	"github.com/remotecast/remotecast-server/internal/models"
)

// Message is the wire envelope for every gateway event, in both directions
type Message struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Client-to-server event types
const (
	EventAuthenticate         = "authenticate"
	EventExecuteCommand       = "executeCommand"
	EventExecuteStreamCommand = "executeStreamCommand"
	EventRequestStatus        = "requestStatus"
	EventHeartbeat            = "heartbeat"
	EventRefreshSession       = "refreshSession"
)

// Server-to-client event types
const (
	EventAuthenticated        = "authenticated"
	EventAuthenticationFailed = "authenticationFailed"
	EventCommandResult        = "commandResult"
	EventStreamCommandResult  = "streamCommandResult"
	EventStatusResponse       = "statusResponse"
	EventHeartbeatAck         = "heartbeatAck"
	EventSessionRefreshed     = "sessionRefreshed"
	EventSessionExpired       = "sessionExpired"
	EventError                = "error"
)

// Broadcast event types fanned out to rooms
const (
	EventStreamStatusUpdate = "streamStatusUpdate"
	EventAdDetected         = "adDetected"
	EventPipStatusUpdate    = "pipStatusUpdate"
)

// AuthenticatePayload is the first message a device must send after connect
type AuthenticatePayload struct {
	SessionToken string `json:"sessionToken"`
	DeviceID     string `json:"deviceId"`
}

// AuthenticatedPayload acknowledges a successful handshake
type AuthenticatedPayload struct {
	SessionID     string                `json:"sessionId"`
	Capabilities  models.CapabilityList `json:"capabilities"`
	SecurityLevel models.SecurityLevel  `json:"securityLevel"`
	ExpiresAt     time.Time             `json:"expiresAt"`
}

// CommandPayload carries a remote-control command request. Parameters stays
// raw so the dispatcher can tell an explicit null from an absent object.
type CommandPayload struct {
	Command    string          `json:"command"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// CommandResultPayload reports the outcome of a command
type CommandResultPayload struct {
	Command string           `json:"command"`
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
	Result  models.Variables `json:"result,omitempty"`
}

// HeartbeatPayload carries device telemetry piggybacked on heartbeats
type HeartbeatPayload struct {
	Timestamp    time.Time `json:"timestamp,omitempty"`
	BatteryLevel *float64  `json:"batteryLevel,omitempty"`
	NetworkType  string    `json:"networkType,omitempty"`
}

// HeartbeatAckPayload echoes the server clock back to the device
type HeartbeatAckPayload struct {
	ServerTime time.Time `json:"serverTime"`
}

// RefreshSessionPayload requests an in-socket token rotation
type RefreshSessionPayload struct {
	RefreshToken string `json:"refreshToken"`
}

// SessionRefreshedPayload returns the new token pair
type SessionRefreshedPayload struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// StatusResponsePayload answers a requestStatus event
type StatusResponsePayload struct {
	DeviceID string           `json:"deviceId"`
	Status   models.Variables `json:"status"`
}

// ErrorPayload reports a recoverable protocol error
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newMessage(eventType, requestID string, payload interface{}) Message {
	data, _ := json.Marshal(payload)
	return Message{Type: eventType, RequestID: requestID, Payload: data}
}

// commandCapabilities maps commands to the capability a session must hold
var commandCapabilities = map[string]models.Capability{
	"play":          models.CapabilityPlaybackControl,
	"pause":         models.CapabilityPlaybackControl,
	"stop":          models.CapabilityPlaybackControl,
	"seek":          models.CapabilityPlaybackControl,
	"next":          models.CapabilityPlaybackControl,
	"previous":      models.CapabilityPlaybackControl,
	"setVolume":     models.CapabilityVolumeControl,
	"mute":          models.CapabilityVolumeControl,
	"unmute":        models.CapabilityVolumeControl,
	"pipEnter":      models.CapabilityPiPControl,
	"pipExit":       models.CapabilityPiPControl,
	"pipMove":       models.CapabilityPiPControl,
	"startStream":   models.CapabilityStreamControl,
	"stopStream":    models.CapabilityStreamControl,
	"switchStream":  models.CapabilityStreamControl,
	"setQuality":    models.CapabilityStreamControl,
	"requestStatus": models.CapabilityStatusRead,
}
