package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent represents an append-only security event log entry.
// Events are never mutated or deleted once written.
type AuditEvent struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	Type        AuditEventType `json:"type" db:"type"`
	Level       AuditLevel     `json:"level" db:"level"`
	UserID      string         `json:"userId,omitempty" db:"user_id"`
	DeviceID    string         `json:"deviceId,omitempty" db:"device_id"`
	SessionID   *uuid.UUID     `json:"sessionId,omitempty" db:"session_id"`
	RemoteAddr  string         `json:"remoteAddr,omitempty" db:"remote_addr"`
	Result      string         `json:"result" db:"result"`
	Description string         `json:"description" db:"description"`
	Details     Variables      `json:"details,omitempty" db:"details"`
}

// AuditEventType represents audit event types
type AuditEventType string

const (
	// Pairing events
	AuditPairingTokenIssued AuditEventType = "PAIRING_TOKEN_ISSUED"
	AuditPairingCompleted   AuditEventType = "PAIRING_COMPLETED"
	AuditPairingFailed      AuditEventType = "PAIRING_FAILED"

	// Session events
	AuditSessionCreated   AuditEventType = "SESSION_CREATED"
	AuditSessionRefreshed AuditEventType = "SESSION_REFRESHED"
	AuditSessionRevoked   AuditEventType = "SESSION_REVOKED"
	AuditSessionExpired   AuditEventType = "SESSION_EXPIRED"

	// Gateway events
	AuditConnectionOpened AuditEventType = "CONNECTION_OPENED"
	AuditConnectionClosed AuditEventType = "CONNECTION_CLOSED"
	AuditAuthFailed       AuditEventType = "AUTH_FAILED"
	AuditCommandRejected  AuditEventType = "COMMAND_REJECTED"

	// Abuse signals
	AuditRateLimitExceeded  AuditEventType = "RATE_LIMIT_EXCEEDED"
	AuditSuspiciousActivity AuditEventType = "SUSPICIOUS_ACTIVITY"
)

// AuditLevel represents audit event severity levels
type AuditLevel string

const (
	AuditLevelInfo    AuditLevel = "INFO"
	AuditLevelWarning AuditLevel = "WARNING"
	AuditLevelError   AuditLevel = "ERROR"
)

// Audit results
const (
	AuditResultSuccess = "success"
	AuditResultFailure = "failure"
)
