package models

import (
	"time"

	"github.com/google/uuid"
)

// RemoteSession is an authenticated, capability-scoped, time-bounded grant
// letting a paired device issue remote commands. Token digests only; the raw
// tokens are returned to the device exactly once.
//
// Invariant: at most one active session per device_id at any time.
type RemoteSession struct {
	ID               uuid.UUID      `json:"id" db:"id"`
	DeviceID         string         `json:"deviceId" db:"device_id"`
	UserID           string         `json:"userId" db:"user_id"`
	TokenHash        string         `json:"-" db:"token_hash"`
	RefreshTokenHash string         `json:"-" db:"refresh_token_hash"`
	Capabilities     CapabilityList `json:"capabilities" db:"capabilities"`
	IsActive         bool           `json:"isActive" db:"is_active"`
	CreatedAt        time.Time      `json:"createdAt" db:"created_at"`
	ExpiresAt        time.Time      `json:"expiresAt" db:"expires_at"`
	LastActivity     time.Time      `json:"lastActivity" db:"last_activity"`
	CommandsExecuted int            `json:"commandsExecuted" db:"commands_executed"`
	RevokedAt        *time.Time     `json:"revokedAt,omitempty" db:"revoked_at"`
	RevokeReason     string         `json:"revokeReason,omitempty" db:"revoke_reason"`
}

// IsExpired reports whether the session is past its hard expiry
func (s *RemoteSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsStale reports whether the session has seen no activity for longer than
// the idle threshold. A stale session is expired proactively, before its
// hard expiry.
func (s *RemoteSession) IsStale(now time.Time, idleThreshold time.Duration) bool {
	return now.Sub(s.LastActivity) > idleThreshold
}

// DerivedSecurityLevel returns the placeholder usage heuristic:
// HIGH above 100 executed commands, MEDIUM past 60 minutes of age, else LOW.
func (s *RemoteSession) DerivedSecurityLevel(now time.Time) SecurityLevel {
	switch {
	case s.CommandsExecuted > 100:
		return SecurityLevelHigh
	case now.Sub(s.CreatedAt) > time.Hour:
		return SecurityLevelMedium
	default:
		return SecurityLevelLow
	}
}
