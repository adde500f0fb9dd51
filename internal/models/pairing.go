package models

import (
	"time"

	"github.com/google/uuid"
)

// PairingToken is a short-lived credential pair binding a new device to a
// user account: a human-enterable code plus an opaque secret. The secret is
// handed back to the orchestrator on successful redemption, so it is stored
// as issued; the record lives minutes at most.
type PairingToken struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	Code       string     `json:"code" db:"code"`
	Token      string     `json:"-" db:"token"`
	UserID     string     `json:"userId" db:"user_id"`
	DeviceInfo DeviceInfo `json:"deviceInfo" db:"device_info"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	ExpiresAt  time.Time  `json:"expiresAt" db:"expires_at"`
	Attempts   int        `json:"attempts" db:"attempts"`
	IsUsed     bool       `json:"isUsed" db:"is_used"`
	UsedAt     *time.Time `json:"usedAt,omitempty" db:"used_at"`
	RiskScore  float64    `json:"riskScore" db:"risk_score"`
}

// IsExpired reports whether the token is past its expiry at the given time
func (t *PairingToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
