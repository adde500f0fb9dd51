package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SecurityLevel is a heuristic signal derived from usage counters.
// It is surfaced for review, never enforced as an access decision.
type SecurityLevel string

const (
	SecurityLevelLow    SecurityLevel = "LOW"
	SecurityLevelMedium SecurityLevel = "MEDIUM"
	SecurityLevelHigh   SecurityLevel = "HIGH"
)

// DeviceInfo is the fingerprint snapshot a device presents during pairing
type DeviceInfo struct {
	Name         string   `json:"name"`
	OS           string   `json:"os"`
	OSVersion    string   `json:"osVersion,omitempty"`
	Model        string   `json:"model,omitempty"`
	AppVersion   string   `json:"appVersion,omitempty"`
	ScreenSize   string   `json:"screenSize,omitempty"`
	Locale       string   `json:"locale,omitempty"`
	Capabilities []string `json:"capabilities"`
}

// Validate checks the minimal schema for pairing requests
func (d DeviceInfo) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("device name is required")
	}
	if d.OS == "" {
		return fmt.Errorf("device os is required")
	}
	if len(d.Capabilities) == 0 {
		return fmt.Errorf("at least one capability is required")
	}
	return nil
}

// Value implements driver.Valuer interface
func (d DeviceInfo) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner interface
func (d *DeviceInfo) Scan(value interface{}) error {
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, d)
	case string:
		return json.Unmarshal([]byte(data), d)
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported device info type %T", value)
	}
}

// MobileDevice represents a paired mobile device
type MobileDevice struct {
	DeviceID      string         `json:"deviceId" db:"device_id"`
	UserID        string         `json:"userId" db:"user_id"`
	Fingerprint   DeviceInfo     `json:"fingerprint" db:"fingerprint"`
	Capabilities  CapabilityList `json:"capabilities" db:"capabilities"`
	IsPaired      bool           `json:"isPaired" db:"is_paired"`
	SecurityLevel SecurityLevel  `json:"securityLevel" db:"security_level"`
	BatteryLevel  *float64       `json:"batteryLevel,omitempty" db:"battery_level"`
	NetworkType   string         `json:"networkType,omitempty" db:"network_type"`
	LastSeenAt    *time.Time     `json:"lastSeenAt,omitempty" db:"last_seen_at"`
	CreatedAt     time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time      `json:"updatedAt" db:"updated_at"`
}
