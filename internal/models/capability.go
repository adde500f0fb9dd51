package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Capability represents a named permission enabling a category of remote command
type Capability string

const (
	CapabilityStreamControl   Capability = "stream_control"
	CapabilityPlaybackControl Capability = "playback_control"
	CapabilityVolumeControl   Capability = "volume_control"
	CapabilityPiPControl      Capability = "pip_control"
	CapabilityStatusRead      Capability = "status_read"
)

// allCapabilities is the closed set of grantable capabilities
var allCapabilities = map[Capability]bool{
	CapabilityStreamControl:   true,
	CapabilityPlaybackControl: true,
	CapabilityVolumeControl:   true,
	CapabilityPiPControl:      true,
	CapabilityStatusRead:      true,
}

// IsValid reports whether c is a recognized capability
func (c Capability) IsValid() bool {
	return allCapabilities[c]
}

// ParseCapabilities validates a list of raw capability names
func ParseCapabilities(raw []string) ([]Capability, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one capability is required")
	}
	caps := make([]Capability, 0, len(raw))
	for _, r := range raw {
		c := Capability(r)
		if !c.IsValid() {
			return nil, fmt.Errorf("unknown capability: %s", r)
		}
		caps = append(caps, c)
	}
	return caps, nil
}

// CapabilityList is a set of granted capabilities, stored as JSON
type CapabilityList []Capability

// Contains reports whether the list grants the given capability
func (l CapabilityList) Contains(c Capability) bool {
	for _, g := range l {
		if g == c {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every capability in l is also in other
func (l CapabilityList) SubsetOf(other CapabilityList) bool {
	for _, c := range l {
		if !other.Contains(c) {
			return false
		}
	}
	return true
}

// Value implements driver.Valuer interface
func (l CapabilityList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]Capability{})
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner interface
func (l *CapabilityList) Scan(value interface{}) error {
	if value == nil {
		*l = CapabilityList{}
		return nil
	}

	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, l)
	case string:
		return json.Unmarshal([]byte(data), l)
	default:
		return fmt.Errorf("unsupported capability list type %T", value)
	}
}
