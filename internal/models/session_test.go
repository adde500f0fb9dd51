package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRemoteSession_Lifecycle(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &RemoteSession{
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
		LastActivity: now,
	}

	assert.False(t, s.IsExpired(now))
	assert.False(t, s.IsExpired(now.Add(time.Hour)))
	assert.True(t, s.IsExpired(now.Add(time.Hour+time.Second)))

	assert.False(t, s.IsStale(now.Add(30*time.Minute), 30*time.Minute))
	assert.True(t, s.IsStale(now.Add(31*time.Minute), 30*time.Minute))
}

func TestRemoteSession_DerivedSecurityLevel(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &RemoteSession{CreatedAt: now}

	assert.Equal(t, SecurityLevelLow, s.DerivedSecurityLevel(now.Add(10*time.Minute)))
	assert.Equal(t, SecurityLevelMedium, s.DerivedSecurityLevel(now.Add(2*time.Hour)))

	s.CommandsExecuted = 101
	assert.Equal(t, SecurityLevelHigh, s.DerivedSecurityLevel(now))
}
