package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotecast/remotecast-server/internal/audit"
	"github.com/remotecast/remotecast-server/internal/breaker"
	"github.com/remotecast/remotecast-server/internal/config"
	"github.com/remotecast/remotecast-server/internal/models"
	"github.com/remotecast/remotecast-server/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemoryStore, *time.Time) {
	t.Helper()

	store := storage.NewMemoryStore()
	cfg := config.Default().Session
	br := breaker.New(5, 30*time.Second)
	m := NewManager(cfg, store, audit.NopSink{}, br)

	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }
	return m, store, &current
}

func testCaps() models.CapabilityList {
	return models.CapabilityList{models.CapabilityStreamControl, models.CapabilityStatusRead}
}

func TestManager_Create(t *testing.T) {
	m, store, now := newTestManager(t)

	tokens, err := m.Create(context.Background(), "D1", "U1", testCaps())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, tokens.SessionID)
	assert.True(t, strings.HasPrefix(tokens.Token, "rst_"))
	assert.True(t, strings.HasPrefix(tokens.RefreshToken, "rrt_"))
	assert.Equal(t, now.Add(time.Hour), tokens.ExpiresAt)

	stored, err := store.GetSession(context.Background(), tokens.SessionID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.Equal(t, "D1", stored.DeviceID)
	assert.Equal(t, "U1", stored.UserID)
	assert.Equal(t, testCaps(), stored.Capabilities)
}

func TestManager_CreateRejectsBadInput(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "", "U1", testCaps())
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Create(ctx, "D1", "", testCaps())
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Create(ctx, "D1", "U1", models.CapabilityList{"root_access"})
	assert.ErrorIs(t, err, ErrInvalidCapabilities)
}

func TestManager_CreateSupersedesPriorSession(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Create(ctx, "D1", "U1", testCaps())
	require.NoError(t, err)

	second, err := m.Create(ctx, "D1", "U1", testCaps())
	require.NoError(t, err)

	_, err = m.Validate(ctx, first.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)

	got, err := m.Validate(ctx, second.Token)
	require.NoError(t, err)
	assert.Equal(t, second.SessionID, got.Session.ID)

	old, err := store.GetSession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Equal(t, ReasonSuperseded, old.RevokeReason)
	require.NotNil(t, old.RevokedAt)
}

func TestManager_CreateOtherDeviceUnaffected(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Create(ctx, "D1", "U1", testCaps())
	require.NoError(t, err)

	_, err = m.Create(ctx, "D2", "U1", testCaps())
	require.NoError(t, err)

	_, err = m.Validate(ctx, first.Token)
	assert.NoError(t, err)
}

func TestManager_ValidateUpdatesActivity(t *testing.T) {
	m, store, now := newTestManager(t)
	ctx := context.Background()

	tokens, err := m.Create(ctx, "D1", "U1", testCaps())
	require.NoError(t, err)

	*now = now.Add(10 * time.Minute)

	got, err := m.Validate(ctx, tokens.Token)
	require.NoError(t, err)
	assert.Equal(t, *now, got.Session.LastActivity)

	stored, err := store.GetSession(ctx, tokens.SessionID)
	require.NoError(t, err)
	assert.Equal(t, *now, stored.LastActivity)
}

func TestManager_ValidateRejectsMalformedTokens(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for _, token := range []string{"", "rst_short", "rrt_" + strings.Repeat("a", 43), strings.Repeat("a", 47)} {
		_, err := m.Validate(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestManager_ValidateUnknownToken(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Validate(context.Background(), "rst_"+strings.Repeat("a", 43))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_ValidateStaleSession(t *testing.T) {
	m, store, now := newTestManager(t)
	ctx := context.Background()

	tokens, err := m.Create(ctx, "D1", "U1", testCaps())
	require.NoError(t, err)

	*now = now.Add(31 * time.Minute)

	_, err = m.Validate(ctx, tokens.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)

	stored, err := store.GetSession(ctx, tokens.SessionID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, ReasonStale, stored.RevokeReason)
}

func TestManager_ValidateHardExpiry(t *testing.T) {
	m, store, now := newTestManager(t)
	ctx := context.Background()

	tokens, err := m.Create(ctx, "D1", "U1", testCaps())
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour)

	_, err = m.Validate(ctx, tokens.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)

	stored, err := store.GetSession(ctx, tokens.SessionID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, ReasonExpired, stored.RevokeReason)
}

func TestManager_RefreshRotatesTokenPair(t *testing.T) {
	m, _, now := newTestManager(t)
	ctx := context.Background()

	tokens, err := m.Create(ctx, "D1", "U1", testCaps())
	require.NoError(t, err)

	*now = now.Add(20 * time.Minute)

	rotated, err := m.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.SessionID, rotated.SessionID)
	assert.NotEqual(t, tokens.Token, rotated.Token)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, now.Add(time.Hour), rotated.ExpiresAt)

	// Old pair is dead, new pair works
	_, err = m.Validate(ctx, tokens.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Refresh(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	got, err := m.Validate(ctx, rotated.Token)
	require.NoError(t, err)
	assert.Equal(t, tokens.SessionID, got.Session.ID)
}

func TestManager_RefreshFailureLeavesSessionValid(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	tokens, err := m.Create(ctx, "D1", "U1", testCaps())
	require.NoError(t, err)

	_, err = m.Refresh(ctx, "rrt_"+strings.Repeat("x", 43))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = m.Refresh(ctx, "not a token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Validate(ctx, tokens.Token)
	assert.NoError(t, err)
}

func TestManager_RefreshRevokedSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	tokens, err := m.Create(ctx, "D1", "U1", testCaps())
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, tokens.Token, "user logout"))

	_, err = m.Refresh(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestManager_RotateByID(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	tokens, err := m.Create(ctx, "D1", "U1", testCaps())
	require.NoError(t, err)

	rotated, err := m.Rotate(ctx, tokens.SessionID)
	require.NoError(t, err)
	assert.Equal(t, tokens.SessionID, rotated.SessionID)
	assert.NotEqual(t, tokens.Token, rotated.Token)

	_, err = m.Rotate(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_RevokeIsIdempotent(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	tokens, err := m.Create(ctx, "D1", "U1", testCaps())
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, tokens.Token, "user logout"))
	require.NoError(t, m.Revoke(ctx, tokens.Token, "user logout"))
	require.NoError(t, m.Revoke(ctx, "rst_"+strings.Repeat("z", 43), "whatever"))
	require.NoError(t, m.Revoke(ctx, "garbage", "whatever"))

	stored, err := store.GetSession(ctx, tokens.SessionID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, "user logout", stored.RevokeReason)

	_, err = m.Validate(ctx, tokens.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestManager_CreateRateLimited(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Create(ctx, "D1", "U1", testCaps())
		require.NoError(t, err)
	}

	_, err := m.Create(ctx, "D1", "U1", testCaps())
	assert.ErrorIs(t, err, ErrRateLimited)

	// Per-device window: another device still creates fine
	_, err = m.Create(ctx, "D2", "U1", testCaps())
	assert.NoError(t, err)
}

func TestManager_RecordCommand(t *testing.T) {
	m, store, now := newTestManager(t)
	ctx := context.Background()

	tokens, err := m.Create(ctx, "D1", "U1", testCaps())
	require.NoError(t, err)

	*now = now.Add(5 * time.Minute)
	require.NoError(t, m.RecordCommand(ctx, tokens.SessionID))
	require.NoError(t, m.RecordCommand(ctx, tokens.SessionID))

	stored, err := store.GetSession(ctx, tokens.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CommandsExecuted)
	assert.Equal(t, *now, stored.LastActivity)
}

func TestManager_ValidateDeviceFingerprint(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	info := models.DeviceInfo{
		Name:         "Pixel 8",
		OS:           "Android",
		Model:        "GX7AS",
		Capabilities: []string{"stream_control"},
	}
	require.NoError(t, m.RegisterDevice(ctx, "D1", "U1", info, testCaps()))

	t.Run("match", func(t *testing.T) {
		result, err := m.ValidateDeviceFingerprint(ctx, "D1", info)
		require.NoError(t, err)
		assert.True(t, result.Match)
		assert.Empty(t, result.Mismatched)
	})

	t.Run("mismatch", func(t *testing.T) {
		changed := info
		changed.OS = "iOS"
		result, err := m.ValidateDeviceFingerprint(ctx, "D1", changed)
		require.NoError(t, err)
		assert.False(t, result.Match)
		assert.Contains(t, result.Mismatched, "os")
		assert.NotEmpty(t, result.Recommendation)
	})

	t.Run("optional fields compared only when both present", func(t *testing.T) {
		partial := info
		partial.Model = ""
		result, err := m.ValidateDeviceFingerprint(ctx, "D1", partial)
		require.NoError(t, err)
		assert.True(t, result.Match)
	})

	t.Run("unknown device", func(t *testing.T) {
		result, err := m.ValidateDeviceFingerprint(ctx, "D9", info)
		require.NoError(t, err)
		assert.False(t, result.Match)
		assert.Contains(t, result.Recommendation, "re-pairing")
	})
}
