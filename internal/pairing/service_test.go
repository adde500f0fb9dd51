package pairing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotecast/remotecast-server/internal/audit"
	"github.com/remotecast/remotecast-server/internal/breaker"
	"github.com/remotecast/remotecast-server/internal/config"
	"github.com/remotecast/remotecast-server/internal/models"
	"github.com/remotecast/remotecast-server/internal/storage"
)

type stubQR struct{}

func (stubQR) Encode(payload string) ([]byte, error) { return []byte("png"), nil }

// faultyStore fails lookups to drive the breaker
type faultyStore struct {
	storage.Store
	fail bool
}

func (f *faultyStore) GetPairingTokenByCode(ctx context.Context, code string) (*models.PairingToken, error) {
	if f.fail {
		return nil, errors.New("connection refused")
	}
	return f.Store.GetPairingTokenByCode(ctx, code)
}

func testDeviceInfo() models.DeviceInfo {
	return models.DeviceInfo{
		Name:         "Pixel 8",
		OS:           "Android",
		OSVersion:    "14",
		Capabilities: []string{"playback_control", "status_read"},
	}
}

func newTestService(t *testing.T, store storage.Store) (*Service, *time.Time) {
	t.Helper()

	cfg := config.Default().Pairing
	br := breaker.New(5, 30*time.Second)
	svc := NewService(cfg, store, audit.NopSink{}, br, stubQR{}, "living-room-pc")

	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }
	return svc, &current
}

func TestService_Issue(t *testing.T) {
	svc, now := newTestService(t, storage.NewMemoryStore())

	result, err := svc.Issue(context.Background(), "U1", testDeviceInfo(), "10.0.0.1:4242")
	require.NoError(t, err)

	assert.Len(t, result.Code, 6)
	for _, r := range result.Code {
		assert.Contains(t, codeAlphabet, string(r))
	}
	assert.True(t, strings.HasPrefix(result.Token, "rpt_"))
	assert.Equal(t, now.Add(5*time.Minute), result.ExpiresAt)
	assert.Contains(t, result.QRPayload, result.Code)
	assert.Contains(t, result.QRPayload, "living-room-pc")
	assert.Equal(t, []byte("png"), result.QRImageData)
	assert.Contains(t, result.Instructions, result.Code)
}

func TestService_IssueRejectsInvalidDeviceInfo(t *testing.T) {
	svc, _ := newTestService(t, storage.NewMemoryStore())

	cases := []struct {
		name string
		info models.DeviceInfo
	}{
		{"missing name", models.DeviceInfo{OS: "Android", Capabilities: []string{"status_read"}}},
		{"missing os", models.DeviceInfo{Name: "Pixel 8", Capabilities: []string{"status_read"}}},
		{"no capabilities", models.DeviceInfo{Name: "Pixel 8", OS: "Android"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Issue(context.Background(), "U1", tc.info, "")
			assert.ErrorIs(t, err, ErrInvalidDeviceInfo)
		})
	}
}

func TestService_IssueRateLimitPerUser(t *testing.T) {
	store := storage.NewMemoryStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Issue(ctx, "U1", testDeviceInfo(), "")
		require.NoError(t, err, "request %d should succeed", i+1)
	}

	_, err := svc.Issue(ctx, "U1", testDeviceInfo(), "")
	assert.ErrorIs(t, err, ErrRateLimited)

	// The denied request must not have created a token
	now := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	tokens, err := store.ListExpiredPairingTokens(ctx, now, 100)
	require.NoError(t, err)
	assert.Len(t, tokens, 5)

	// Another user is unaffected
	svc.ResetLimits()
	_, err = svc.Issue(ctx, "U2", testDeviceInfo(), "")
	assert.NoError(t, err)
}

func TestService_ValidateHappyPath(t *testing.T) {
	svc, _ := newTestService(t, storage.NewMemoryStore())
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "U1", testDeviceInfo(), "")
	require.NoError(t, err)

	result, err := svc.Validate(ctx, issued.Code)
	require.NoError(t, err)
	require.True(t, result.Valid)
	assert.Empty(t, result.Error)
	assert.Equal(t, "U1", result.UserID)
	require.NotNil(t, result.DeviceInfo)
	assert.Equal(t, "Pixel 8", result.DeviceInfo.Name)
	assert.Equal(t, issued.Token, result.Token)
}

func TestService_ValidateUnknownCode(t *testing.T) {
	svc, _ := newTestService(t, storage.NewMemoryStore())

	result, err := svc.Validate(context.Background(), "ZZZZZZ")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "Invalid pairing code", result.Error)
	assert.Empty(t, result.Token)
}

func TestService_ValidateMalformedCode(t *testing.T) {
	svc, _ := newTestService(t, storage.NewMemoryStore())

	for _, code := range []string{"", "ABC", "ABCDEFGH", "AB-DE1"} {
		result, err := svc.Validate(context.Background(), code)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, "Invalid pairing code", result.Error)
	}
}

func TestService_ValidateNormalizesCode(t *testing.T) {
	svc, _ := newTestService(t, storage.NewMemoryStore())
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "U1", testDeviceInfo(), "")
	require.NoError(t, err)

	result, err := svc.Validate(ctx, "  "+strings.ToLower(issued.Code)+"  ")
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestService_ValidateSingleUse(t *testing.T) {
	svc, _ := newTestService(t, storage.NewMemoryStore())
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "U1", testDeviceInfo(), "")
	require.NoError(t, err)

	first, err := svc.Validate(ctx, issued.Code)
	require.NoError(t, err)
	require.True(t, first.Valid)

	second, err := svc.Validate(ctx, issued.Code)
	require.NoError(t, err)
	assert.False(t, second.Valid)
	assert.Equal(t, "Pairing code has already been used", second.Error)
}

func TestService_ValidateExpiredCode(t *testing.T) {
	svc, now := newTestService(t, storage.NewMemoryStore())
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "U1", testDeviceInfo(), "")
	require.NoError(t, err)

	*now = now.Add(6 * time.Minute)

	result, err := svc.Validate(ctx, issued.Code)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "Pairing code has expired", result.Error)
}

func TestService_ValidateRecordsSuspiciousActivity(t *testing.T) {
	store := storage.NewMemoryStore()
	cfg := config.Default().Pairing
	br := breaker.New(5, 30*time.Second)
	svc := NewService(cfg, store, audit.NewStoreSink(store), br, stubQR{}, "srv")

	ctx := context.Background()
	issued, err := svc.Issue(ctx, "U1", testDeviceInfo(), "")
	require.NoError(t, err)

	// Burn the attempt counter up past the review threshold without
	// consuming the code
	for i := 0; i < 5; i++ {
		result, err := svc.Validate(ctx, issued.Code)
		require.NoError(t, err)
		require.True(t, i != 0 || result.Valid)
	}

	suspicious := models.AuditSuspiciousActivity
	events, _, err := store.ListAuditEvents(ctx, storage.AuditEventFilters{Type: &suspicious}, 100, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, events, "repeated attempts should flag the token for review")
}

func TestService_ValidateBreakerOpensAfterStoreFailures(t *testing.T) {
	faulty := &faultyStore{Store: storage.NewMemoryStore(), fail: true}
	cfg := config.Default().Pairing
	br := breaker.New(3, 30*time.Second)
	svc := NewService(cfg, faulty, audit.NopSink{}, br, stubQR{}, "srv")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Validate(ctx, "ABCDEF")
		require.Error(t, err)
		assert.NotErrorIs(t, err, breaker.ErrOpen)
	}

	// Breaker is now open: the store is no longer touched
	_, err := svc.Validate(ctx, "ABCDEF")
	assert.ErrorIs(t, err, breaker.ErrOpen)
}

func TestComputeRiskScore(t *testing.T) {
	ttl := 5 * time.Minute

	assert.InDelta(t, 0, computeRiskScore(1, 0, ttl), 0.01)
	assert.InDelta(t, 15, computeRiskScore(2, 0, ttl), 0.01)
	assert.Greater(t, computeRiskScore(5, 4*time.Minute, ttl), 60.0)
	assert.LessOrEqual(t, computeRiskScore(50, 10*time.Minute, ttl), 100.0)
}
