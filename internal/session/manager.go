package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/remotecast/remotecast-server/internal/audit"
	"github.com/remotecast/remotecast-server/internal/breaker"
	"github.com/remotecast/remotecast-server/internal/config"
	"github.com/remotecast/remotecast-server/internal/models"
	"github.com/remotecast/remotecast-server/internal/ratelimit"
	"github.com/remotecast/remotecast-server/internal/storage"
	"github.com/remotecast/remotecast-server/pkg/crypto"
)

// Manager errors
var (
	ErrInvalidToken        = errors.New("invalid session token")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExpired      = errors.New("session expired")
	ErrInvalidCapabilities = errors.New("invalid capabilities")
	ErrRateLimited         = errors.New("rate limit exceeded")
)

const (
	sessionTokenPrefix = "rst_"
	refreshTokenPrefix = "rrt_"
	tokenSecretBytes   = 32
)

// Revocation reasons recorded on deactivated sessions
const (
	ReasonSuperseded = "superseded"
	ReasonExpired    = "expired"
	ReasonStale      = "stale"
)

// Manager creates, validates, refreshes, rotates, and revokes remote
// sessions, enforcing one active session per device.
type Manager struct {
	cfg   config.SessionConfig
	store storage.Store
	sink  audit.Sink
	br    *breaker.Breaker

	createLimiter *ratelimit.Limiter

	// Serializes the deactivate-all-then-create sequence per device so
	// two concurrent pairing flows cannot both end up active.
	locksMu     sync.Mutex
	deviceLocks map[string]*sync.Mutex

	now func() time.Time
}

// NewManager creates a session manager. The breaker is the process-wide
// store guard, shared with the pairing service.
func NewManager(cfg config.SessionConfig, store storage.Store, sink audit.Sink, br *breaker.Breaker) *Manager {
	return &Manager{
		cfg:           cfg,
		store:         store,
		sink:          sink,
		br:            br,
		createLimiter: ratelimit.NewLimiter(cfg.CreateRateLimit, cfg.CreateRateWindow),
		deviceLocks:   make(map[string]*sync.Mutex),
		now:           time.Now,
	}
}

// Tokens is the credential pair returned to a device. Raw tokens appear
// here exactly once; only digests are stored.
type Tokens struct {
	SessionID    uuid.UUID `json:"sessionId"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ValidatedSession is the outcome of a successful token validation
type ValidatedSession struct {
	Session       *models.RemoteSession
	SecurityLevel models.SecurityLevel
}

// FingerprintResult is a non-blocking comparison of presented device info
// against the stored fingerprint
type FingerprintResult struct {
	Match          bool     `json:"match"`
	Mismatched     []string `json:"mismatched,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Create issues a new session for a device, deactivating every prior active
// session for it first. The two steps run inside one transaction under a
// per-device lock.
func (m *Manager) Create(ctx context.Context, deviceID, userID string, caps models.CapabilityList) (*Tokens, error) {
	if deviceID == "" || userID == "" {
		return nil, fmt.Errorf("%w: device and user ids are required", ErrInvalidToken)
	}
	for _, c := range caps {
		if !c.IsValid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCapabilities, c)
		}
	}

	if !m.createLimiter.Allow(deviceID) {
		m.sink.Record(ctx, &models.AuditEvent{
			Type:        models.AuditRateLimitExceeded,
			Level:       models.AuditLevelWarning,
			UserID:      userID,
			DeviceID:    deviceID,
			Result:      models.AuditResultFailure,
			Description: "Rate limit exceeded: session creation per device",
		})
		return nil, fmt.Errorf("%w: too many sessions created for device", ErrRateLimited)
	}

	token, err := crypto.NewOpaqueToken(sessionTokenPrefix, tokenSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	refreshToken, err := crypto.NewOpaqueToken(refreshTokenPrefix, tokenSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := m.now()
	session := &models.RemoteSession{
		ID:               uuid.New(),
		DeviceID:         deviceID,
		UserID:           userID,
		TokenHash:        crypto.HashToken(token),
		RefreshTokenHash: crypto.HashToken(refreshToken),
		Capabilities:     caps,
		IsActive:         true,
		CreatedAt:        now,
		ExpiresAt:        now.Add(m.cfg.TokenTTL),
		LastActivity:     now,
	}

	unlock := m.lockDevice(deviceID)
	defer unlock()

	var superseded int64
	err = m.withBreaker(func() error {
		tx, err := m.store.BeginTx(ctx)
		if err != nil {
			return err
		}

		superseded, err = tx.DeactivateDeviceSessions(ctx, deviceID, ReasonSuperseded, now)
		if err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.CreateSession(ctx, session); err != nil {
			tx.Rollback()
			return err
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.sink.Record(ctx, &models.AuditEvent{
		Type:        models.AuditSessionCreated,
		UserID:      userID,
		DeviceID:    deviceID,
		SessionID:   &session.ID,
		Result:      models.AuditResultSuccess,
		Description: "Session created",
		Details: models.Variables{
			"capabilities": caps,
			"superseded":   superseded,
			"expiresAt":    session.ExpiresAt,
		},
	})

	return &Tokens{
		SessionID:    session.ID,
		Token:        token,
		RefreshToken: refreshToken,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// Validate checks a bearer session token. A session can be expired here
// proactively on staleness, before its hard expiry.
func (m *Manager) Validate(ctx context.Context, token string) (*ValidatedSession, error) {
	if !wellFormedToken(token, sessionTokenPrefix) {
		return nil, ErrInvalidToken
	}

	session, err := m.lookup(ctx, func() (*models.RemoteSession, error) {
		return m.store.GetSessionByTokenHash(ctx, crypto.HashToken(token))
	})
	if err != nil {
		return nil, err
	}

	now := m.now()

	if !session.IsActive {
		return nil, fmt.Errorf("%w: session superseded or revoked", ErrSessionExpired)
	}

	if session.IsExpired(now) {
		m.deactivate(ctx, session, ReasonExpired, now)
		return nil, fmt.Errorf("%w: past hard expiry", ErrSessionExpired)
	}

	if session.IsStale(now, m.cfg.IdleThreshold) {
		m.deactivate(ctx, session, ReasonStale, now)
		return nil, fmt.Errorf("%w: idle too long", ErrSessionExpired)
	}

	session.LastActivity = now
	if err := m.store.UpdateSession(ctx, session); err != nil {
		log.Warn().Err(err).Str("sessionID", session.ID.String()).Msg("Failed to update session activity")
	}

	return &ValidatedSession{
		Session:       session,
		SecurityLevel: session.DerivedSecurityLevel(now),
	}, nil
}

// Refresh swaps in a new session+refresh token pair for a valid refresh
// token. Any failure leaves the prior tokens fully valid.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if !wellFormedToken(refreshToken, refreshTokenPrefix) {
		return nil, ErrInvalidToken
	}

	session, err := m.lookup(ctx, func() (*models.RemoteSession, error) {
		return m.store.GetSessionByRefreshTokenHash(ctx, crypto.HashToken(refreshToken))
	})
	if err != nil {
		return nil, err
	}

	return m.rotate(ctx, session)
}

// Rotate issues a fresh token pair for an active session by id, preserving
// identity and capabilities
func (m *Manager) Rotate(ctx context.Context, sessionID uuid.UUID) (*Tokens, error) {
	session, err := m.lookup(ctx, func() (*models.RemoteSession, error) {
		return m.store.GetSession(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}

	return m.rotate(ctx, session)
}

func (m *Manager) rotate(ctx context.Context, session *models.RemoteSession) (*Tokens, error) {
	now := m.now()

	if !session.IsActive {
		return nil, fmt.Errorf("%w: session superseded or revoked", ErrSessionExpired)
	}
	if session.IsExpired(now) {
		m.deactivate(ctx, session, ReasonExpired, now)
		return nil, fmt.Errorf("%w: past hard expiry", ErrSessionExpired)
	}

	token, err := crypto.NewOpaqueToken(sessionTokenPrefix, tokenSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	refreshToken, err := crypto.NewOpaqueToken(refreshTokenPrefix, tokenSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	// The swap is a single conditional update: either every field lands
	// or the old tokens stay valid.
	session.TokenHash = crypto.HashToken(token)
	session.RefreshTokenHash = crypto.HashToken(refreshToken)
	session.ExpiresAt = now.Add(m.cfg.TokenTTL)
	session.LastActivity = now

	err = m.withBreaker(func() error {
		return m.store.UpdateSession(ctx, session)
	})
	if err != nil {
		return nil, fmt.Errorf("rotate session tokens: %w", err)
	}

	m.sink.Record(ctx, &models.AuditEvent{
		Type:        models.AuditSessionRefreshed,
		UserID:      session.UserID,
		DeviceID:    session.DeviceID,
		SessionID:   &session.ID,
		Result:      models.AuditResultSuccess,
		Description: "Session tokens rotated",
		Details:     models.Variables{"expiresAt": session.ExpiresAt},
	})

	return &Tokens{
		SessionID:    session.ID,
		Token:        token,
		RefreshToken: refreshToken,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// Revoke deactivates the session a token belongs to. Idempotent: revoking
// an unknown or already-inactive token succeeds silently.
func (m *Manager) Revoke(ctx context.Context, token, reason string) error {
	if !wellFormedToken(token, sessionTokenPrefix) {
		return nil
	}

	session, err := m.lookup(ctx, func() (*models.RemoteSession, error) {
		return m.store.GetSessionByTokenHash(ctx, crypto.HashToken(token))
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return m.RevokeByID(ctx, session.ID, reason)
}

// RevokeByID deactivates a session by id, for operator-driven revocation
func (m *Manager) RevokeByID(ctx context.Context, sessionID uuid.UUID, reason string) error {
	session, err := m.lookup(ctx, func() (*models.RemoteSession, error) {
		return m.store.GetSession(ctx, sessionID)
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if !session.IsActive {
		return nil
	}

	now := m.now()
	session.IsActive = false
	revokedAt := now
	session.RevokedAt = &revokedAt
	session.RevokeReason = reason

	err = m.withBreaker(func() error {
		return m.store.UpdateSession(ctx, session)
	})
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	m.sink.Record(ctx, &models.AuditEvent{
		Type:        models.AuditSessionRevoked,
		UserID:      session.UserID,
		DeviceID:    session.DeviceID,
		SessionID:   &session.ID,
		Result:      models.AuditResultSuccess,
		Description: "Session revoked",
		Details:     models.Variables{"reason": reason},
	})

	return nil
}

// RecordCommand bumps the session's command counter and activity clock
// after a successful dispatch
func (m *Manager) RecordCommand(ctx context.Context, sessionID uuid.UUID) error {
	session, err := m.lookup(ctx, func() (*models.RemoteSession, error) {
		return m.store.GetSession(ctx, sessionID)
	})
	if err != nil {
		return err
	}

	session.CommandsExecuted++
	session.LastActivity = m.now()
	return m.store.UpdateSession(ctx, session)
}

// RegisterDevice upserts the device record after a successful pairing
func (m *Manager) RegisterDevice(ctx context.Context, deviceID, userID string, info models.DeviceInfo, caps models.CapabilityList) error {
	now := m.now()
	seen := now
	device := &models.MobileDevice{
		DeviceID:      deviceID,
		UserID:        userID,
		Fingerprint:   info,
		Capabilities:  caps,
		IsPaired:      true,
		SecurityLevel: models.SecurityLevelLow,
		LastSeenAt:    &seen,
	}

	err := m.withBreaker(func() error {
		return m.store.UpsertDevice(ctx, device)
	})
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// ValidateDeviceFingerprint compares presented device info against the
// stored fingerprint. A mismatch yields a high-risk recommendation, never a
// hard failure.
func (m *Manager) ValidateDeviceFingerprint(ctx context.Context, deviceID string, presented models.DeviceInfo) (*FingerprintResult, error) {
	device, err := m.store.GetDevice(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return &FingerprintResult{
			Match:          false,
			Mismatched:     []string{"device"},
			Recommendation: "unknown device: require re-pairing",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	stored := device.Fingerprint
	var mismatched []string
	if stored.Name != presented.Name {
		mismatched = append(mismatched, "name")
	}
	if stored.OS != presented.OS {
		mismatched = append(mismatched, "os")
	}
	if stored.Model != "" && presented.Model != "" && stored.Model != presented.Model {
		mismatched = append(mismatched, "model")
	}
	if stored.ScreenSize != "" && presented.ScreenSize != "" && stored.ScreenSize != presented.ScreenSize {
		mismatched = append(mismatched, "screenSize")
	}

	if len(mismatched) == 0 {
		return &FingerprintResult{Match: true}, nil
	}

	m.sink.Record(ctx, &models.AuditEvent{
		Type:        models.AuditSuspiciousActivity,
		Level:       models.AuditLevelWarning,
		UserID:      device.UserID,
		DeviceID:    deviceID,
		Result:      models.AuditResultFailure,
		Description: "Device fingerprint mismatch",
		Details:     models.Variables{"mismatched": mismatched},
	})

	return &FingerprintResult{
		Match:          false,
		Mismatched:     mismatched,
		Recommendation: "high-risk: review device before granting sensitive capabilities",
	}, nil
}

// ResetLimits clears the creation rate windows (tests)
func (m *Manager) ResetLimits() {
	m.createLimiter.Reset()
}

// deactivate marks a session inactive on the request path. Best effort:
// the sweeper catches anything missed here.
func (m *Manager) deactivate(ctx context.Context, session *models.RemoteSession, reason string, now time.Time) {
	session.IsActive = false
	revokedAt := now
	session.RevokedAt = &revokedAt
	session.RevokeReason = reason

	if err := m.store.UpdateSession(ctx, session); err != nil {
		log.Warn().Err(err).Str("sessionID", session.ID.String()).Msg("Failed to deactivate session")
		return
	}

	m.sink.Record(ctx, &models.AuditEvent{
		Type:        models.AuditSessionExpired,
		UserID:      session.UserID,
		DeviceID:    session.DeviceID,
		SessionID:   &session.ID,
		Result:      models.AuditResultFailure,
		Description: "Session expired",
		Details:     models.Variables{"reason": reason},
	})
}

func (m *Manager) lookup(ctx context.Context, get func() (*models.RemoteSession, error)) (*models.RemoteSession, error) {
	var session *models.RemoteSession
	err := m.withBreaker(func() error {
		var err error
		session, err = get()
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// withBreaker runs a store operation under the shared circuit breaker.
// ErrNotFound is a domain outcome, not a dependency failure.
func (m *Manager) withBreaker(fn func() error) error {
	if err := m.br.Allow(); err != nil {
		return err
	}

	err := fn()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.br.Failure()
		return err
	}

	m.br.Success()
	return err
}

func (m *Manager) lockDevice(deviceID string) func() {
	m.locksMu.Lock()
	mu, ok := m.deviceLocks[deviceID]
	if !ok {
		mu = &sync.Mutex{}
		m.deviceLocks[deviceID] = mu
	}
	m.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// wellFormedToken is the cheap syntactic check run before any store round
// trip
func wellFormedToken(token, prefix string) bool {
	return strings.HasPrefix(token, prefix) && len(token) >= len(prefix)+32
}
