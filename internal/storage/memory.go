package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remotecast/remotecast-server/internal/models"
)

// MemoryStore implements Store in memory, for tests and single-node dev runs.
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu sync.Mutex

	pairingTokens map[uuid.UUID]*models.PairingToken
	devices       map[string]*models.MobileDevice
	sessions      map[uuid.UUID]*models.RemoteSession
	auditEvents   []*models.AuditEvent
	users         map[uuid.UUID]*models.User
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pairingTokens: make(map[uuid.UUID]*models.PairingToken),
		devices:       make(map[string]*models.MobileDevice),
		sessions:      make(map[uuid.UUID]*models.RemoteSession),
		users:         make(map[uuid.UUID]*models.User),
	}
}

// BeginTx returns the store itself: every mutation is already atomic under
// the store mutex, so there is nothing to stage
func (s *MemoryStore) BeginTx(ctx context.Context) (Store, error) { return s, nil }

// Commit is a no-op
func (s *MemoryStore) Commit() error { return nil }

// Rollback is a no-op
func (s *MemoryStore) Rollback() error { return nil }

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

// ========== Pairing tokens ==========

func (s *MemoryStore) CreatePairingToken(ctx context.Context, token *models.PairingToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	// The unique index on unexpired unused codes in Postgres becomes a scan
	// here, so code collisions surface the same way against either store
	for _, t := range s.pairingTokens {
		if t.Code == token.Code && !t.IsUsed && t.ExpiresAt.After(token.CreatedAt) {
			return ErrDuplicateKey
		}
	}

	cp := *token
	s.pairingTokens[token.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPairingTokenByCode(ctx context.Context, code string) (*models.PairingToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.PairingToken
	for _, t := range s.pairingTokens {
		if t.Code != code {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}

	if latest == nil {
		return nil, ErrNotFound
	}

	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) UpdatePairingToken(ctx context.Context, token *models.PairingToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pairingTokens[token.ID]; !ok {
		return ErrNotFound
	}

	cp := *token
	s.pairingTokens[token.ID] = &cp
	return nil
}

func (s *MemoryStore) ConsumePairingToken(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pairingTokens[id]
	if !ok {
		return false, ErrNotFound
	}
	if t.IsUsed {
		return false, nil
	}

	t.IsUsed = true
	t.UsedAt = &usedAt
	return true, nil
}

func (s *MemoryStore) ExpireUserPairingTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.pairingTokens {
		if t.UserID == userID && !t.IsUsed && now.After(t.ExpiresAt) {
			t.IsUsed = true
			usedAt := now
			t.UsedAt = &usedAt
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListExpiredPairingTokens(ctx context.Context, now time.Time, limit int) ([]*models.PairingToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tokens []*models.PairingToken
	for _, t := range s.pairingTokens {
		if !t.IsUsed && now.After(t.ExpiresAt) {
			cp := *t
			tokens = append(tokens, &cp)
		}
	}

	sort.Slice(tokens, func(i, j int) bool { return tokens[i].ExpiresAt.Before(tokens[j].ExpiresAt) })
	if len(tokens) > limit {
		tokens = tokens[:limit]
	}
	return tokens, nil
}

// ========== Devices ==========

func (s *MemoryStore) UpsertDevice(ctx context.Context, device *models.MobileDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.devices[device.DeviceID]; ok {
		device.CreatedAt = existing.CreatedAt
		if device.LastSeenAt == nil {
			device.LastSeenAt = existing.LastSeenAt
		}
	} else if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	cp := *device
	s.devices[device.DeviceID] = &cp
	return nil
}

func (s *MemoryStore) GetDevice(ctx context.Context, deviceID string) (*models.MobileDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *d
	return &cp, nil
}

func (s *MemoryStore) UpdateDeviceTelemetry(ctx context.Context, deviceID string, battery *float64, networkType string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return ErrNotFound
	}

	if battery != nil {
		d.BatteryLevel = battery
	}
	if networkType != "" {
		d.NetworkType = networkType
	}
	seen := seenAt
	d.LastSeenAt = &seen
	d.UpdatedAt = seenAt
	return nil
}

func (s *MemoryStore) ListDevices(ctx context.Context, userID string, limit, offset int) ([]*models.MobileDevice, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var devices []*models.MobileDevice
	for _, d := range s.devices {
		if userID != "" && d.UserID != userID {
			continue
		}
		cp := *d
		devices = append(devices, &cp)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].CreatedAt.After(devices[j].CreatedAt) })
	total := int64(len(devices))
	devices = paginate(devices, limit, offset)
	return devices, total, nil
}

// ========== Sessions ==========

func (s *MemoryStore) CreateSession(ctx context.Context, session *models.RemoteSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id uuid.UUID) (*models.RemoteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.RemoteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findSession(func(sess *models.RemoteSession) bool { return sess.TokenHash == tokenHash })
}

func (s *MemoryStore) GetSessionByRefreshTokenHash(ctx context.Context, refreshTokenHash string) (*models.RemoteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findSession(func(sess *models.RemoteSession) bool { return sess.RefreshTokenHash == refreshTokenHash })
}

func (s *MemoryStore) findSession(match func(*models.RemoteSession) bool) (*models.RemoteSession, error) {
	for _, sess := range s.sessions {
		if match(sess) {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateSession(ctx context.Context, session *models.RemoteSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		return ErrNotFound
	}

	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *MemoryStore) DeactivateDeviceSessions(ctx context.Context, deviceID, reason string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, sess := range s.sessions {
		if sess.DeviceID == deviceID && sess.IsActive {
			sess.IsActive = false
			revokedAt := now
			sess.RevokedAt = &revokedAt
			sess.RevokeReason = reason
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, filters SessionFilters, limit, offset int) ([]*models.RemoteSession, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []*models.RemoteSession
	for _, sess := range s.sessions {
		if filters.UserID != nil && sess.UserID != *filters.UserID {
			continue
		}
		if filters.DeviceID != nil && sess.DeviceID != *filters.DeviceID {
			continue
		}
		if filters.ActiveOnly && !sess.IsActive {
			continue
		}
		cp := *sess
		sessions = append(sessions, &cp)
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.After(sessions[j].CreatedAt) })
	total := int64(len(sessions))
	sessions = paginate(sessions, limit, offset)
	return sessions, total, nil
}

func (s *MemoryStore) ListStaleSessions(ctx context.Context, now time.Time, idleThreshold time.Duration, limit int) ([]*models.RemoteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []*models.RemoteSession
	for _, sess := range s.sessions {
		if !sess.IsActive {
			continue
		}
		if now.After(sess.ExpiresAt) || now.Sub(sess.LastActivity) > idleThreshold {
			cp := *sess
			sessions = append(sessions, &cp)
		}
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].LastActivity.Before(sessions[j].LastActivity) })
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// ========== Audit events ==========

func (s *MemoryStore) CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	cp := *event
	s.auditEvents = append(s.auditEvents, &cp)
	return nil
}

func (s *MemoryStore) ListAuditEvents(ctx context.Context, filters AuditEventFilters, limit, offset int) ([]*models.AuditEvent, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []*models.AuditEvent
	for _, e := range s.auditEvents {
		if filters.UserID != nil && e.UserID != *filters.UserID {
			continue
		}
		if filters.DeviceID != nil && e.DeviceID != *filters.DeviceID {
			continue
		}
		if filters.SessionID != nil && (e.SessionID == nil || *e.SessionID != *filters.SessionID) {
			continue
		}
		if filters.Type != nil && e.Type != *filters.Type {
			continue
		}
		if filters.Level != nil && e.Level != *filters.Level {
			continue
		}
		if filters.StartTime != nil && e.CreatedAt.Before(*filters.StartTime) {
			continue
		}
		if filters.EndTime != nil && e.CreatedAt.After(*filters.EndTime) {
			continue
		}
		cp := *e
		events = append(events, &cp)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
	total := int64(len(events))
	events = paginate(events, limit, offset)
	return events, total, nil
}

// ========== Operator users ==========

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return ErrDuplicateKey
		}
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
