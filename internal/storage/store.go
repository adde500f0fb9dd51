package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/remotecast/remotecast-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Pairing token methods
	CreatePairingToken(ctx context.Context, token *models.PairingToken) error
	GetPairingTokenByCode(ctx context.Context, code string) (*models.PairingToken, error)
	UpdatePairingToken(ctx context.Context, token *models.PairingToken) error
	// ConsumePairingToken marks the token used if and only if it is still
	// unused. It reports whether this call won the consumption.
	ConsumePairingToken(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error)
	ExpireUserPairingTokens(ctx context.Context, userID string, now time.Time) (int64, error)
	ListExpiredPairingTokens(ctx context.Context, now time.Time, limit int) ([]*models.PairingToken, error)

	// Device methods
	UpsertDevice(ctx context.Context, device *models.MobileDevice) error
	GetDevice(ctx context.Context, deviceID string) (*models.MobileDevice, error)
	UpdateDeviceTelemetry(ctx context.Context, deviceID string, battery *float64, networkType string, seenAt time.Time) error
	ListDevices(ctx context.Context, userID string, limit, offset int) ([]*models.MobileDevice, int64, error)

	// Session methods
	CreateSession(ctx context.Context, session *models.RemoteSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.RemoteSession, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.RemoteSession, error)
	GetSessionByRefreshTokenHash(ctx context.Context, refreshTokenHash string) (*models.RemoteSession, error)
	UpdateSession(ctx context.Context, session *models.RemoteSession) error
	DeactivateDeviceSessions(ctx context.Context, deviceID, reason string, now time.Time) (int64, error)
	ListSessions(ctx context.Context, filters SessionFilters, limit, offset int) ([]*models.RemoteSession, int64, error)
	ListStaleSessions(ctx context.Context, now time.Time, idleThreshold time.Duration, limit int) ([]*models.RemoteSession, error)

	// Audit event methods (append-only)
	CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error
	ListAuditEvents(ctx context.Context, filters AuditEventFilters, limit, offset int) ([]*models.AuditEvent, int64, error)

	// Operator user methods
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Close the store
	Close() error
}

// SessionFilters represents filters for session listing
type SessionFilters struct {
	UserID     *string
	DeviceID   *string
	ActiveOnly bool
}

// AuditEventFilters represents filters for audit events
type AuditEventFilters struct {
	UserID    *string
	DeviceID  *string
	SessionID *uuid.UUID
	Type      *models.AuditEventType
	Level     *models.AuditLevel
	StartTime *time.Time
	EndTime   *time.Time
}
