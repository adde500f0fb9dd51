package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/remotecast/remotecast-server/internal/models"
)

const sessionColumns = `id, device_id, user_id, token_hash, refresh_token_hash,
               capabilities, is_active, created_at, expires_at, last_activity,
               commands_executed, revoked_at, revoke_reason`

// ========== Session Methods ==========

// CreateSession creates a new remote session
func (s *PostgresStore) CreateSession(ctx context.Context, session *models.RemoteSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO remote_sessions (
            id, device_id, user_id, token_hash, refresh_token_hash,
            capabilities, is_active, created_at, expires_at, last_activity,
            commands_executed, revoked_at, revoke_reason
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.getDB().ExecContext(ctx, query,
		session.ID, session.DeviceID, session.UserID, session.TokenHash,
		session.RefreshTokenHash, session.Capabilities, session.IsActive,
		session.CreatedAt, session.ExpiresAt, session.LastActivity,
		session.CommandsExecuted, session.RevokedAt, session.RevokeReason,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

func (s *PostgresStore) getSessionBy(ctx context.Context, where string, arg interface{}) (*models.RemoteSession, error) {
	query := fmt.Sprintf("SELECT %s FROM remote_sessions WHERE %s", sessionColumns, where)

	session := &models.RemoteSession{}
	err := s.getDB().QueryRowContext(ctx, query, arg).Scan(
		&session.ID, &session.DeviceID, &session.UserID, &session.TokenHash,
		&session.RefreshTokenHash, &session.Capabilities, &session.IsActive,
		&session.CreatedAt, &session.ExpiresAt, &session.LastActivity,
		&session.CommandsExecuted, &session.RevokedAt, &session.RevokeReason,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return session, nil
}

// GetSession gets a session by ID
func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.RemoteSession, error) {
	return s.getSessionBy(ctx, "id = $1", id)
}

// GetSessionByTokenHash gets a session by its token digest
func (s *PostgresStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.RemoteSession, error) {
	return s.getSessionBy(ctx, "token_hash = $1", tokenHash)
}

// GetSessionByRefreshTokenHash gets a session by its refresh token digest
func (s *PostgresStore) GetSessionByRefreshTokenHash(ctx context.Context, refreshTokenHash string) (*models.RemoteSession, error) {
	return s.getSessionBy(ctx, "refresh_token_hash = $1", refreshTokenHash)
}

// UpdateSession updates a session
func (s *PostgresStore) UpdateSession(ctx context.Context, session *models.RemoteSession) error {
	query := `
        UPDATE remote_sessions
        SET token_hash = $2, refresh_token_hash = $3, capabilities = $4,
            is_active = $5, expires_at = $6, last_activity = $7,
            commands_executed = $8, revoked_at = $9, revoke_reason = $10
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		session.ID, session.TokenHash, session.RefreshTokenHash,
		session.Capabilities, session.IsActive, session.ExpiresAt,
		session.LastActivity, session.CommandsExecuted,
		session.RevokedAt, session.RevokeReason,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeactivateDeviceSessions deactivates every active session for a device.
// Idempotent; returns the number of sessions deactivated.
func (s *PostgresStore) DeactivateDeviceSessions(ctx context.Context, deviceID, reason string, now time.Time) (int64, error) {
	query := `
        UPDATE remote_sessions
        SET is_active = false, revoked_at = $2, revoke_reason = $3
        WHERE device_id = $1 AND is_active = true`

	result, err := s.getDB().ExecContext(ctx, query, deviceID, now, reason)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// ListSessions lists sessions with filters
func (s *PostgresStore) ListSessions(ctx context.Context, filters SessionFilters, limit, offset int) ([]*models.RemoteSession, int64, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if filters.UserID != nil {
		argCount++
		where += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filters.UserID)
	}

	if filters.DeviceID != nil {
		argCount++
		where += fmt.Sprintf(" AND device_id = $%d", argCount)
		args = append(args, *filters.DeviceID)
	}

	if filters.ActiveOnly {
		where += " AND is_active = true"
	}

	var count int64
	err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM remote_sessions"+where, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	argCount++
	query := fmt.Sprintf("SELECT %s FROM remote_sessions%s ORDER BY created_at DESC LIMIT $%d", sessionColumns, where, argCount)
	args = append(args, limit)

	argCount++
	query += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []*models.RemoteSession
	for rows.Next() {
		session := &models.RemoteSession{}
		if err := rows.Scan(
			&session.ID, &session.DeviceID, &session.UserID, &session.TokenHash,
			&session.RefreshTokenHash, &session.Capabilities, &session.IsActive,
			&session.CreatedAt, &session.ExpiresAt, &session.LastActivity,
			&session.CommandsExecuted, &session.RevokedAt, &session.RevokeReason,
		); err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, session)
	}

	return sessions, count, rows.Err()
}

// ListStaleSessions lists active sessions that are past hard expiry or past
// the idle threshold, for the maintenance sweeper
func (s *PostgresStore) ListStaleSessions(ctx context.Context, now time.Time, idleThreshold time.Duration, limit int) ([]*models.RemoteSession, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM remote_sessions
        WHERE is_active = true AND (expires_at < $1 OR last_activity < $2)
        ORDER BY last_activity
        LIMIT $3`, sessionColumns)

	rows, err := s.getDB().QueryContext(ctx, query, now, now.Add(-idleThreshold), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.RemoteSession
	for rows.Next() {
		session := &models.RemoteSession{}
		if err := rows.Scan(
			&session.ID, &session.DeviceID, &session.UserID, &session.TokenHash,
			&session.RefreshTokenHash, &session.Capabilities, &session.IsActive,
			&session.CreatedAt, &session.ExpiresAt, &session.LastActivity,
			&session.CommandsExecuted, &session.RevokedAt, &session.RevokeReason,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}
