package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/remotecast/remotecast-server/internal/models"
)

// ========== Pairing Token Methods ==========

// CreatePairingToken creates a new pairing token
func (s *PostgresStore) CreatePairingToken(ctx context.Context, token *models.PairingToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO pairing_tokens (
            id, code, token, user_id, device_info,
            created_at, expires_at, attempts, is_used, used_at, risk_score
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.getDB().ExecContext(ctx, query,
		token.ID, token.Code, token.Token, token.UserID, token.DeviceInfo,
		token.CreatedAt, token.ExpiresAt, token.Attempts, token.IsUsed,
		token.UsedAt, token.RiskScore,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetPairingTokenByCode gets the most recent pairing token for a code
func (s *PostgresStore) GetPairingTokenByCode(ctx context.Context, code string) (*models.PairingToken, error) {
	query := `
        SELECT id, code, token, user_id, device_info,
               created_at, expires_at, attempts, is_used, used_at, risk_score
        FROM pairing_tokens
        WHERE code = $1
        ORDER BY created_at DESC
        LIMIT 1`

	token := &models.PairingToken{}
	err := s.getDB().QueryRowContext(ctx, query, code).Scan(
		&token.ID, &token.Code, &token.Token, &token.UserID, &token.DeviceInfo,
		&token.CreatedAt, &token.ExpiresAt, &token.Attempts, &token.IsUsed,
		&token.UsedAt, &token.RiskScore,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return token, nil
}

// UpdatePairingToken updates a pairing token
func (s *PostgresStore) UpdatePairingToken(ctx context.Context, token *models.PairingToken) error {
	query := `
        UPDATE pairing_tokens
        SET expires_at = $2, attempts = $3, is_used = $4, used_at = $5, risk_score = $6
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		token.ID, token.ExpiresAt, token.Attempts, token.IsUsed,
		token.UsedAt, token.RiskScore,
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

// ConsumePairingToken marks a token used if it is still unused.
// The conditional update makes single-use atomic: of two concurrent
// redemptions only one sees rows == 1.
func (s *PostgresStore) ConsumePairingToken(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	query := `
        UPDATE pairing_tokens
        SET is_used = true, used_at = $2
        WHERE id = $1 AND is_used = false`

	result, err := s.getDB().ExecContext(ctx, query, id, usedAt)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}

// ExpireUserPairingTokens marks a user's overdue unused tokens as used so
// they can never validate. Idempotent.
func (s *PostgresStore) ExpireUserPairingTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	query := `
        UPDATE pairing_tokens
        SET is_used = true, used_at = $2
        WHERE user_id = $1 AND is_used = false AND expires_at < $2`

	result, err := s.getDB().ExecContext(ctx, query, userID, now)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// ListExpiredPairingTokens lists overdue unused tokens for the sweeper
func (s *PostgresStore) ListExpiredPairingTokens(ctx context.Context, now time.Time, limit int) ([]*models.PairingToken, error) {
	query := `
        SELECT id, code, token, user_id, device_info,
               created_at, expires_at, attempts, is_used, used_at, risk_score
        FROM pairing_tokens
        WHERE is_used = false AND expires_at < $1
        ORDER BY expires_at
        LIMIT $2`

	rows, err := s.getDB().QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*models.PairingToken
	for rows.Next() {
		token := &models.PairingToken{}
		if err := rows.Scan(
			&token.ID, &token.Code, &token.Token, &token.UserID, &token.DeviceInfo,
			&token.CreatedAt, &token.ExpiresAt, &token.Attempts, &token.IsUsed,
			&token.UsedAt, &token.RiskScore,
		); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}
