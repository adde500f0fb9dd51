package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/remotecast/remotecast-server/internal/models"
)

// ========== Audit Event Methods ==========

// CreateAuditEvent creates an audit event entry
func (s *PostgresStore) CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO audit_events (
            id, created_at, type, level, user_id, device_id, session_id,
            remote_addr, result, description, details
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.getDB().ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.Type, event.Level, event.UserID,
		event.DeviceID, event.SessionID, event.RemoteAddr, event.Result,
		event.Description, event.Details,
	)

	return err
}

// ListAuditEvents lists audit events with filters
func (s *PostgresStore) ListAuditEvents(ctx context.Context, filters AuditEventFilters, limit, offset int) ([]*models.AuditEvent, int64, error) {
	query := "SELECT COUNT(*) FROM audit_events WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if filters.UserID != nil {
		argCount++
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filters.UserID)
	}

	if filters.DeviceID != nil {
		argCount++
		query += fmt.Sprintf(" AND device_id = $%d", argCount)
		args = append(args, *filters.DeviceID)
	}

	if filters.SessionID != nil {
		argCount++
		query += fmt.Sprintf(" AND session_id = $%d", argCount)
		args = append(args, *filters.SessionID)
	}

	if filters.Type != nil {
		argCount++
		query += fmt.Sprintf(" AND type = $%d", argCount)
		args = append(args, *filters.Type)
	}

	if filters.Level != nil {
		argCount++
		query += fmt.Sprintf(" AND level = $%d", argCount)
		args = append(args, *filters.Level)
	}

	if filters.StartTime != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filters.StartTime)
	}

	if filters.EndTime != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filters.EndTime)
	}

	var count int64
	err := s.getDB().QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	selectQuery := strings.Replace(query, "SELECT COUNT(*)",
		"SELECT id, created_at, type, level, user_id, device_id, session_id, remote_addr, result, description, details", 1)

	argCount++
	selectQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argCount)
	args = append(args, limit)

	argCount++
	selectQuery += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, offset)

	rows, err := s.getDB().QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		event := &models.AuditEvent{}
		if err := rows.Scan(
			&event.ID, &event.CreatedAt, &event.Type, &event.Level,
			&event.UserID, &event.DeviceID, &event.SessionID, &event.RemoteAddr,
			&event.Result, &event.Description, &event.Details,
		); err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}

	return events, count, rows.Err()
}
