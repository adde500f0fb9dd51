package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/remotecast/remotecast-server/internal/models"
)

// ========== Device Methods ==========

// UpsertDevice creates or updates a device record keyed by device_id
func (s *PostgresStore) UpsertDevice(ctx context.Context, device *models.MobileDevice) error {
	now := time.Now()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
        INSERT INTO devices (
            device_id, user_id, fingerprint, capabilities, is_paired,
            security_level, battery_level, network_type, last_seen_at,
            created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (device_id) DO UPDATE SET
            user_id = EXCLUDED.user_id,
            fingerprint = EXCLUDED.fingerprint,
            capabilities = EXCLUDED.capabilities,
            is_paired = EXCLUDED.is_paired,
            security_level = EXCLUDED.security_level,
            updated_at = EXCLUDED.updated_at`

	_, err := s.getDB().ExecContext(ctx, query,
		device.DeviceID, device.UserID, device.Fingerprint, device.Capabilities,
		device.IsPaired, device.SecurityLevel, device.BatteryLevel,
		device.NetworkType, device.LastSeenAt, device.CreatedAt, device.UpdatedAt,
	)

	return err
}

// GetDevice gets a device by its device ID
func (s *PostgresStore) GetDevice(ctx context.Context, deviceID string) (*models.MobileDevice, error) {
	query := `
        SELECT device_id, user_id, fingerprint, capabilities, is_paired,
               security_level, battery_level, network_type, last_seen_at,
               created_at, updated_at
        FROM devices
        WHERE device_id = $1`

	device := &models.MobileDevice{}
	err := s.getDB().QueryRowContext(ctx, query, deviceID).Scan(
		&device.DeviceID, &device.UserID, &device.Fingerprint, &device.Capabilities,
		&device.IsPaired, &device.SecurityLevel, &device.BatteryLevel,
		&device.NetworkType, &device.LastSeenAt, &device.CreatedAt, &device.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return device, nil
}

// UpdateDeviceTelemetry updates heartbeat-reported telemetry and last seen
func (s *PostgresStore) UpdateDeviceTelemetry(ctx context.Context, deviceID string, battery *float64, networkType string, seenAt time.Time) error {
	query := `
        UPDATE devices
        SET battery_level = COALESCE($2, battery_level),
            network_type = CASE WHEN $3 = '' THEN network_type ELSE $3 END,
            last_seen_at = $4,
            updated_at = $4
        WHERE device_id = $1`

	result, err := s.getDB().ExecContext(ctx, query, deviceID, battery, networkType, seenAt)
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

// ListDevices lists devices, optionally scoped to a user
func (s *PostgresStore) ListDevices(ctx context.Context, userID string, limit, offset int) ([]*models.MobileDevice, int64, error) {
	countQuery := "SELECT COUNT(*) FROM devices"
	query := `
        SELECT device_id, user_id, fingerprint, capabilities, is_paired,
               security_level, battery_level, network_type, last_seen_at,
               created_at, updated_at
        FROM devices`

	args := []interface{}{}
	if userID != "" {
		countQuery += " WHERE user_id = $1"
		query += " WHERE user_id = $1"
		args = append(args, userID)
	}

	var count int64
	if err := s.getDB().QueryRowContext(ctx, countQuery, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY created_at DESC"
	if userID != "" {
		query += " LIMIT $2 OFFSET $3"
	} else {
		query += " LIMIT $1 OFFSET $2"
	}
	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var devices []*models.MobileDevice
	for rows.Next() {
		device := &models.MobileDevice{}
		if err := rows.Scan(
			&device.DeviceID, &device.UserID, &device.Fingerprint, &device.Capabilities,
			&device.IsPaired, &device.SecurityLevel, &device.BatteryLevel,
			&device.NetworkType, &device.LastSeenAt, &device.CreatedAt, &device.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		devices = append(devices, device)
	}

	return devices, count, rows.Err()
}
