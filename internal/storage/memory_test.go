package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotecast/remotecast-server/internal/models"
)

func pairingTokenFixture(code string, mutate func(*models.PairingToken)) *models.PairingToken {
	now := time.Now()
	token := &models.PairingToken{
		Code:      code,
		Token:     "rpt_" + code,
		UserID:    "U1",
		CreatedAt: now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
	if mutate != nil {
		mutate(token)
	}
	return token
}

func TestMemoryStore_CreatePairingTokenDuplicateCode(t *testing.T) {
	ctx := context.Background()

	t.Run("active duplicate is rejected", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.CreatePairingToken(ctx, pairingTokenFixture("ABC123", nil)))

		err := store.CreatePairingToken(ctx, pairingTokenFixture("ABC123", nil))
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("used token frees its code", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.CreatePairingToken(ctx, pairingTokenFixture("ABC123", func(tok *models.PairingToken) {
			tok.IsUsed = true
		})))

		assert.NoError(t, store.CreatePairingToken(ctx, pairingTokenFixture("ABC123", nil)))
	})

	t.Run("expired token frees its code", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.CreatePairingToken(ctx, pairingTokenFixture("ABC123", func(tok *models.PairingToken) {
			tok.ExpiresAt = time.Now().Add(-time.Minute)
		})))

		assert.NoError(t, store.CreatePairingToken(ctx, pairingTokenFixture("ABC123", nil)))
	})

	t.Run("different codes do not conflict", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.CreatePairingToken(ctx, pairingTokenFixture("ABC123", nil)))
		assert.NoError(t, store.CreatePairingToken(ctx, pairingTokenFixture("XYZ789", nil)))
	})
}
