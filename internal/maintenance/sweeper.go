package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/remotecast/remotecast-server/internal/audit"
	"github.com/remotecast/remotecast-server/internal/config"
	"github.com/remotecast/remotecast-server/internal/models"
	"github.com/remotecast/remotecast-server/internal/storage"
)

// Sweeper periodically marks expired pairing tokens used up and deactivates
// stale sessions. Every pass is idempotent: records already handled by the
// request path or a previous pass are simply not selected again.
type Sweeper struct {
	cfg   config.SessionConfig
	store storage.Store
	sink  audit.Sink

	now func() time.Time
}

// SweepStats summarizes one sweep pass
type SweepStats struct {
	PairingTokensExpired int
	SessionsExpired      int
	Errors               []error
}

// NewSweeper creates a maintenance sweeper
func NewSweeper(cfg config.SessionConfig, store storage.Store, sink audit.Sink) *Sweeper {
	return &Sweeper{
		cfg:   cfg,
		store: store,
		sink:  sink,
		now:   time.Now,
	}
}

// Start runs the sweep loop until the context is cancelled
func (s *Sweeper) Start(ctx context.Context) error {
	log.Info().
		Dur("interval", s.cfg.SweepInterval).
		Int("batchSize", s.cfg.SweepBatchSize).
		Msg("Starting maintenance sweeper")

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Maintenance sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			stats := s.Sweep(ctx)
			for _, err := range stats.Errors {
				log.Warn().Err(err).Msg("Sweep error")
			}
		}
	}
}

// Sweep runs one pass. A failure on an individual record is collected and
// the pass continues; the record stays eligible for the next pass.
func (s *Sweeper) Sweep(ctx context.Context) SweepStats {
	start := s.now()
	var stats SweepStats

	s.sweepPairingTokens(ctx, &stats)
	s.sweepSessions(ctx, &stats)

	log.Info().
		Int("pairingTokensExpired", stats.PairingTokensExpired).
		Int("sessionsExpired", stats.SessionsExpired).
		Int("errors", len(stats.Errors)).
		Dur("duration", s.now().Sub(start)).
		Msg("Sweep pass completed")

	return stats
}

func (s *Sweeper) sweepPairingTokens(ctx context.Context, stats *SweepStats) {
	now := s.now()

	tokens, err := s.store.ListExpiredPairingTokens(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Errorf("list expired pairing tokens: %w", err))
		return
	}

	for _, token := range tokens {
		won, err := s.store.ConsumePairingToken(ctx, token.ID, now)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("expire pairing token %s: %w", token.ID, err))
			continue
		}
		if won {
			stats.PairingTokensExpired++
		}
	}
}

func (s *Sweeper) sweepSessions(ctx context.Context, stats *SweepStats) {
	now := s.now()

	sessions, err := s.store.ListStaleSessions(ctx, now, s.cfg.IdleThreshold, s.cfg.SweepBatchSize)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Errorf("list stale sessions: %w", err))
		return
	}

	for _, session := range sessions {
		reason := "stale"
		if session.IsExpired(now) {
			reason = "expired"
		}

		session.IsActive = false
		revokedAt := now
		session.RevokedAt = &revokedAt
		session.RevokeReason = reason

		if err := s.store.UpdateSession(ctx, session); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			stats.Errors = append(stats.Errors, fmt.Errorf("expire session %s: %w", session.ID, err))
			continue
		}
		stats.SessionsExpired++

		sessionID := session.ID
		s.sink.Record(ctx, &models.AuditEvent{
			Type:        models.AuditSessionExpired,
			UserID:      session.UserID,
			DeviceID:    session.DeviceID,
			SessionID:   &sessionID,
			Result:      models.AuditResultFailure,
			Description: "Session expired by sweeper",
			Details:     models.Variables{"reason": reason},
		})
	}
}
