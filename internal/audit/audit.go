package audit

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/remotecast/remotecast-server/internal/models"
	"github.com/remotecast/remotecast-server/internal/storage"
)

// Sink receives security events. A sink only appends; it never mutates or
// deletes what was written.
type Sink interface {
	Record(ctx context.Context, event *models.AuditEvent)
}

// StoreSink appends audit events to the backing store. Writes are
// fire-and-forget: a failing audit write is logged and never aborts the
// primary operation.
type StoreSink struct {
	store storage.Store
}

// NewStoreSink creates a store-backed audit sink
func NewStoreSink(store storage.Store) *StoreSink {
	return &StoreSink{store: store}
}

// Record appends an audit event
func (s *StoreSink) Record(ctx context.Context, event *models.AuditEvent) {
	if event.Level == "" {
		event.Level = models.AuditLevelInfo
	}

	if err := s.store.CreateAuditEvent(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("type", string(event.Type)).
			Str("deviceID", event.DeviceID).
			Msg("Failed to write audit event")
	}
}

// MultiSink fans each event out to several sinks
type MultiSink []Sink

// Record delivers the event to every sink
func (m MultiSink) Record(ctx context.Context, event *models.AuditEvent) {
	for _, sink := range m {
		sink.Record(ctx, event)
	}
}

// NopSink discards events
type NopSink struct{}

// Record discards the event
func (NopSink) Record(ctx context.Context, event *models.AuditEvent) {}
