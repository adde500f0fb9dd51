package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotecast/remotecast-server/internal/models"
	"github.com/remotecast/remotecast-server/internal/storage"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func (r *recordingSink) Record(ctx context.Context, event *models.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestStoreSink_DefaultsLevel(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := NewStoreSink(store)

	sink.Record(context.Background(), &models.AuditEvent{
		Type:   models.AuditPairingTokenIssued,
		UserID: "U1",
		Result: models.AuditResultSuccess,
	})

	events, total, err := store.ListAuditEvents(context.Background(), storage.AuditEventFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, models.AuditLevelInfo, events[0].Level)
}

func TestMultiSink_FansOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	sink := MultiSink{a, b, NopSink{}}

	sink.Record(context.Background(), &models.AuditEvent{Type: models.AuditSuspiciousActivity})

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}
