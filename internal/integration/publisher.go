package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/remotecast/remotecast-server/internal/models"
)

const securitySubjectPrefix = "security.event"

// EventPublisher is an audit sink that mirrors security events onto NATS so
// the forwarder (and other consumers) can react to them. Publishing is fire
// and forget.
type EventPublisher struct {
	nc *nats.Conn
}

// NewEventPublisher creates a NATS-publishing audit sink
func NewEventPublisher(nc *nats.Conn) *EventPublisher {
	return &EventPublisher{nc: nc}
}

// Record publishes the event to security.event.<type>
func (p *EventPublisher) Record(ctx context.Context, event *models.AuditEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal security event")
		return
	}

	subject := fmt.Sprintf("%s.%s", securitySubjectPrefix, strings.ToLower(string(event.Type)))
	if err := p.nc.Publish(subject, data); err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Msg("Failed to publish security event")
	}
}
