package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/remotecast/remotecast-server/internal/models"
)

// NATS subjects. Room events use remote.room.<scope>.<id> so each gateway
// node can fan a broadcast out to its local connections; the streaming
// pipeline publishes under pipeline.>.
const (
	roomSubjectPrefix   = "remote.room"
	roomSubjectWildcard = "remote.room.>"
	pipelineWildcard    = "pipeline.>"
)

// Bridge connects the hub to NATS so broadcasts reach devices connected to
// any gateway node
type Bridge struct {
	nc   *nats.Conn
	hub  *Hub
	subs []*nats.Subscription
}

// NewBridge creates a NATS room bridge
func NewBridge(nc *nats.Conn, hub *Hub) *Bridge {
	return &Bridge{
		nc:   nc,
		hub:  hub,
		subs: make([]*nats.Subscription, 0),
	}
}

// Start starts subscriptions and blocks until the context is cancelled
func (b *Bridge) Start(ctx context.Context) error {
	sub1, err := b.nc.Subscribe(roomSubjectWildcard, b.handleRoomEvent)
	if err != nil {
		return fmt.Errorf("subscribe room events: %w", err)
	}
	b.subs = append(b.subs, sub1)

	sub2, err := b.nc.Subscribe(pipelineWildcard, b.handlePipelineEvent)
	if err != nil {
		return fmt.Errorf("subscribe pipeline events: %w", err)
	}
	b.subs = append(b.subs, sub2)

	log.Info().
		Int("subscriptions", len(b.subs)).
		Msg("Gateway NATS bridge started")

	<-ctx.Done()

	for _, sub := range b.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// PublishToDevice publishes a room event for a device across all nodes
func (b *Bridge) PublishToDevice(deviceID, eventType string, payload interface{}) error {
	return b.publish(fmt.Sprintf("%s.device.%s", roomSubjectPrefix, deviceID), eventType, payload)
}

// PublishToUser publishes a room event for a user across all nodes
func (b *Bridge) PublishToUser(userID, eventType string, payload interface{}) error {
	return b.publish(fmt.Sprintf("%s.user.%s", roomSubjectPrefix, userID), eventType, payload)
}

func (b *Bridge) publish(subject, eventType string, payload interface{}) error {
	data, err := json.Marshal(newMessage(eventType, "", payload))
	if err != nil {
		return fmt.Errorf("marshal room event: %w", err)
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish room event: %w", err)
	}
	return nil
}

// handleRoomEvent fans one room event out to local connections
func (b *Bridge) handleRoomEvent(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received room event")

	// remote.room.<scope>.<id>
	parts := strings.SplitN(msg.Subject, ".", 4)
	if len(parts) != 4 {
		log.Warn().Str("subject", msg.Subject).Msg("Malformed room subject")
		return
	}
	scope, id := parts[2], parts[3]

	var event Message
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal room event")
		return
	}

	var room string
	switch scope {
	case "device":
		room = DeviceRoom(id)
	case "user":
		room = UserRoom(id)
	default:
		log.Warn().Str("scope", scope).Msg("Unknown room scope")
		return
	}

	delivered := b.hub.Broadcast(room, event)

	log.Debug().
		Str("room", room).
		Str("type", event.Type).
		Int("delivered", delivered).
		Msg("Room event delivered")
}

// handlePipelineEvent translates streaming pipeline notifications into
// device room broadcasts
func (b *Bridge) handlePipelineEvent(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Msg("Received pipeline event")

	var event struct {
		DeviceID string           `json:"deviceId"`
		UserID   string           `json:"userId"`
		Details  models.Variables `json:"details"`
	}
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal pipeline event")
		return
	}
	if event.DeviceID == "" {
		return
	}

	var eventType string
	switch {
	case strings.HasPrefix(msg.Subject, "pipeline.ad."):
		eventType = EventAdDetected
	case strings.HasPrefix(msg.Subject, "pipeline.pip."):
		eventType = EventPipStatusUpdate
	case strings.HasPrefix(msg.Subject, "pipeline.stream."):
		eventType = EventStreamStatusUpdate
	default:
		log.Debug().Str("subject", msg.Subject).Msg("Ignoring pipeline subject")
		return
	}

	delivered := b.hub.Broadcast(DeviceRoom(event.DeviceID), newMessage(eventType, "", event.Details))

	log.Debug().
		Str("deviceID", event.DeviceID).
		Str("type", eventType).
		Int("delivered", delivered).
		Msg("Pipeline event delivered")
}
