package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHubClient(queueSize int) *Client {
	return &Client{
		ConnID: "test-conn",
		Send:   make(chan Message, queueSize),
		done:   make(chan struct{}),
	}
}

func TestHub_JoinAndBroadcast(t *testing.T) {
	hub := NewHub()
	a := newHubClient(4)
	b := newHubClient(4)
	other := newHubClient(4)

	hub.Join(DeviceRoom("D1"), a)
	hub.Join(DeviceRoom("D1"), b)
	hub.Join(DeviceRoom("D2"), other)

	delivered := hub.Broadcast(DeviceRoom("D1"), newMessage(EventStreamStatusUpdate, "", map[string]string{"state": "playing"}))
	assert.Equal(t, 2, delivered)

	assert.Len(t, a.Send, 1)
	assert.Len(t, b.Send, 1)
	assert.Len(t, other.Send, 0)

	msg := <-a.Send
	assert.Equal(t, EventStreamStatusUpdate, msg.Type)
}

func TestHub_BroadcastToEmptyRoom(t *testing.T) {
	hub := NewHub()
	assert.Equal(t, 0, hub.Broadcast(DeviceRoom("nobody"), newMessage(EventAdDetected, "", nil)))
}

func TestHub_SlowClientIsSkipped(t *testing.T) {
	hub := NewHub()
	slow := newHubClient(1)
	fast := newHubClient(4)

	hub.Join(UserRoom("U1"), slow)
	hub.Join(UserRoom("U1"), fast)

	// Fill the slow client's queue
	require.True(t, slow.Enqueue(newMessage(EventPipStatusUpdate, "", nil)))

	delivered := hub.Broadcast(UserRoom("U1"), newMessage(EventPipStatusUpdate, "", nil))
	assert.Equal(t, 1, delivered, "only the fast client should receive the message")
	assert.Len(t, fast.Send, 1)
	assert.Len(t, slow.Send, 1)
}

func TestHub_LeaveRemovesEmptyRoom(t *testing.T) {
	hub := NewHub()
	c := newHubClient(4)

	hub.Join(DeviceRoom("D1"), c)
	assert.Equal(t, 1, hub.RoomSize(DeviceRoom("D1")))

	hub.Leave(DeviceRoom("D1"), c)
	assert.Equal(t, 0, hub.RoomSize(DeviceRoom("D1")))

	// Leaving twice is harmless
	hub.Leave(DeviceRoom("D1"), c)
}

func TestHub_LeaveAll(t *testing.T) {
	hub := NewHub()
	c := newHubClient(4)
	stays := newHubClient(4)

	hub.Join(DeviceRoom("D1"), c)
	hub.Join(UserRoom("U1"), c)
	hub.Join(UserRoom("U1"), stays)

	hub.LeaveAll(c)

	assert.Equal(t, 0, hub.RoomSize(DeviceRoom("D1")))
	assert.Equal(t, 1, hub.RoomSize(UserRoom("U1")))
	assert.Equal(t, 0, hub.Broadcast(DeviceRoom("D1"), newMessage(EventHeartbeatAck, "", nil)))
}

func TestClient_EnqueueAfterClose(t *testing.T) {
	c := newHubClient(4)
	close(c.done)

	assert.False(t, c.Enqueue(newMessage(EventHeartbeatAck, "", nil)))
}
