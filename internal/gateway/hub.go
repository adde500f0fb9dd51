package gateway

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Room name helpers. Devices join their device room and their owner's user
// room on authentication.
func DeviceRoom(deviceID string) string { return fmt.Sprintf("device:%s", deviceID) }
func UserRoom(userID string) string { return fmt.Sprintf("user:%s", userID) }

// Hub tracks which clients are in which rooms and fans broadcasts out to
// them. Delivery is at-most-once: a slow client drops messages rather than
// blocking the hub.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
	}
}

// Join adds a client to a room
func (h *Hub) Join(room string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[client] = struct{}{}
}

// Leave removes a client from a room, deleting the room when it empties
func (h *Hub) Leave(room string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// LeaveAll removes a client from every room it is in
func (h *Hub) LeaveAll(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room, members := range h.rooms {
		if _, ok := members[client]; !ok {
			continue
		}
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Broadcast delivers a message to every client in a room, skipping clients
// whose send queues are full
func (h *Hub) Broadcast(room string, msg Message) int {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for client := range h.rooms[room] {
		members = append(members, client)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range members {
		if client.Enqueue(msg) {
			delivered++
		} else {
			log.Debug().
				Str("room", room).
				Str("connID", client.ConnID).
				Str("type", msg.Type).
				Msg("Dropped broadcast for slow client")
		}
	}
	return delivered
}

// RoomSize reports the current member count of a room
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
