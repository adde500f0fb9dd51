package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client represents one connected device socket.
//
// Send is never closed by broadcasters; the writer goroutine drains it until
// done is closed. Close is idempotent.
type Client struct {
	ConnID    string
	DeviceID  string
	UserID    string
	SessionID uuid.UUID

	conn *websocket.Conn
	Send chan Message

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an upgraded connection with a bounded send queue
func NewClient(conn *websocket.Conn, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Client{
		ConnID: uuid.New().String(),
		conn:   conn,
		Send:   make(chan Message, queueSize),
		done:   make(chan struct{}),
	}
}

// Done returns a channel closed when the client is shutting down
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close signals the client goroutines to stop. It does not close Send, so
// concurrent broadcasters can never panic on a closed channel.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Enqueue offers a message to the send queue without blocking. A full queue
// drops the message; room fan-out is best effort.
func (c *Client) Enqueue(msg Message) bool {
	select {
	case <-c.done:
		return false
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// writePump serializes all writes to the connection and keeps the peer alive
// with pings
func (c *Client) writePump(writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("connID", c.ConnID).Msg("Websocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
