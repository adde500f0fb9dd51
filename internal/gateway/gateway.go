package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/remotecast/remotecast-server/internal/audit"
	"github.com/remotecast/remotecast-server/internal/config"
	"github.com/remotecast/remotecast-server/internal/models"
	"github.com/remotecast/remotecast-server/internal/ratelimit"
	"github.com/remotecast/remotecast-server/internal/session"
	"github.com/remotecast/remotecast-server/internal/storage"
)

// Sessions is the slice of the session manager the gateway needs
type Sessions interface {
	Validate(ctx context.Context, token string) (*session.ValidatedSession, error)
	Refresh(ctx context.Context, refreshToken string) (*session.Tokens, error)
	RecordCommand(ctx context.Context, sessionID uuid.UUID) error
}

// CommandExecutor dispatches validated commands to the streaming pipeline
type CommandExecutor interface {
	Execute(ctx context.Context, deviceID, command string, params models.Variables) (models.Variables, error)
	Status(ctx context.Context, deviceID string) (models.Variables, error)
}

// NopExecutor accepts every command and reports empty status, for tests and
// single-node dev runs
type NopExecutor struct{}

func (NopExecutor) Execute(ctx context.Context, deviceID, command string, params models.Variables) (models.Variables, error) {
	return models.Variables{}, nil
}

func (NopExecutor) Status(ctx context.Context, deviceID string) (models.Variables, error) {
	return models.Variables{}, nil
}

// Gateway is the realtime command entrypoint. Each connection authenticates
// with a session token in its first message, then exchanges command events
// until it disconnects or its session ends.
type Gateway struct {
	cfg      config.GatewayConfig
	hub      *Hub
	sessions Sessions
	store    storage.Store
	sink     audit.Sink
	executor CommandExecutor

	upgrader websocket.Upgrader

	now func() time.Time
}

// NewGateway creates a gateway
func NewGateway(cfg config.GatewayConfig, hub *Hub, sessions Sessions, store storage.Store, sink audit.Sink, executor CommandExecutor) *Gateway {
	if executor == nil {
		executor = NopExecutor{}
	}
	return &Gateway{
		cfg:      cfg,
		hub:      hub,
		sessions: sessions,
		store:    store,
		sink:     sink,
		executor: executor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Mobile clients connect without a browser Origin header
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// HandleWS upgrades the request and runs the connection lifecycle
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	conn.SetReadLimit(g.cfg.MaxMessageBytes)

	vs, ok := g.handshake(r.Context(), conn, r.RemoteAddr)
	if !ok {
		conn.Close()
		return
	}

	client := NewClient(conn, g.cfg.SendQueueSize)
	client.DeviceID = vs.Session.DeviceID
	client.UserID = vs.Session.UserID
	client.SessionID = vs.Session.ID

	g.hub.Join(DeviceRoom(client.DeviceID), client)
	g.hub.Join(UserRoom(client.UserID), client)

	connectedAt := g.now()
	sessionID := client.SessionID
	g.sink.Record(r.Context(), &models.AuditEvent{
		Type:        models.AuditConnectionOpened,
		UserID:      client.UserID,
		DeviceID:    client.DeviceID,
		SessionID:   &sessionID,
		RemoteAddr:  r.RemoteAddr,
		Result:      models.AuditResultSuccess,
		Description: "Gateway connection opened",
	})

	log.Info().
		Str("connID", client.ConnID).
		Str("deviceID", client.DeviceID).
		Str("userID", client.UserID).
		Msg("Gateway connection established")

	go client.writePump(g.cfg.WriteTimeout, g.cfg.PingInterval)

	g.readLoop(r.Context(), client, vs)

	g.hub.LeaveAll(client)
	client.Close()

	g.sink.Record(context.Background(), &models.AuditEvent{
		Type:        models.AuditConnectionClosed,
		UserID:      client.UserID,
		DeviceID:    client.DeviceID,
		SessionID:   &sessionID,
		RemoteAddr:  r.RemoteAddr,
		Result:      models.AuditResultSuccess,
		Description: "Gateway connection closed",
		Details:     models.Variables{"duration": g.now().Sub(connectedAt).String()},
	})

	log.Info().
		Str("connID", client.ConnID).
		Str("deviceID", client.DeviceID).
		Dur("duration", g.now().Sub(connectedAt)).
		Msg("Gateway connection closed")
}

// handshake reads and verifies the first message. The connection carries no
// credentials in its URL; authentication happens in-band.
func (g *Gateway) handshake(ctx context.Context, conn *websocket.Conn, remoteAddr string) (*session.ValidatedSession, bool) {
	conn.SetReadDeadline(g.now().Add(g.cfg.PongTimeout))

	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		log.Debug().Err(err).Str("remoteAddr", remoteAddr).Msg("Handshake read failed")
		return nil, false
	}

	fail := func(reason string) (*session.ValidatedSession, bool) {
		conn.SetWriteDeadline(g.now().Add(g.cfg.WriteTimeout))
		conn.WriteJSON(newMessage(EventAuthenticationFailed, msg.RequestID, ErrorPayload{
			Code:    "authentication_failed",
			Message: reason,
		}))
		g.sink.Record(ctx, &models.AuditEvent{
			Type:        models.AuditAuthFailed,
			Level:       models.AuditLevelWarning,
			RemoteAddr:  remoteAddr,
			Result:      models.AuditResultFailure,
			Description: "Gateway authentication failed",
			Details:     models.Variables{"reason": reason},
		})
		return nil, false
	}

	if msg.Type != EventAuthenticate {
		return fail("first message must authenticate")
	}

	var payload AuthenticatePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fail("malformed authenticate payload")
	}

	vs, err := g.sessions.Validate(ctx, payload.SessionToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionExpired):
			return fail("session expired")
		case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrSessionNotFound):
			return fail("invalid session token")
		default:
			log.Error().Err(err).Msg("Session validation failed")
			return fail("session validation unavailable")
		}
	}

	if payload.DeviceID != vs.Session.DeviceID {
		return fail("device does not match session")
	}

	conn.SetWriteDeadline(g.now().Add(g.cfg.WriteTimeout))
	if err := conn.WriteJSON(newMessage(EventAuthenticated, msg.RequestID, AuthenticatedPayload{
		SessionID:     vs.Session.ID.String(),
		Capabilities:  vs.Session.Capabilities,
		SecurityLevel: vs.SecurityLevel,
		ExpiresAt:     vs.Session.ExpiresAt,
	})); err != nil {
		return nil, false
	}

	return vs, true
}

func (g *Gateway) readLoop(ctx context.Context, client *Client, vs *session.ValidatedSession) {
	conn := client.conn
	conn.SetReadDeadline(g.now().Add(g.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(g.now().Add(g.cfg.PongTimeout))
		return nil
	})

	limiter := ratelimit.NewLimiter(g.cfg.CommandRateLimit, g.cfg.CommandRateWindow)
	expiresAt := vs.Session.ExpiresAt

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("connID", client.ConnID).Msg("Websocket read failed")
			}
			return
		}
		conn.SetReadDeadline(g.now().Add(g.cfg.PongTimeout))

		// A session can hit its hard expiry while the socket stays up
		if g.now().After(expiresAt) {
			client.Enqueue(newMessage(EventSessionExpired, "", ErrorPayload{
				Code:    "session_expired",
				Message: "session expired during connection",
			}))
			return
		}

		switch msg.Type {
		case EventExecuteCommand:
			if !g.handleCommand(ctx, client, vs, limiter, msg, EventCommandResult) {
				return
			}

		case EventExecuteStreamCommand:
			if !g.handleCommand(ctx, client, vs, limiter, msg, EventStreamCommandResult) {
				return
			}

		case EventRequestStatus:
			g.handleStatus(ctx, client, vs, msg)

		case EventHeartbeat:
			g.handleHeartbeat(ctx, client, msg)

		case EventRefreshSession:
			if !g.handleRefresh(ctx, client, msg, &expiresAt) {
				return
			}

		default:
			client.Enqueue(newMessage(EventError, msg.RequestID, ErrorPayload{
				Code:    "unsupported_event",
				Message: "unsupported event type: " + msg.Type,
			}))
		}
	}
}

// handleCommand returns false when the connection must be torn down, which
// only happens when the executor reports the session expired mid-command.
func (g *Gateway) handleCommand(ctx context.Context, client *Client, vs *session.ValidatedSession, limiter *ratelimit.Limiter, msg Message, resultType string) bool {
	// Shape checks come before the rate window so malformed or unknown
	// commands never consume budget
	var payload CommandPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Command == "" {
		client.Enqueue(newMessage(resultType, msg.RequestID, CommandResultPayload{
			Command: payload.Command,
			Success: false,
			Error:   "malformed command payload",
		}))
		return true
	}

	required, known := commandCapabilities[payload.Command]
	if !known {
		client.Enqueue(newMessage(resultType, msg.RequestID, CommandResultPayload{
			Command: payload.Command,
			Success: false,
			Error:   "unknown command",
		}))
		return true
	}

	params, ok := decodeParameters(payload.Parameters)
	if !ok {
		client.Enqueue(newMessage(resultType, msg.RequestID, CommandResultPayload{
			Command: payload.Command,
			Success: false,
			Error:   "malformed command payload",
		}))
		return true
	}

	if !limiter.Allow(client.ConnID) {
		client.Enqueue(newMessage(resultType, msg.RequestID, CommandResultPayload{
			Command: payload.Command,
			Success: false,
			Error:   "command rate limit exceeded",
		}))
		sessionID := client.SessionID
		g.sink.Record(ctx, &models.AuditEvent{
			Type:        models.AuditRateLimitExceeded,
			Level:       models.AuditLevelWarning,
			UserID:      client.UserID,
			DeviceID:    client.DeviceID,
			SessionID:   &sessionID,
			Result:      models.AuditResultFailure,
			Description: "Rate limit exceeded: gateway commands",
			Details:     models.Variables{"command": payload.Command},
		})
		return true
	}

	if !vs.Session.Capabilities.Contains(required) {
		client.Enqueue(newMessage(resultType, msg.RequestID, CommandResultPayload{
			Command: payload.Command,
			Success: false,
			Error:   "capability not granted: " + string(required),
		}))
		sessionID := client.SessionID
		g.sink.Record(ctx, &models.AuditEvent{
			Type:        models.AuditCommandRejected,
			Level:       models.AuditLevelWarning,
			UserID:      client.UserID,
			DeviceID:    client.DeviceID,
			SessionID:   &sessionID,
			Result:      models.AuditResultFailure,
			Description: "Command rejected: missing capability",
			Details: models.Variables{
				"command":    payload.Command,
				"capability": required,
			},
		})
		return true
	}

	result, err := g.executor.Execute(ctx, client.DeviceID, payload.Command, params)
	if err != nil {
		// The executor noticing expiry mid-command forces a disconnect;
		// the device must re-authenticate with a fresh token
		if errors.Is(err, session.ErrSessionExpired) {
			client.Enqueue(newMessage(EventSessionExpired, msg.RequestID, ErrorPayload{
				Code:    "session_expired",
				Message: "session expired during command execution",
			}))
			return false
		}
		client.Enqueue(newMessage(resultType, msg.RequestID, CommandResultPayload{
			Command: payload.Command,
			Success: false,
			Error:   err.Error(),
		}))
		return true
	}

	if err := g.sessions.RecordCommand(ctx, client.SessionID); err != nil {
		log.Warn().Err(err).Str("sessionID", client.SessionID.String()).Msg("Failed to record command")
	}

	client.Enqueue(newMessage(resultType, msg.RequestID, CommandResultPayload{
		Command: payload.Command,
		Success: true,
		Result:  result,
	}))
	return true
}

// decodeParameters accepts an absent or object-valued parameters field and
// rejects an explicit null or any non-object value.
func decodeParameters(raw json.RawMessage) (models.Variables, bool) {
	if len(raw) == 0 {
		return models.Variables{}, true
	}
	var params models.Variables
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, false
	}
	if params == nil {
		return nil, false
	}
	return params, true
}

func (g *Gateway) handleStatus(ctx context.Context, client *Client, vs *session.ValidatedSession, msg Message) {
	if !vs.Session.Capabilities.Contains(models.CapabilityStatusRead) {
		client.Enqueue(newMessage(EventError, msg.RequestID, ErrorPayload{
			Code:    "capability_missing",
			Message: "capability not granted: " + string(models.CapabilityStatusRead),
		}))
		return
	}

	status, err := g.executor.Status(ctx, client.DeviceID)
	if err != nil {
		client.Enqueue(newMessage(EventError, msg.RequestID, ErrorPayload{
			Code:    "status_unavailable",
			Message: err.Error(),
		}))
		return
	}

	client.Enqueue(newMessage(EventStatusResponse, msg.RequestID, StatusResponsePayload{
		DeviceID: client.DeviceID,
		Status:   status,
	}))
}

func (g *Gateway) handleHeartbeat(ctx context.Context, client *Client, msg Message) {
	var payload HeartbeatPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Debug().Err(err).Str("connID", client.ConnID).Msg("Malformed heartbeat payload")
		}
	}

	if err := g.store.UpdateDeviceTelemetry(ctx, client.DeviceID, payload.BatteryLevel, payload.NetworkType, g.now()); err != nil {
		log.Warn().Err(err).Str("deviceID", client.DeviceID).Msg("Failed to update device telemetry")
	}

	client.Enqueue(newMessage(EventHeartbeatAck, msg.RequestID, HeartbeatAckPayload{
		ServerTime: g.now(),
	}))
}

// handleRefresh rotates tokens without dropping the socket. Returns false
// when the connection should close.
func (g *Gateway) handleRefresh(ctx context.Context, client *Client, msg Message, expiresAt *time.Time) bool {
	var payload RefreshSessionPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		client.Enqueue(newMessage(EventError, msg.RequestID, ErrorPayload{
			Code:    "bad_payload",
			Message: "malformed refreshSession payload",
		}))
		return true
	}

	tokens, err := g.sessions.Refresh(ctx, payload.RefreshToken)
	if err != nil {
		if errors.Is(err, session.ErrSessionExpired) {
			client.Enqueue(newMessage(EventSessionExpired, msg.RequestID, ErrorPayload{
				Code:    "session_expired",
				Message: "session expired",
			}))
			return false
		}
		client.Enqueue(newMessage(EventError, msg.RequestID, ErrorPayload{
			Code:    "refresh_failed",
			Message: "could not refresh session",
		}))
		return true
	}

	*expiresAt = tokens.ExpiresAt
	client.Enqueue(newMessage(EventSessionRefreshed, msg.RequestID, SessionRefreshedPayload{
		Token:        tokens.Token,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}))
	return true
}

// BroadcastToDevice fans a server-initiated event out to every connection of
// a device
func (g *Gateway) BroadcastToDevice(deviceID, eventType string, payload interface{}) int {
	return g.hub.Broadcast(DeviceRoom(deviceID), newMessage(eventType, "", payload))
}

// BroadcastToUser fans a server-initiated event out to every connection of a
// user's devices
func (g *Gateway) BroadcastToUser(userID, eventType string, payload interface{}) int {
	return g.hub.Broadcast(UserRoom(userID), newMessage(eventType, "", payload))
}
