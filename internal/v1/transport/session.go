package transport

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/cotype-dev/cotype/backend/go/internal/v1/ident"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/logging"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/metrics"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/protocol"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/types"
)

// route dispatches one inbound envelope. Room lifecycle events are handled
// here; everything room-scoped goes to the bound room's router.
func (c *Client) route(ctx context.Context, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventCreateRoom:
		c.handleCreateRoom(ctx, env)

	case protocol.EventJoinRoom:
		c.handleJoinRoom(ctx, env)

	case protocol.EventRequestSync:
		r := c.currentRoom()
		if r == nil {
			// The one room-scoped message that gets an explicit reply when the
			// session is unbound.
			if data, err := protocol.Marshal(protocol.EventSyncError, protocol.SyncError{Error: protocol.ErrRoomNotFound}); err == nil {
				c.Send(data)
			}
			return
		}
		r.Router(ctx, c, env)

	case protocol.EventDocumentOperation, protocol.EventCursorPosition, protocol.EventLanguageChange:
		r := c.currentRoom()
		if r == nil {
			logging.Warn(ctx, "Dropping room-scoped message from unbound session",
				zap.String("event", string(env.Event)),
				zap.String("sessionId", string(c.id)))
			return
		}
		r.Router(ctx, c, env)

	default:
		logging.Warn(ctx, "Unknown event", zap.String("event", string(env.Event)), zap.String("sessionId", string(c.id)))
	}
}

// handleCreateRoom allocates a fresh room and joins the creating session to
// it. The legacy client shape sends no payload; that parses as the zero value.
func (c *Client) handleCreateRoom(ctx context.Context, env protocol.Envelope) {
	var req protocol.CreateRoomRequest
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			logging.Warn(ctx, "Malformed create-room payload", zap.Error(err), zap.String("sessionId", string(c.id)))
		}
	}

	if c.currentRoom() != nil {
		c.sendAckError(ctx, env.AckID, protocol.ErrAlreadyInDifferentRoom)
		return
	}

	r := c.hub.createRoom(ctx)
	ctx = context.WithValue(ctx, logging.RoomIDKey, string(r.ID))

	if _, err := r.Join(ctx, c, req.UserName, env.AckID, true); err != nil {
		c.hub.removeRoomIfEmpty(ctx, r.ID)
		c.sendAckError(ctx, env.AckID, err.Error())
		return
	}
	c.bindRoom(r)
	metrics.WebsocketEvents.WithLabelValues(string(protocol.EventCreateRoom), "success").Inc()
}

// handleJoinRoom binds the session to an existing room. Error precedence:
// id format, then lookup, then binding conflict, then room admission.
func (c *Client) handleJoinRoom(ctx context.Context, env protocol.Envelope) {
	var req protocol.JoinRoomRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		logging.Warn(ctx, "Malformed join-room payload", zap.Error(err), zap.String("sessionId", string(c.id)))
		c.sendAckError(ctx, env.AckID, protocol.ErrInvalidRoomIDFormat)
		return
	}

	roomID := types.RoomIDType(strings.ToUpper(strings.TrimSpace(req.RoomID)))
	if !ident.ValidRoomID(string(roomID)) {
		c.sendAckError(ctx, env.AckID, protocol.ErrInvalidRoomIDFormat)
		return
	}
	ctx = context.WithValue(ctx, logging.RoomIDKey, string(roomID))

	r := c.hub.lookupRoom(roomID)
	if r == nil {
		c.sendAckError(ctx, env.AckID, protocol.ErrRoomNotFound)
		return
	}

	if bound := c.currentRoom(); bound != nil && bound.ID != roomID {
		c.sendAckError(ctx, env.AckID, protocol.ErrAlreadyInDifferentRoom)
		return
	}

	// Rejoin of the bound room falls through: Room.Join is idempotent and
	// replies with the current state.
	if _, err := r.Join(ctx, c, req.UserName, env.AckID, false); err != nil {
		c.sendAckError(ctx, env.AckID, err.Error())
		return
	}
	c.bindRoom(r)
	// The last member may have disconnected between our lookup and the join,
	// taking the registry entry with it; put the now non-empty room back.
	c.hub.ensureRegistered(ctx, r)
	metrics.WebsocketEvents.WithLabelValues(string(protocol.EventJoinRoom), "success").Inc()
}

func (c *Client) sendAckError(ctx context.Context, ackID string, msg string) {
	data, err := protocol.MarshalAck(ackID, protocol.NewErrorReply(msg))
	if err != nil {
		logging.Error(ctx, "Failed to marshal error ack", zap.Error(err), zap.String("sessionId", string(c.id)))
		return
	}
	c.Send(data)
	metrics.WebsocketEvents.WithLabelValues("ack-error", "error").Inc()
}
