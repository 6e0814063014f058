package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cotype-dev/cotype/backend/go/internal/v1/logging"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/metrics"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/protocol"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/room"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/types"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client represents a single editor connection. It implements
// types.ClientSender and carries the session's room binding.
type Client struct {
	conn wsConnection
	hub  *Hub
	id   types.SessionIDType

	mu     sync.RWMutex
	room   *room.Room // at most one bound room per session
	closed bool

	closeOnce sync.Once
	send      chan []byte
}

func (c *Client) GetID() types.SessionIDType {
	return c.id
}

// currentRoom returns the room this session is bound to, or nil.
func (c *Client) currentRoom() *room.Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Client) bindRoom(r *room.Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = r
}

// Send queues pre-serialized data for delivery. It never blocks: when the
// client's buffer is full the message is dropped and the client is expected
// to recover via request-sync.
func (c *Client) Send(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from send to closing client", zap.String("sessionId", string(c.id)), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Client send channel full, dropping message", zap.String("sessionId", string(c.id)))
	}
}

// Disconnect closes the send channel, which drives the writePump to send a
// close frame and tear the connection down.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.send) })
}

// readPump processes incoming WebSocket messages until the connection drops,
// then runs disconnect cleanup exactly once.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logging.Warn(context.Background(), "Failed to unmarshal envelope", zap.String("sessionId", string(c.id)), zap.Error(err))
			continue
		}

		ctx := context.WithValue(context.Background(), logging.SessionIDKey, string(c.id))
		c.route(ctx, env)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for {
		message, ok := <-c.send
		if !ok {
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message", zap.String("sessionId", string(c.id)), zap.Error(err))
			return
		}
	}
}
