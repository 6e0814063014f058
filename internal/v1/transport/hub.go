package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/cotype-dev/cotype/backend/go/internal/v1/ident"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/logging"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/metrics"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/ratelimit"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/room"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/types"
)

// SweepInterval is how often the idle-room sweep runs.
const SweepInterval = 5 * time.Minute

// Hub is the process-wide room registry and the WebSocket entry point.
type Hub struct {
	mu    sync.Mutex
	rooms map[types.RoomIDType]*room.Room

	allowedOrigins []string
	rateLimiter    *ratelimit.RateLimiter // nil disables rate limiting
	clock          clock.PassiveClock
}

// NewHub creates a Hub. A nil clk falls back to the real clock; tests inject
// a fake.
func NewHub(allowedOrigins []string, rateLimiter *ratelimit.RateLimiter, clk clock.PassiveClock) *Hub {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Hub{
		rooms:          make(map[types.RoomIDType]*room.Room),
		allowedOrigins: allowedOrigins,
		rateLimiter:    rateLimiter,
		clock:          clk,
	}
}

// createRoom allocates a fresh room under a collision-free id and registers
// it. Creation cannot fail; an id collision just retries.
func (h *Hub) createRoom(ctx context.Context) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	var id types.RoomIDType
	for {
		id = types.RoomIDType(ident.NewRoomID())
		if _, taken := h.rooms[id]; !taken {
			break
		}
	}

	r := room.New(id, h.clock)
	h.rooms[id] = r
	metrics.ActiveRooms.Inc()

	logging.Info(ctx, "Created room", zap.String("roomId", string(id)), zap.Int("totalRooms", len(h.rooms)))
	return r
}

// lookupRoom returns the room under the given (already uppercased) id, or nil.
func (h *Hub) lookupRoom(id types.RoomIDType) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[id]
}

// LookupRoom is the exported lookup used by the HTTP introspection surface.
func (h *Hub) LookupRoom(id types.RoomIDType) *room.Room {
	return h.lookupRoom(id)
}

// Rooms returns a snapshot of all registered rooms.
func (h *Hub) Rooms() []*room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// RoomCount returns the number of registered rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// ensureRegistered re-links a room that concurrent cleanup may have removed
// between a session's lookup and its join. Without this, a join that races
// the last member's disconnect would succeed on a room the registry no longer
// owns, leaving the new member in a room that lookups and later joins cannot
// see.
func (h *Hub) ensureRegistered(ctx context.Context, r *room.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[r.ID]; ok {
		return
	}
	h.rooms[r.ID] = r
	metrics.ActiveRooms.Inc()
	logging.Info(ctx, "Re-registered room removed during join", zap.String("roomId", string(r.ID)))
}

// removeRoomIfEmpty unlinks a room once its last member is gone. Unlike a
// grace-period design, removal is immediate: a rejoin after this simply gets
// "Room not found".
func (h *Hub) removeRoomIfEmpty(ctx context.Context, id types.RoomIDType) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[id]
	if !ok || !r.IsEmpty() {
		return
	}
	delete(h.rooms, id)
	metrics.ActiveRooms.Dec()
	metrics.RoomMembers.DeleteLabelValues(string(id))
	logging.Info(ctx, "Removed empty room", zap.String("roomId", string(id)), zap.Int("totalRooms", len(h.rooms)))
}

// handleDisconnect runs the session's room cleanup after its read pump exits.
func (h *Hub) handleDisconnect(c *Client) {
	c.Disconnect()

	r := c.currentRoom()
	if r == nil {
		return
	}
	c.bindRoom(nil)

	ctx := context.WithValue(context.Background(), logging.SessionIDKey, string(c.id))
	if remaining := r.Leave(ctx, c.id); remaining == 0 {
		h.removeRoomIfEmpty(ctx, r.ID)
	}
}

// RunSweep periodically removes rooms that are empty and idle past the
// timeout. It blocks until ctx is cancelled; run it on its own goroutine.
func (h *Hub) RunSweep(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single idle-room sweep pass.
func (h *Hub) SweepOnce(ctx context.Context) {
	removed := 0
	for _, r := range h.Rooms() {
		// TryShouldCleanup backs off when the room's lock is contended; a busy
		// room is not a cleanup candidate anyway.
		if !r.TryShouldCleanup() {
			continue
		}

		h.mu.Lock()
		if current, ok := h.rooms[r.ID]; ok && current == r && r.ShouldCleanup() {
			delete(h.rooms, r.ID)
			metrics.ActiveRooms.Dec()
			metrics.RoomMembers.DeleteLabelValues(string(r.ID))
			removed++
		}
		h.mu.Unlock()
	}

	if removed > 0 {
		logging.Info(ctx, "Swept idle rooms", zap.Int("removed", removed), zap.Int("totalRooms", h.RoomCount()))
	}
}

// ServeWs upgrades an HTTP request to a WebSocket session and starts its
// message pumps.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocket(c) {
		return // response already written
	}

	conn, err := h.upgradeWebSocket(c)
	if err != nil {
		return
	}
	h.HandleConnection(conn)
}

// HandleConnection wires an established WebSocket connection into a session.
// Split from ServeWs so tests can drive it with a fake connection.
func (h *Hub) HandleConnection(conn wsConnection) *Client {
	client := &Client{
		conn: conn,
		hub:  h,
		id:   types.SessionIDType(uuid.NewString()),
		send: make(chan []byte, 256),
	}

	metrics.IncConnection()
	logging.Info(context.Background(), "Session connected", zap.String("sessionId", string(client.id)))

	go client.writePump()
	go client.readPump()
	return client
}

// Shutdown disconnects every member of every room. The per-session
// disconnect path handles membership removal and room deletion.
func (h *Hub) Shutdown(ctx context.Context) error {
	rooms := h.Rooms()
	logging.Info(ctx, "Shutting down hub", zap.Int("rooms", len(rooms)))

	for _, r := range rooms {
		r.DisconnectAll()
	}
	return nil
}
