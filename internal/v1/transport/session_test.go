package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/cotype-dev/cotype/backend/go/internal/v1/protocol"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/room"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/types"
)

func newTestHub() (*Hub, *clocktesting.FakePassiveClock) {
	clk := clocktesting.NewFakePassiveClock(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	return NewHub([]string{"http://localhost:5173"}, nil, clk), clk
}

func decodeEnvelope(t *testing.T, data []byte) protocol.Envelope {
	t.Helper()
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// lastAck returns the most recent ack envelope among the given frames.
func lastAck(t *testing.T, frames [][]byte) (protocol.Envelope, bool) {
	t.Helper()
	var found protocol.Envelope
	ok := false
	for _, data := range frames {
		env := decodeEnvelope(t, data)
		if env.Event == protocol.EventAck {
			found = env
			ok = true
		}
	}
	return found, ok
}

func createRoomVia(t *testing.T, h *Hub, c *Client, userName string) types.RoomIDType {
	t.Helper()
	payload, err := json.Marshal(protocol.CreateRoomRequest{UserName: userName})
	require.NoError(t, err)
	c.route(context.Background(), protocol.Envelope{Event: protocol.EventCreateRoom, AckID: "create-ack", Payload: payload})

	env, ok := lastAck(t, drainSent(c))
	require.True(t, ok)
	var reply protocol.CreateRoomReply
	require.NoError(t, json.Unmarshal(env.Payload, &reply))
	require.True(t, reply.Success)
	return reply.RoomID
}

func TestCreateRoom_Success(t *testing.T) {
	h, _ := newTestHub()
	c := newTestClient(h)

	roomID := createRoomVia(t, h, c, "Ada")

	assert.Regexp(t, `^[A-Z0-9]{6}$`, string(roomID))
	assert.Equal(t, 1, h.RoomCount())
	require.NotNil(t, c.currentRoom())
	assert.Equal(t, roomID, c.currentRoom().ID)

	r := h.LookupRoom(roomID)
	require.NotNil(t, r)
	assert.Equal(t, 1, r.UserCount())
}

func TestCreateRoom_LegacyEmptyPayload(t *testing.T) {
	h, _ := newTestHub()
	c := newTestClient(h)

	c.route(context.Background(), protocol.Envelope{Event: protocol.EventCreateRoom, AckID: "a1"})

	env, ok := lastAck(t, drainSent(c))
	require.True(t, ok)
	var reply protocol.CreateRoomReply
	require.NoError(t, json.Unmarshal(env.Payload, &reply))
	assert.True(t, reply.Success)
	// No name supplied: the member gets a pool name.
	assert.NotEmpty(t, reply.User.Name)
}

func TestCreateRoom_WhileBoundFails(t *testing.T) {
	h, _ := newTestHub()
	c := newTestClient(h)
	createRoomVia(t, h, c, "Ada")

	c.route(context.Background(), protocol.Envelope{Event: protocol.EventCreateRoom, AckID: "a2"})

	env, ok := lastAck(t, drainSent(c))
	require.True(t, ok)
	var reply protocol.ErrorReply
	require.NoError(t, json.Unmarshal(env.Payload, &reply))
	assert.False(t, reply.Success)
	assert.Equal(t, "Already in a different room", reply.Error)
	assert.Equal(t, 1, h.RoomCount())
}

func TestJoinRoom_Success(t *testing.T) {
	h, _ := newTestHub()
	creator := newTestClient(h)
	roomID := createRoomVia(t, h, creator, "Ada")

	joiner := newTestClient(h)
	payload, err := json.Marshal(protocol.JoinRoomRequest{RoomID: string(roomID), UserName: "Grace"})
	require.NoError(t, err)
	joiner.route(context.Background(), protocol.Envelope{Event: protocol.EventJoinRoom, AckID: "j1", Payload: payload})

	env, ok := lastAck(t, drainSent(joiner))
	require.True(t, ok)
	assert.Equal(t, "j1", env.AckID)
	var reply protocol.JoinRoomReply
	require.NoError(t, json.Unmarshal(env.Payload, &reply))
	assert.True(t, reply.Success)
	assert.Len(t, reply.Users, 2)
	assert.Equal(t, 0, reply.DocumentVersion)
	require.NotNil(t, joiner.currentRoom())

	// Creator hears user-joined.
	frames := drainSent(creator)
	require.NotEmpty(t, frames)
	sawJoin := false
	for _, data := range frames {
		if decodeEnvelope(t, data).Event == protocol.EventUserJoined {
			sawJoin = true
		}
	}
	assert.True(t, sawJoin)
}

func TestJoinRoom_CaseInsensitiveLookup(t *testing.T) {
	h, _ := newTestHub()
	creator := newTestClient(h)
	roomID := createRoomVia(t, h, creator, "Ada")

	joiner := newTestClient(h)
	lower := []byte(fmt.Sprintf(`{"roomId":%q}`, string(roomID)))
	for i := range lower {
		if lower[i] >= 'A' && lower[i] <= 'Z' {
			lower[i] += 'a' - 'A'
		}
	}
	joiner.route(context.Background(), protocol.Envelope{Event: protocol.EventJoinRoom, AckID: "j1", Payload: lower})

	env, ok := lastAck(t, drainSent(joiner))
	require.True(t, ok)
	var reply protocol.JoinRoomReply
	require.NoError(t, json.Unmarshal(env.Payload, &reply))
	assert.True(t, reply.Success)
}

func TestJoinRoom_LegacyBareStringPayload(t *testing.T) {
	h, _ := newTestHub()
	creator := newTestClient(h)
	roomID := createRoomVia(t, h, creator, "Ada")

	joiner := newTestClient(h)
	payload, err := json.Marshal(string(roomID))
	require.NoError(t, err)
	joiner.route(context.Background(), protocol.Envelope{Event: protocol.EventJoinRoom, AckID: "j1", Payload: payload})

	env, ok := lastAck(t, drainSent(joiner))
	require.True(t, ok)
	var reply protocol.JoinRoomReply
	require.NoError(t, json.Unmarshal(env.Payload, &reply))
	assert.True(t, reply.Success)
}

func TestJoinRoom_Errors(t *testing.T) {
	h, _ := newTestHub()
	creator := newTestClient(h)
	roomID := createRoomVia(t, h, creator, "Ada")

	tests := []struct {
		name    string
		payload string
		setup   func(c *Client)
		wantErr string
	}{
		{
			name:    "invalid id format",
			payload: `{"roomId":"abc"}`,
			wantErr: "Invalid room ID format",
		},
		{
			name:    "lowercase punctuation rejected",
			payload: `{"roomId":"AB-123"}`,
			wantErr: "Invalid room ID format",
		},
		{
			name:    "unknown room",
			payload: `{"roomId":"ZZZZZ9"}`,
			wantErr: "Room not found",
		},
		{
			name:    "already in a different room",
			payload: fmt.Sprintf(`{"roomId":%q}`, string(roomID)),
			setup: func(c *Client) {
				createRoomVia(t, h, c, "Grace")
			},
			wantErr: "Already in a different room",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(h)
			if tt.setup != nil {
				tt.setup(c)
			}
			c.route(context.Background(), protocol.Envelope{Event: protocol.EventJoinRoom, AckID: "j1", Payload: []byte(tt.payload)})

			env, ok := lastAck(t, drainSent(c))
			require.True(t, ok)
			var reply protocol.ErrorReply
			require.NoError(t, json.Unmarshal(env.Payload, &reply))
			assert.False(t, reply.Success)
			assert.Equal(t, tt.wantErr, reply.Error)
		})
	}
}

func TestJoinRoom_FullRoom(t *testing.T) {
	h, _ := newTestHub()
	creator := newTestClient(h)
	roomID := createRoomVia(t, h, creator, "Ada")
	payload, err := json.Marshal(protocol.JoinRoomRequest{RoomID: string(roomID)})
	require.NoError(t, err)

	for i := 1; i < room.MaxUsers; i++ {
		c := newTestClient(h)
		c.route(context.Background(), protocol.Envelope{Event: protocol.EventJoinRoom, AckID: "j", Payload: payload})
		env, ok := lastAck(t, drainSent(c))
		require.True(t, ok)
		var reply protocol.JoinRoomReply
		require.NoError(t, json.Unmarshal(env.Payload, &reply))
		require.True(t, reply.Success)
	}

	late := newTestClient(h)
	late.route(context.Background(), protocol.Envelope{Event: protocol.EventJoinRoom, AckID: "late", Payload: payload})
	env, ok := lastAck(t, drainSent(late))
	require.True(t, ok)
	var reply protocol.ErrorReply
	require.NoError(t, json.Unmarshal(env.Payload, &reply))
	assert.Equal(t, "Room is full", reply.Error)
	assert.Nil(t, late.currentRoom())
}

func TestJoinRoom_IdempotentRejoin(t *testing.T) {
	h, _ := newTestHub()
	c := newTestClient(h)
	roomID := createRoomVia(t, h, c, "Ada")

	payload, err := json.Marshal(protocol.JoinRoomRequest{RoomID: string(roomID)})
	require.NoError(t, err)
	c.route(context.Background(), protocol.Envelope{Event: protocol.EventJoinRoom, AckID: "rejoin", Payload: payload})

	env, ok := lastAck(t, drainSent(c))
	require.True(t, ok)
	assert.Equal(t, "rejoin", env.AckID)
	var reply protocol.JoinRoomReply
	require.NoError(t, json.Unmarshal(env.Payload, &reply))
	assert.True(t, reply.Success)
	assert.Len(t, reply.Users, 1)
	assert.Equal(t, 1, h.LookupRoom(roomID).UserCount())
}

func TestUnboundSession_RoomScopedMessages(t *testing.T) {
	h, _ := newTestHub()
	c := newTestClient(h)

	// Silently dropped.
	c.route(context.Background(), protocol.Envelope{Event: protocol.EventDocumentOperation, Payload: []byte(`{}`)})
	c.route(context.Background(), protocol.Envelope{Event: protocol.EventCursorPosition, Payload: []byte(`{"line":1,"column":1}`)})
	c.route(context.Background(), protocol.Envelope{Event: protocol.EventLanguageChange, Payload: []byte(`{"language":"go"}`)})
	assert.Empty(t, drainSent(c))

	// request-sync is the exception: it gets an explicit sync-error.
	c.route(context.Background(), protocol.Envelope{Event: protocol.EventRequestSync})
	frames := drainSent(c)
	require.Len(t, frames, 1)
	env := decodeEnvelope(t, frames[0])
	assert.Equal(t, protocol.EventSyncError, env.Event)
	var syncErr protocol.SyncError
	require.NoError(t, json.Unmarshal(env.Payload, &syncErr))
	assert.Equal(t, "Room not found", syncErr.Error)
}

func TestHandleDisconnect_RemovesEmptyRoomImmediately(t *testing.T) {
	h, _ := newTestHub()
	c := newTestClient(h)
	roomID := createRoomVia(t, h, c, "Ada")

	h.handleDisconnect(c)

	assert.Nil(t, c.currentRoom())
	assert.Nil(t, h.LookupRoom(roomID))
	assert.Equal(t, 0, h.RoomCount())
}

func TestHandleDisconnect_KeepsOccupiedRoom(t *testing.T) {
	h, _ := newTestHub()
	creator := newTestClient(h)
	roomID := createRoomVia(t, h, creator, "Ada")

	joiner := newTestClient(h)
	payload, err := json.Marshal(protocol.JoinRoomRequest{RoomID: string(roomID)})
	require.NoError(t, err)
	joiner.route(context.Background(), protocol.Envelope{Event: protocol.EventJoinRoom, AckID: "j", Payload: payload})
	drainSent(joiner)
	drainSent(creator)

	h.handleDisconnect(joiner)

	r := h.LookupRoom(roomID)
	require.NotNil(t, r)
	assert.Equal(t, 1, r.UserCount())

	// The survivor hears user-left with the bare session id.
	frames := drainSent(creator)
	require.NotEmpty(t, frames)
	env := decodeEnvelope(t, frames[len(frames)-1])
	assert.Equal(t, protocol.EventUserLeft, env.Event)
	var id string
	require.NoError(t, json.Unmarshal(env.Payload, &id))
	assert.Equal(t, string(joiner.GetID()), id)
}

// A join can race the last member's disconnect: the joining session looks the
// room up, the sole member leaves and the registry drops the entry, then the
// join lands on the stale pointer. The now non-empty room must end up back in
// the registry, visible to lookups and later joins.
func TestJoinRoom_ReregistersRoomRemovedDuringJoin(t *testing.T) {
	h, _ := newTestHub()
	creator := newTestClient(h)
	roomID := createRoomVia(t, h, creator, "Ada")

	// The joining session's lookup succeeds first.
	r := h.lookupRoom(roomID)
	require.NotNil(t, r)

	// Then the sole member disconnects and the registry removes the room.
	h.handleDisconnect(creator)
	require.Equal(t, 0, h.RoomCount())

	// The join proceeds on the stale pointer, as handleJoinRoom would.
	joiner := newTestClient(h)
	_, err := r.Join(context.Background(), joiner, "Grace", "j1", false)
	require.NoError(t, err)
	joiner.bindRoom(r)
	h.ensureRegistered(context.Background(), r)

	assert.Equal(t, 1, h.RoomCount())
	got := h.LookupRoom(roomID)
	require.NotNil(t, got)
	assert.Equal(t, r, got)
	assert.Equal(t, 1, got.UserCount())

	// A later join through the normal path sees the room again.
	second := newTestClient(h)
	payload, err := json.Marshal(protocol.JoinRoomRequest{RoomID: string(roomID), UserName: "Linus"})
	require.NoError(t, err)
	second.route(context.Background(), protocol.Envelope{Event: protocol.EventJoinRoom, AckID: "j2", Payload: payload})

	env, ok := lastAck(t, drainSent(second))
	require.True(t, ok)
	var reply protocol.JoinRoomReply
	require.NoError(t, json.Unmarshal(env.Payload, &reply))
	assert.True(t, reply.Success)
	assert.Equal(t, 2, got.UserCount())
}

// ensureRegistered must not clobber the entry when the room never left the
// registry, and a disconnect that lands after the re-registration must keep
// the room because it is no longer empty.
func TestEnsureRegistered_NoopWhenPresent(t *testing.T) {
	h, _ := newTestHub()
	creator := newTestClient(h)
	roomID := createRoomVia(t, h, creator, "Ada")
	r := h.lookupRoom(roomID)

	h.ensureRegistered(context.Background(), r)
	assert.Equal(t, 1, h.RoomCount())

	// removeRoomIfEmpty after the race re-check is a no-op on an occupied room.
	h.removeRoomIfEmpty(context.Background(), roomID)
	assert.NotNil(t, h.LookupRoom(roomID))
}

func TestSweepOnce(t *testing.T) {
	h, clk := newTestHub()

	occupied := newTestClient(h)
	occupiedID := createRoomVia(t, h, occupied, "Ada")

	// An empty room left behind without the immediate-removal path firing,
	// e.g. a create whose session died before the hub saw the disconnect.
	idle := h.createRoom(context.Background())

	clk.SetTime(clk.Now().Add(room.IdleTimeout + time.Minute))
	h.SweepOnce(context.Background())

	assert.NotNil(t, h.LookupRoom(occupiedID))
	assert.Nil(t, h.LookupRoom(idle.ID))
	assert.Equal(t, 1, h.RoomCount())
}

func TestHubShutdown_DisconnectsMembers(t *testing.T) {
	h, _ := newTestHub()
	c := newTestClient(h)
	createRoomVia(t, h, c, "Ada")

	require.NoError(t, h.Shutdown(context.Background()))

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	assert.True(t, closed)
}
