// Package room implements the per-room state machine: the shared document,
// the membership map, the bounded operation history, and the validate/apply
// pipeline.
//
// Concurrency: every Room is guarded by its own read-write mutex. A handler
// that applies an operation captures the outbound messages and pushes them
// onto the recipients' buffered send channels while still holding the lock,
// so the delivery order seen by any one member matches the apply order. The
// actual network write happens later in each client's write pump; no lock is
// ever held across a transport write.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/cotype-dev/cotype/backend/go/internal/v1/document"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/ident"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/logging"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/metrics"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/protocol"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/types"
)

const (
	// MaxUsers is the hard membership cap per room.
	MaxUsers = 10

	// HistoryLimit bounds the per-room operation log.
	HistoryLimit = 1000

	// SyncHistoryCount is how many recent operations a document-sync carries.
	SyncHistoryCount = 50

	// IdleTimeout is how long an empty room may linger before the sweep
	// removes it.
	IdleTimeout = 30 * time.Minute

	// StatsActiveWindow is the recency window for the stats isActive flag.
	StatsActiveWindow = 5 * time.Minute

	// DefaultLanguage is the language a fresh room reports until a member
	// switches it.
	DefaultLanguage = "javascript"
)

// WelcomeDocument is the fixed initial text of every new room.
const WelcomeDocument = "// Welcome to the collaborative editor!\n" +
	"// Start typing to see real-time collaboration in action\n\n" +
	"console.log(\"Hello, collaborative world!\");"

// Sentinel errors carrying the exact user-visible strings.
var (
	ErrRoomFull         = errors.New(protocol.ErrRoomFull)
	ErrInvalidUserData  = errors.New(protocol.ErrInvalidUserData)
	ErrInvalidOperation = errors.New(protocol.ErrInvalidOperation)
)

// member pairs a presence record with the transport needed to reach it.
type member struct {
	presence types.Presence
	client   types.ClientSender
}

// Room owns one shared document and its current members.
type Room struct {
	ID types.RoomIDType

	mu           sync.RWMutex
	doc          *document.Buffer
	members      map[types.SessionIDType]*member
	history      *document.History
	createdAt    time.Time
	lastActivity time.Time
	language     string
	maxUsers     int

	clock clock.PassiveClock
}

// New creates a room holding the welcome document. A nil clk falls back to
// the real clock; tests inject a fake.
func New(id types.RoomIDType, clk clock.PassiveClock) *Room {
	if clk == nil {
		clk = clock.RealClock{}
	}
	now := clk.Now()
	return &Room{
		ID:           id,
		doc:          document.New(WelcomeDocument),
		members:      make(map[types.SessionIDType]*member),
		history:      document.NewHistory(HistoryLimit),
		createdAt:    now,
		lastActivity: now,
		language:     DefaultLanguage,
		maxUsers:     MaxUsers,
		clock:        clk,
	}
}

// Join admits a client as a member and delivers the acknowledgement for the
// request carrying ackID. The ack is pushed onto the joiner's send channel
// and the user-joined broadcast onto everyone else's under the same lock
// acquisition as the membership change, so no member can observe a document
// update from before its own admission.
//
// A client that is already a member is not re-added: it just receives a fresh
// state ack (idempotent rejoin).
//
// asCreator selects the create-room ack shape (with roomId, without
// documentVersion) over the join-room shape.
func (r *Room) Join(ctx context.Context, client types.ClientSender, userName string, ackID string, asCreator bool) (types.Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	id := client.GetID()

	if existing, ok := r.members[id]; ok {
		existing.presence.LastSeen = now
		r.sendStateAckLocked(existing.client, existing.presence, ackID, asCreator)
		return r.presenceSnapshotLocked(existing.presence), nil
	}

	if len(r.members) >= r.maxUsers {
		return types.Presence{}, ErrRoomFull
	}

	if userName == "" {
		userName = ident.FallbackName(len(r.members))
	}

	presence := types.Presence{
		ID:       id,
		Name:     types.DisplayNameType(userName),
		Color:    ident.NextColor(),
		JoinedAt: now,
		LastSeen: now,
	}
	if err := presence.Validate(); err != nil {
		return types.Presence{}, ErrInvalidUserData
	}

	r.members[id] = &member{presence: presence, client: client}
	r.lastActivity = now
	metrics.RoomMembers.WithLabelValues(string(r.ID)).Set(float64(len(r.members)))

	r.sendStateAckLocked(client, presence, ackID, asCreator)

	joined := protocol.UserJoined{
		User:      r.presenceSnapshotLocked(presence),
		UserCount: len(r.members),
	}
	if data, err := protocol.Marshal(protocol.EventUserJoined, joined); err == nil {
		r.broadcastLocked(data, id)
	} else {
		logging.Error(ctx, "Failed to marshal user-joined", zap.Error(err), zap.String("room", string(r.ID)))
	}

	logging.Info(ctx, "Member joined room",
		zap.String("room", string(r.ID)),
		zap.String("sessionId", string(id)),
		zap.Int("userCount", len(r.members)))

	return r.presenceSnapshotLocked(presence), nil
}

// Leave removes a member and broadcasts user-left to the remaining members.
// It is idempotent. Returns the remaining member count.
func (r *Room) Leave(ctx context.Context, id types.SessionIDType) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; !ok {
		return len(r.members)
	}

	delete(r.members, id)
	r.lastActivity = r.clock.Now()

	if len(r.members) > 0 {
		metrics.RoomMembers.WithLabelValues(string(r.ID)).Set(float64(len(r.members)))
	} else {
		metrics.RoomMembers.DeleteLabelValues(string(r.ID))
	}

	if data, err := protocol.Marshal(protocol.EventUserLeft, string(id)); err == nil {
		r.broadcastLocked(data, "")
	} else {
		logging.Error(ctx, "Failed to marshal user-left", zap.Error(err), zap.String("room", string(r.ID)))
	}

	logging.Info(ctx, "Member left room",
		zap.String("room", string(r.ID)),
		zap.String("sessionId", string(id)),
		zap.Int("userCount", len(r.members)))

	return len(r.members)
}

// DisconnectAll forcefully disconnects every member. Used during server
// shutdown; the transport-level disconnect handling performs the actual
// membership removal.
func (r *Room) DisconnectAll() {
	r.mu.RLock()
	clients := make([]types.ClientSender, 0, len(r.members))
	for _, m := range r.members {
		clients = append(clients, m.client)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		c.Disconnect()
	}
}

// UpdateUserActivity refreshes a member's lastSeen timestamp.
func (r *Room) UpdateUserActivity(id types.SessionIDType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		m.presence.LastSeen = r.clock.Now()
	}
}

// sendStateAckLocked pushes the full-state acknowledgement for a successful
// create or join onto the client's send channel. Caller must hold r.mu.
func (r *Room) sendStateAckLocked(client types.ClientSender, presence types.Presence, ackID string, asCreator bool) {
	users := r.userListLocked()
	stats := r.statsLocked()
	user := r.presenceSnapshotLocked(presence)

	var payload any
	if asCreator {
		payload = protocol.CreateRoomReply{
			Success:   true,
			RoomID:    r.ID,
			Document:  r.doc.String(),
			Users:     users,
			User:      user,
			RoomStats: stats,
		}
	} else {
		payload = protocol.JoinRoomReply{
			Success:         true,
			Document:        r.doc.String(),
			Users:           users,
			User:            user,
			RoomStats:       stats,
			DocumentVersion: r.history.Len(),
		}
	}

	data, err := protocol.MarshalAck(ackID, payload)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal join ack", zap.Error(err), zap.String("room", string(r.ID)))
		return
	}
	client.Send(data)
}

// broadcastLocked pushes data onto every member's send channel except the
// originator. Caller must hold r.mu. The push never blocks; the transport
// drops messages for clients whose buffers are full.
func (r *Room) broadcastLocked(data []byte, except types.SessionIDType) {
	for id, m := range r.members {
		if except != "" && id == except {
			continue
		}
		m.client.Send(data)
	}
}
