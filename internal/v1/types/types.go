// Package types holds the domain types shared between the room, protocol,
// and transport packages.
package types

import (
	"errors"
	"time"
)

// --- Core Domain Types ---

// RoomIDType represents a unique identifier for a collaboration room.
type RoomIDType string

// SessionIDType represents a unique identifier for a client transport session.
// A session id doubles as the member id inside a room.
type SessionIDType string

// DisplayNameType represents the human-readable name for a participant.
type DisplayNameType string

// CursorPosition is a participant's cursor location as reported by the editor.
// The values are free-form; the server relays them without interpretation.
type CursorPosition struct {
	Line   float64 `json:"line"`
	Column float64 `json:"column"`
}

// PresenceActiveWindow is how recently a member must have been seen to count
// as active.
const PresenceActiveWindow = 30 * time.Second

// Presence is the per-member record within a room.
type Presence struct {
	ID       SessionIDType   `json:"id"`
	Name     DisplayNameType `json:"name"`
	Color    string          `json:"color"`
	Cursor   CursorPosition  `json:"cursor"`
	JoinedAt time.Time       `json:"joinedAt"`
	LastSeen time.Time       `json:"lastSeen"`

	// IsActive is derived (lastSeen within PresenceActiveWindow) and stamped
	// when a snapshot is taken.
	IsActive bool `json:"isActive"`
}

// Validate ensures a presence record is safe to store.
func (p Presence) Validate() error {
	if p.ID == "" {
		return errors.New("presence id cannot be empty")
	}
	if p.Name == "" || p.Color == "" {
		return errors.New("presence requires a name and a color")
	}
	return nil
}

// RoomStats is the read-only statistics snapshot exposed for a room.
type RoomStats struct {
	ID             RoomIDType `json:"id"`
	UserCount      int        `json:"userCount"`
	MaxUsers       int        `json:"maxUsers"`
	DocumentLength int        `json:"documentLength"`
	OperationCount int        `json:"operationCount"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivity   time.Time  `json:"lastActivity"`

	// IsActive here means "activity within the last five minutes", unlike the
	// presence notion of the same name.
	IsActive bool `json:"isActive"`
}

// --- Shared Interfaces ---

// ClientSender defines the behavior the room package needs from a connected
// client. This keeps the room independent of the websocket transport.
type ClientSender interface {
	GetID() SessionIDType
	// Send queues pre-serialized data for delivery. It must never block; the
	// transport drops the message when the client's buffer is full.
	Send(data []byte)
	// Disconnect forcefully closes the underlying connection.
	Disconnect()
}
