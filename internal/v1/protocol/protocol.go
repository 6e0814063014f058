// Package protocol defines the JSON message envelope and payload shapes
// exchanged between editor clients and the server.
//
// Every message is an Envelope with an event name and a raw payload. Requests
// that expect a reply carry a client-assigned ackId; the server answers with
// an "ack" envelope bearing the same ackId.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names a message on the wire.
type Event string

// Client → server events.
const (
	EventCreateRoom        Event = "create-room"
	EventJoinRoom          Event = "join-room"
	EventDocumentOperation Event = "document-operation"
	EventCursorPosition    Event = "cursor-position"
	EventLanguageChange    Event = "language-change"
	EventRequestSync       Event = "request-sync"
)

// Server → client events.
const (
	EventAck             Event = "ack"
	EventUserJoined      Event = "user-joined"
	EventUserLeft        Event = "user-left"
	EventDocumentUpdate  Event = "document-update"
	EventOperationAck    Event = "operation-ack"
	EventOperationError  Event = "operation-error"
	EventCursorUpdate    Event = "cursor-update"
	EventLanguageChanged Event = "language-changed"
	EventDocumentSync    Event = "document-sync"
	EventSyncError       Event = "sync-error"
)

// Envelope is the wire frame for every message.
type Envelope struct {
	Event   Event           `json:"event"`
	AckID   string          `json:"ackId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// User-visible error strings. These are part of the protocol contract and
// must not be reworded.
const (
	ErrInvalidRoomIDFormat    = "Invalid room ID format"
	ErrRoomNotFound           = "Room not found"
	ErrAlreadyInDifferentRoom = "Already in a different room"
	ErrRoomFull               = "Room is full"
	ErrInvalidUserData        = "Invalid user data"
	ErrInvalidOperation       = "Invalid operation"
)

// Marshal frames payload under the given event.
func Marshal(event Event, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// MarshalAck frames payload as the reply to the request carrying ackID.
func MarshalAck(ackID string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ack payload: %w", err)
	}
	return json.Marshal(Envelope{Event: EventAck, AckID: ackID, Payload: raw})
}
