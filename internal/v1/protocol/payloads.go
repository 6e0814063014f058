package protocol

import (
	"encoding/json"

	"github.com/cotype-dev/cotype/backend/go/internal/v1/document"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/types"
)

// CreateRoomRequest is the create-room payload. The legacy client shape sends
// no payload at all; the dispatcher treats that as the zero value.
type CreateRoomRequest struct {
	UserName string `json:"userName,omitempty"`
}

// JoinRoomRequest is the join-room payload. The legacy client shape sends a
// bare JSON string holding the room id instead of the object form.
type JoinRoomRequest struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName,omitempty"`
}

// UnmarshalJSON accepts both the object shape and the legacy bare-string shape.
func (r *JoinRoomRequest) UnmarshalJSON(data []byte) error {
	var legacy string
	if err := json.Unmarshal(data, &legacy); err == nil {
		r.RoomID = legacy
		r.UserName = ""
		return nil
	}

	type plain JoinRoomRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = JoinRoomRequest(p)
	return nil
}

// ErrorReply is the failure shape shared by create-room and join-room acks.
type ErrorReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewErrorReply builds a failure ack payload.
func NewErrorReply(msg string) ErrorReply {
	return ErrorReply{Success: false, Error: msg}
}

// CreateRoomReply is the success ack for create-room.
type CreateRoomReply struct {
	Success   bool             `json:"success"`
	RoomID    types.RoomIDType `json:"roomId"`
	Document  string           `json:"document"`
	Users     []types.Presence `json:"users"`
	User      types.Presence   `json:"user"`
	RoomStats types.RoomStats  `json:"roomStats"`
}

// JoinRoomReply is the success ack for join-room. Unlike the create-room
// reply it carries the document version (the operation-history length).
type JoinRoomReply struct {
	Success         bool             `json:"success"`
	Document        string           `json:"document"`
	Users           []types.Presence `json:"users"`
	User            types.Presence   `json:"user"`
	RoomStats       types.RoomStats  `json:"roomStats"`
	DocumentVersion int              `json:"documentVersion"`
}

// UserJoined notifies existing members of a new arrival.
type UserJoined struct {
	User      types.Presence `json:"user"`
	UserCount int            `json:"userCount"`
}

// The user-left payload is the bare session id as a JSON string; no struct
// is needed.

// OperationAck confirms an accepted operation to its originator.
type OperationAck struct {
	Success     bool               `json:"success"`
	OperationID string             `json:"operationId"`
	Operation   document.Operation `json:"operation"`
}

// OperationError reports a rejected operation to its originator.
type OperationError struct {
	Error       string             `json:"error"`
	Operation   document.Operation `json:"operation"`
	OperationID string             `json:"operationId"`
}

// CursorUpdate relays a member's cursor position to the rest of the room.
type CursorUpdate struct {
	UserID   types.SessionIDType  `json:"userId"`
	Position types.CursorPosition `json:"position"`
	User     types.Presence       `json:"user"`
}

// LanguageChange is the inbound language-change payload.
type LanguageChange struct {
	Language string `json:"language"`
	UserID   string `json:"userId,omitempty"`
}

// LanguageChanged relays a language switch to the rest of the room.
type LanguageChanged struct {
	UserID   types.SessionIDType   `json:"userId"`
	Language string                `json:"language"`
	UserName types.DisplayNameType `json:"userName"`
}

// DocumentSync is the full-state reply to request-sync.
type DocumentSync struct {
	Document   string             `json:"document"`
	Version    int                `json:"version"`
	Operations []document.Applied `json:"operations"`
	Timestamp  int64              `json:"timestamp"`
}

// SyncError reports a failed request-sync.
type SyncError struct {
	Error string `json:"error"`
}
