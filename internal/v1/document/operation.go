package document

import (
	"errors"
	"fmt"
	"time"
)

// OpType tags the kind of a document operation.
type OpType string

const (
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"
	// OpRetain is a cursor-positioning no-op: accepted and logged into the
	// history but it never changes the text.
	OpRetain OpType = "retain"
)

// Validation errors. Callers surface these to clients as the single
// user-facing "Invalid operation" string.
var (
	ErrPositionOutOfRange = errors.New("position out of range")
	ErrUnknownType        = errors.New("unknown operation type")
	ErrEmptyContent       = errors.New("insert content must be non-empty")
	ErrNonPositiveLength  = errors.New("length must be positive")
)

// Operation is a single edit emitted by a client. The id is assigned by the
// originator; userId, timestamp, and roomId are stamped by the server when it
// accepts the operation.
type Operation struct {
	ID        string `json:"id"`
	Type      OpType `json:"type"`
	Position  int    `json:"position"`
	Content   string `json:"content,omitempty"`
	Length    int    `json:"length,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
}

// Applied is a history entry: an accepted operation plus its commit time.
type Applied struct {
	Operation
	AppliedAt time.Time `json:"appliedAt"`
}

// Validate checks op against a document of docLen code units. It is a pure
// predicate: position within [0, docLen] (appending at the end is allowed),
// non-empty content for inserts, positive in-range length for deletes,
// positive length for retains.
func Validate(op Operation, docLen int) error {
	switch op.Type {
	case OpInsert, OpDelete, OpRetain:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, op.Type)
	}

	if op.Position < 0 || op.Position > docLen {
		return fmt.Errorf("%w: position %d, document length %d", ErrPositionOutOfRange, op.Position, docLen)
	}

	switch op.Type {
	case OpInsert:
		if op.Content == "" {
			return ErrEmptyContent
		}
	case OpDelete:
		if op.Length <= 0 {
			return ErrNonPositiveLength
		}
		if op.Position+op.Length > docLen {
			return fmt.Errorf("%w: delete [%d, %d) exceeds document length %d", ErrPositionOutOfRange, op.Position, op.Position+op.Length, docLen)
		}
	case OpRetain:
		if op.Length <= 0 {
			return ErrNonPositiveLength
		}
	}

	return nil
}

// Apply mutates the buffer with a validated operation. The buffer is left
// unchanged when the apply fails.
func Apply(b *Buffer, op Operation) error {
	switch op.Type {
	case OpInsert:
		return b.Insert(op.Position, op.Content)
	case OpDelete:
		return b.Delete(op.Position, op.Length)
	case OpRetain:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, op.Type)
	}
}
