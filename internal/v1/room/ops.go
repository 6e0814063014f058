package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cotype-dev/cotype/backend/go/internal/v1/document"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/logging"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/metrics"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/protocol"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/types"
)

// Router dispatches a room-scoped message from a member. Unknown events are
// ignored with a warning.
func (r *Room) Router(ctx context.Context, client types.ClientSender, env protocol.Envelope) {
	start := time.Now()
	status := "success"
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(string(env.Event)).Observe(time.Since(start).Seconds())
		metrics.WebsocketEvents.WithLabelValues(string(env.Event), status).Inc()
	}()

	switch env.Event {
	case protocol.EventDocumentOperation:
		if !r.handleOperation(ctx, client, env.Payload) {
			status = "error"
		}
	case protocol.EventCursorPosition:
		r.handleCursor(ctx, client, env.Payload)
	case protocol.EventLanguageChange:
		r.handleLanguage(ctx, client, env.Payload)
	case protocol.EventRequestSync:
		r.handleSync(ctx, client)
	default:
		status = "ignored"
		logging.Warn(ctx, "Unknown room event", zap.String("event", string(env.Event)), zap.String("room", string(r.ID)))
	}
}

// handleOperation runs the validate/apply pipeline for one edit. On success
// the originator gets operation-ack and everyone else gets document-update in
// apply order; on failure only the originator hears about it and the document
// is untouched.
func (r *Room) handleOperation(ctx context.Context, client types.ClientSender, payload json.RawMessage) bool {
	var op document.Operation
	if err := json.Unmarshal(payload, &op); err != nil {
		logging.Warn(ctx, "Malformed operation payload", zap.Error(err), zap.String("room", string(r.ID)))
		r.sendOperationError(client, op)
		metrics.OperationsRejected.WithLabelValues("malformed").Inc()
		return false
	}

	// Stamp authoritative fields. The id stays originator-assigned unless it
	// was omitted entirely.
	op.UserID = string(client.GetID())
	op.Timestamp = r.clock.Now().UnixMilli()
	op.RoomID = string(r.ID)
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := document.Validate(op, r.doc.Len()); err != nil {
		logging.Warn(ctx, "Rejected invalid operation",
			zap.Error(err),
			zap.String("room", string(r.ID)),
			zap.String("operationId", op.ID))
		r.sendOperationError(client, op)
		metrics.OperationsRejected.WithLabelValues("invalid").Inc()
		return false
	}

	previousLength := r.doc.Len()
	if err := document.Apply(r.doc, op); err != nil {
		// Validated operations only fail here on an internal inconsistency;
		// the buffer guarantees it is left unchanged.
		logging.Error(ctx, "Apply failed after validation",
			zap.Error(err),
			zap.String("room", string(r.ID)),
			zap.String("operationId", op.ID))
		r.sendOperationError(client, op)
		metrics.OperationsRejected.WithLabelValues("apply_failed").Inc()
		return false
	}

	now := r.clock.Now()
	r.history.Append(document.Applied{Operation: op, AppliedAt: now})
	r.lastActivity = now
	if m, ok := r.members[client.GetID()]; ok {
		m.presence.LastSeen = now
	}
	metrics.OperationsApplied.WithLabelValues(string(op.Type)).Inc()

	if data, err := protocol.Marshal(protocol.EventDocumentUpdate, op); err == nil {
		r.broadcastLocked(data, client.GetID())
	} else {
		logging.Error(ctx, "Failed to marshal document-update", zap.Error(err), zap.String("room", string(r.ID)))
	}

	ack := protocol.OperationAck{Success: true, OperationID: op.ID, Operation: op}
	if data, err := protocol.Marshal(protocol.EventOperationAck, ack); err == nil {
		client.Send(data)
	} else {
		logging.Error(ctx, "Failed to marshal operation-ack", zap.Error(err), zap.String("room", string(r.ID)))
	}

	logging.Info(ctx, "Applied operation",
		zap.String("room", string(r.ID)),
		zap.String("type", string(op.Type)),
		zap.String("operationId", op.ID),
		zap.Int("previousLength", previousLength),
		zap.Int("newLength", r.doc.Len()))

	return true
}

func (r *Room) sendOperationError(client types.ClientSender, op document.Operation) {
	payload := protocol.OperationError{
		Error:       ErrInvalidOperation.Error(),
		Operation:   op,
		OperationID: op.ID,
	}
	if data, err := protocol.Marshal(protocol.EventOperationError, payload); err == nil {
		client.Send(data)
	}
}

// handleCursor relays a cursor position to the rest of the room. Positions
// are informational: they carry no ordering relationship to document updates
// and are never transformed against intervening edits.
func (r *Room) handleCursor(ctx context.Context, client types.ClientSender, payload json.RawMessage) {
	var pos types.CursorPosition
	if err := json.Unmarshal(payload, &pos); err != nil {
		logging.Warn(ctx, "Malformed cursor payload", zap.Error(err), zap.String("room", string(r.ID)))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[client.GetID()]
	if !ok {
		return
	}
	m.presence.Cursor = pos
	m.presence.LastSeen = r.clock.Now()

	update := protocol.CursorUpdate{
		UserID:   client.GetID(),
		Position: pos,
		User:     r.presenceSnapshotLocked(m.presence),
	}
	if data, err := protocol.Marshal(protocol.EventCursorUpdate, update); err == nil {
		r.broadcastLocked(data, client.GetID())
	}
}

// handleLanguage relays an editor-language switch to the rest of the room and
// remembers it for the introspection surface.
func (r *Room) handleLanguage(ctx context.Context, client types.ClientSender, payload json.RawMessage) {
	var req protocol.LanguageChange
	if err := json.Unmarshal(payload, &req); err != nil || req.Language == "" {
		logging.Warn(ctx, "Malformed language-change payload", zap.Error(err), zap.String("room", string(r.ID)))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[client.GetID()]
	if !ok {
		return
	}
	r.language = req.Language
	m.presence.LastSeen = r.clock.Now()

	changed := protocol.LanguageChanged{
		UserID:   client.GetID(),
		Language: req.Language,
		UserName: m.presence.Name,
	}
	if data, err := protocol.Marshal(protocol.EventLanguageChanged, changed); err == nil {
		r.broadcastLocked(data, client.GetID())
	}
}

// handleSync replies to the requester with the full document plus the recent
// history tail, so a client that suspects divergence can rebase itself.
func (r *Room) handleSync(ctx context.Context, client types.ClientSender) {
	r.mu.RLock()
	sync := protocol.DocumentSync{
		Document:   r.doc.String(),
		Version:    r.history.Len(),
		Operations: r.history.Last(SyncHistoryCount),
		Timestamp:  r.clock.Now().UnixMilli(),
	}
	r.mu.RUnlock()

	if data, err := protocol.Marshal(protocol.EventDocumentSync, sync); err == nil {
		client.Send(data)
	} else {
		logging.Error(ctx, "Failed to marshal document-sync", zap.Error(err), zap.String("room", string(r.ID)))
	}
}
