package room

import (
	"sort"

	"github.com/cotype-dev/cotype/backend/go/internal/v1/document"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/types"
)

// presenceSnapshotLocked copies a presence record and computes its derived
// isActive flag from the clock. Caller must hold r.mu (read or write).
func (r *Room) presenceSnapshotLocked(p types.Presence) types.Presence {
	p.IsActive = r.clock.Now().Sub(p.LastSeen) < types.PresenceActiveWindow
	return p
}

// userListLocked snapshots the current members, sorted by join time so the
// list order is stable across calls. Caller must hold r.mu.
func (r *Room) userListLocked() []types.Presence {
	users := make([]types.Presence, 0, len(r.members))
	for _, m := range r.members {
		users = append(users, r.presenceSnapshotLocked(m.presence))
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].JoinedAt.Equal(users[j].JoinedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].JoinedAt.Before(users[j].JoinedAt)
	})
	return users
}

// statsLocked builds the room summary. Caller must hold r.mu.
func (r *Room) statsLocked() types.RoomStats {
	return types.RoomStats{
		ID:             r.ID,
		UserCount:      len(r.members),
		MaxUsers:       r.maxUsers,
		DocumentLength: r.doc.Len(),
		OperationCount: r.history.Len(),
		CreatedAt:      r.createdAt,
		LastActivity:   r.lastActivity,
		IsActive:       r.clock.Now().Sub(r.lastActivity) < StatsActiveWindow,
	}
}

// Stats returns the room summary.
func (r *Room) Stats() types.RoomStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statsLocked()
}

// UserList returns the current members with derived activity flags.
func (r *Room) UserList() []types.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userListLocked()
}

// UserCount returns the current member count.
func (r *Room) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// IsEmpty reports whether the room has no members.
func (r *Room) IsEmpty() bool {
	return r.UserCount() == 0
}

// Document returns the current document text.
func (r *Room) Document() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.String()
}

// Version returns the number of operations applied so far.
func (r *Room) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.Len()
}

// Language returns the room's current editor language.
func (r *Room) Language() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.language
}

// RecentOperations returns up to n of the most recent applied operations,
// oldest first.
func (r *Room) RecentOperations(n int) []document.Applied {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.Last(n)
}

// ShouldCleanup reports whether the room is empty and has been idle past the
// timeout.
func (r *Room) ShouldCleanup() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.shouldCleanupLocked()
}

// TryShouldCleanup is the sweep-loop variant of ShouldCleanup: if the room's
// lock is contended the room is clearly busy, so it reports false without
// blocking the sweep.
func (r *Room) TryShouldCleanup() bool {
	if !r.mu.TryRLock() {
		return false
	}
	defer r.mu.RUnlock()
	return r.shouldCleanupLocked()
}

func (r *Room) shouldCleanupLocked() bool {
	// Strictly past the timeout: a room idle for exactly IdleTimeout survives
	// one more sweep.
	return len(r.members) == 0 && r.clock.Now().Sub(r.lastActivity) > IdleTimeout
}
