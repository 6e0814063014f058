// Package ident allocates room identifiers, fallback display names, and user
// colors for the collaborative editor.
package ident

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"sync/atomic"
)

// RoomIDLength is the fixed length of generated room identifiers.
const RoomIDLength = 6

const roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var roomIDPattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// NewRoomID returns a fresh 6-character uppercase alphanumeric room ID.
// Uniqueness is the caller's responsibility (the registry retries on collision).
func NewRoomID() string {
	b := make([]byte, RoomIDLength)
	for i := range b {
		b[i] = roomIDAlphabet[rand.IntN(len(roomIDAlphabet))]
	}
	return string(b)
}

// ValidRoomID reports whether id is exactly six characters from [A-Z0-9].
// Callers must uppercase wire input before checking.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// userNames is the fixed pool of fallback display names, indexed by the number
// of members already in the room at join time.
var userNames = [...]string{
	"Ada", "Grace", "Linus", "Margaret", "Dennis", "Barbara",
	"Ken", "Radia", "Donald", "Katherine", "Alan", "Hedy",
}

// FallbackName returns a display name for a joiner that did not supply one.
// existingCount is the number of members already in the room.
func FallbackName(existingCount int) string {
	if existingCount >= 0 && existingCount < len(userNames) {
		return userNames[existingCount]
	}
	return fmt.Sprintf("User %d", existingCount+1)
}

// userColors is the fixed 12-color palette assigned to users round-robin.
var userColors = [...]string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231", "#911eb4",
	"#46f0f0", "#f032e6", "#bcf60c", "#fabebe", "#008080", "#e6beff",
}

// colorCounter is process-global: colors are round-robined across ALL rooms,
// so two members of one room can share a color when other rooms consumed
// intermediate palette slots.
var colorCounter atomic.Uint64

// NextColor returns the next palette color in round-robin order.
func NextColor() string {
	n := colorCounter.Add(1) - 1
	return userColors[n%uint64(len(userColors))]
}

// PaletteSize returns the number of colors in the palette.
func PaletteSize() int {
	return len(userColors)
}
