// Package document implements the shared text buffer of a room and the
// operations that mutate it.
//
// The buffer is a sequence of UTF-16 code units. Operation positions index
// that sequence, matching the JavaScript string semantics the editor clients
// use. A character outside the BMP therefore occupies two positions.
package document

import (
	"strings"
	"unicode/utf16"
)

// Buffer is a mutable sequence of UTF-16 code units.
type Buffer struct {
	units []uint16
}

// New returns a buffer initialized with the given text.
func New(text string) *Buffer {
	return &Buffer{units: utf16.Encode([]rune(text))}
}

// Len returns the length of the buffer in UTF-16 code units.
func (b *Buffer) Len() int {
	return len(b.units)
}

// String decodes the buffer back into a Go string.
func (b *Buffer) String() string {
	if len(b.units) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, r := range utf16.Decode(b.units) {
		sb.WriteRune(r)
	}
	return sb.String()
}

// Insert splices content into the buffer at pos. Appending at pos == Len()
// is allowed. The buffer is unchanged when the position is out of range.
func (b *Buffer) Insert(pos int, content string) error {
	if pos < 0 || pos > len(b.units) {
		return ErrPositionOutOfRange
	}
	encoded := utf16.Encode([]rune(content))
	next := make([]uint16, 0, len(b.units)+len(encoded))
	next = append(next, b.units[:pos]...)
	next = append(next, encoded...)
	next = append(next, b.units[pos:]...)
	b.units = next
	return nil
}

// Delete removes length code units starting at pos. The buffer is unchanged
// when the range extends past the end.
func (b *Buffer) Delete(pos, length int) error {
	if pos < 0 || length < 0 || pos+length > len(b.units) {
		return ErrPositionOutOfRange
	}
	next := make([]uint16, 0, len(b.units)-length)
	next = append(next, b.units[:pos]...)
	next = append(next, b.units[pos+length:]...)
	b.units = next
	return nil
}
