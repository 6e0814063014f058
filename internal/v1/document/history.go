package document

// History is a bounded log of applied operations. It is a ring buffer: once
// capacity entries have been appended, each new entry evicts the oldest one.
type History struct {
	buf   []Applied
	start int
	size  int
}

// NewHistory returns a history bounded to capacity entries.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{buf: make([]Applied, capacity)}
}

// Append records an applied operation, evicting the oldest entry when full.
func (h *History) Append(entry Applied) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = entry
		h.size++
		return
	}
	h.buf[h.start] = entry
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	return h.size
}

// Last returns a copy of the most recent n entries, oldest first.
// It returns all retained entries when n exceeds the current length.
func (h *History) Last(n int) []Applied {
	if n > h.size {
		n = h.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]Applied, n)
	first := h.size - n
	for i := 0; i < n; i++ {
		out[i] = h.buf[(h.start+first+i)%len(h.buf)]
	}
	return out
}
