package transcript

// DefaultHistorySize is the number of prior segments sent as context.
const DefaultHistorySize = 3

// History is a bounded list of previously dispatched segments, oldest first.
type History struct {
	size  int
	items []string
}

// NewHistory returns a History holding at most size segments. A non-positive
// size selects DefaultHistorySize.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

// Push appends seg, dropping the oldest entry when full. Empty segments are
// ignored.
func (h *History) Push(seg string) {
	if seg == "" {
		return
	}
	h.items = append(h.items, seg)
	if over := len(h.items) - h.size; over > 0 {
		h.items = append(h.items[:0:0], h.items[over:]...)
	}
}

// Recent returns a copy of the stored segments, oldest first. It never
// returns nil so the JSON encoding is always an array.
func (h *History) Recent() []string {
	out := make([]string, len(h.items))
	copy(out, h.items)
	return out
}

// Len returns the number of stored segments.
func (h *History) Len() int { return len(h.items) }

// Reset drops every stored segment.
func (h *History) Reset() { h.items = nil }
