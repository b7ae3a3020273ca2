package transcript

import (
	"strings"
	"unicode/utf8"
)

// DefaultMinChars is the pending-segment length a segment must exceed before
// it qualifies for dispatch.
const DefaultMinChars = 5

// Extractor remembers how much of the final text has been dispatched and
// yields the unprocessed suffix.
type Extractor struct {
	minChars       int
	lastDispatched int
}

// NewExtractor returns an Extractor that holds segments of minChars runes or
// fewer. A non-positive minChars selects DefaultMinChars.
func NewExtractor(minChars int) *Extractor {
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	return &Extractor{minChars: minChars}
}

// Pending returns the trimmed part of final after the last dispatch.
func (e *Extractor) Pending(final string) string {
	off := min(e.lastDispatched, len(final))
	return strings.TrimSpace(final[off:])
}

// Qualifies reports whether the pending segment is long enough to dispatch.
func (e *Extractor) Qualifies(final string) bool {
	return utf8.RuneCountInString(e.Pending(final)) > e.minChars
}

// Commit marks all of final as dispatched and returns the segment that was
// pending.
func (e *Extractor) Commit(final string) string {
	seg := e.Pending(final)
	e.lastDispatched = len(final)
	return seg
}

// Offset returns the byte offset of the last dispatch.
func (e *Extractor) Offset() int { return e.lastDispatched }

// Reset zeroes the offset. Callers reset the State at the same time.
func (e *Extractor) Reset() { e.lastDispatched = 0 }
