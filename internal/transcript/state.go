// Package transcript tracks the running text of a practice session and works
// out which part of it has not been sent for feedback yet.
//
// None of the types here are safe for concurrent use. They are owned by the
// single dispatch goroutine of a session.
package transcript

import "strings"

// State is the recognised text of one session. Final only grows until Reset;
// Interim is replaced wholesale by every event.
type State struct {
	Final   string
	Interim string
}

// Apply appends finalDelta to Final (space-joined, trimmed) and replaces
// Interim. It reports whether Final grew.
func (s *State) Apply(finalDelta, interim string) bool {
	s.Interim = strings.TrimSpace(interim)
	delta := strings.TrimSpace(finalDelta)
	if delta == "" {
		return false
	}
	if s.Final == "" {
		s.Final = delta
	} else {
		s.Final += " " + delta
	}
	return true
}

// Reset clears both fields.
func (s *State) Reset() {
	s.Final = ""
	s.Interim = ""
}
