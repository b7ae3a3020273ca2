// Package memory defines where completed practice segments are recorded.
//
// The core only ever inserts: one [SegmentRecord] per finished interview or
// learning segment. Nothing reads the records back during a session, so a
// store is free to batch, mirror or forward them.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"encoding/json"
	"time"
)

// SegmentRecord is one scored practice segment.
type SegmentRecord struct {
	// SessionID identifies the practice session the segment belongs to.
	SessionID string `json:"session_id"`

	// Mode is the coaching mode, e.g. "interview" or "learning".
	Mode string `json:"mode"`

	// Question is the interview or learning prompt, if any.
	Question string `json:"question,omitempty"`

	// Transcript is the dispatched segment text.
	Transcript string `json:"transcript"`

	GrammarScore       int `json:"grammar_score"`
	FluencyScore       int `json:"fluency_score"`
	ConfidenceScore    int `json:"confidence_score"`
	PronunciationScore int `json:"pronunciation_score"`

	// SpeakingSpeed is in words per minute.
	SpeakingSpeed int `json:"speaking_speed"`

	// FillerCount is the total number of filler words in the segment.
	FillerCount int `json:"filler_count"`

	// Feedback is the raw feedback payload, stored opaquely.
	Feedback json.RawMessage `json:"feedback,omitempty"`

	// CreatedAt is when the segment completed. Stores fill in time.Now when
	// it is zero.
	CreatedAt time.Time `json:"created_at"`
}

// SegmentStore persists completed segments.
type SegmentStore interface {
	// WriteSegment inserts rec. Implementations must not modify rec.
	WriteSegment(ctx context.Context, rec SegmentRecord) error
}

// Discard is a SegmentStore that drops every record.
var Discard SegmentStore = discard{}

type discard struct{}

func (discard) WriteSegment(context.Context, SegmentRecord) error { return nil }
