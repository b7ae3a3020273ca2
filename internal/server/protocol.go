package server

import (
	"github.com/MrWong99/orato/internal/analysis"
	"github.com/MrWong99/orato/internal/feedback"
)

// Client → server message types.
const (
	msgHello  = "hello"
	msgStart  = "start"
	msgStop   = "stop"
	msgTopic  = "topic"
	msgMic    = "mic"
	msgResult = "result"
	msgEnd    = "end"
)

// Server → client message types. Source commands use the source.Cmd*
// constants.
const (
	msgReady      = "ready"
	msgTranscript = "transcript"
	msgState      = "state"
	msgSuggestion = "suggestion"
	msgNotice     = "notice"
	msgError      = "error"
)

// inbound is every client message flattened; Type selects the fields that
// matter.
type inbound struct {
	Type string `json:"type"`

	// hello
	Mode        string `json:"mode,omitempty"`
	Style       string `json:"style,omitempty"`
	Language    string `json:"language,omitempty"`
	Recognition bool   `json:"recognition,omitempty"`

	// RecognitionUnavailable is set by browsers without a speech
	// recognition engine.
	RecognitionUnavailable bool `json:"recognitionUnavailable,omitempty"`

	// hello, topic
	Question string `json:"question,omitempty"`

	// mic
	Granted bool `json:"granted,omitempty"`

	// result
	Final   string `json:"final,omitempty"`
	Interim string `json:"interim,omitempty"`
}

type readyMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Mode      string `json:"mode"`
	Style     string `json:"style"`
	Language  string `json:"language"`
}

type transcriptMessage struct {
	Type     string          `json:"type"`
	Final    string          `json:"final"`
	Interim  string          `json:"interim"`
	State    string          `json:"state"`
	Analysis analysis.Result `json:"analysis"`
}

type stateMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type suggestionMessage struct {
	Type     string            `json:"type"`
	Segment  string            `json:"segment"`
	Feedback feedback.Response `json:"feedback"`
	Fallback bool              `json:"fallback"`
	Analysis analysis.Result   `json:"analysis"`
}

type noticeMessage struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// analyzeRequest is the body of POST /v1/analyze.
type analyzeRequest struct {
	Text           string  `json:"text"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
}
