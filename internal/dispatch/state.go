package dispatch

import (
	"errors"
	"time"

	"github.com/MrWong99/orato/internal/analysis"
	"github.com/MrWong99/orato/internal/feedback"
	"github.com/MrWong99/orato/internal/source"
)

// State is the controller's position in the coaching loop.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSuggesting
)

// String returns the lower-case state name used on the wire.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSuggesting:
		return "suggesting"
	default:
		return "unknown"
	}
}

// Snapshot is the observable transcript state.
type Snapshot struct {
	Final    string
	Interim  string
	Analysis analysis.Result
	State    State
}

// Suggestion is delivered when feedback for a segment arrives.
type Suggestion struct {
	Segment  string
	Feedback feedback.Response
	Analysis analysis.Result
}

// NoticeKind classifies a user-visible, non-fatal condition.
type NoticeKind string

const (
	NoticePermissionDenied NoticeKind = "permission_denied"
	NoticeUnsupported      NoticeKind = "unsupported"
	NoticeTooShort         NoticeKind = "too_short"
	NoticeRateLimited      NoticeKind = "rate_limited"
	NoticeQuotaExhausted   NoticeKind = "quota_exhausted"
	NoticeUnavailable      NoticeKind = "unavailable"
	NoticeEngineFailed     NoticeKind = "engine_failed"
	NoticeSourceFailed     NoticeKind = "source_failed"
)

// Notice is a user-visible condition.
type Notice struct {
	Kind    NoticeKind
	Message string
}

// NoticeFor maps a source or feedback error onto a notice. Errors that match
// no known condition come from starting or running the speech source.
func NoticeFor(err error) Notice {
	if n, ok := knownNotice(err); ok {
		return n
	}
	return Notice{NoticeSourceFailed, "Speech input could not be started. Check the microphone and try again."}
}

// FeedbackNoticeFor maps a failed feedback request onto a notice. Unknown
// errors mean the feedback service is unavailable.
func FeedbackNoticeFor(err error) Notice {
	if n, ok := knownNotice(err); ok {
		return n
	}
	return Notice{NoticeUnavailable, "Feedback is temporarily unavailable."}
}

func knownNotice(err error) (Notice, bool) {
	switch {
	case errors.Is(err, source.ErrPermissionDenied):
		return Notice{NoticePermissionDenied, "Microphone access was denied. Allow it and press start again."}, true
	case errors.Is(err, source.ErrUnsupported):
		return Notice{NoticeUnsupported, "Speech recognition is not available in this browser."}, true
	case errors.Is(err, source.ErrEngineFailed):
		return Notice{NoticeEngineFailed, "Speech recognition stopped and could not be restarted."}, true
	case errors.Is(err, feedback.ErrRateLimited):
		return Notice{NoticeRateLimited, "Too many requests. Feedback will resume shortly."}, true
	case errors.Is(err, feedback.ErrQuotaExhausted):
		return Notice{NoticeQuotaExhausted, "The feedback quota is used up."}, true
	case errors.Is(err, feedback.ErrUnavailable):
		return Notice{NoticeUnavailable, "Feedback is temporarily unavailable."}, true
	}
	return Notice{}, false
}

// Observer receives controller updates. Methods are called from the
// controller goroutine and must not block.
type Observer interface {
	OnTranscriptChange(Snapshot)
	OnSuggestion(Suggestion)
	OnStateChange(State)
	OnNotice(Notice)
}

// Observers fans updates out to several observers in order.
type Observers []Observer

func (o Observers) OnTranscriptChange(s Snapshot) {
	for _, ob := range o {
		ob.OnTranscriptChange(s)
	}
}

func (o Observers) OnSuggestion(s Suggestion) {
	for _, ob := range o {
		ob.OnSuggestion(s)
	}
}

func (o Observers) OnStateChange(s State) {
	for _, ob := range o {
		ob.OnStateChange(s)
	}
}

func (o Observers) OnNotice(n Notice) {
	for _, ob := range o {
		ob.OnNotice(n)
	}
}

// Clock abstracts time so timing can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
