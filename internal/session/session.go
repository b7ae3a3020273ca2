// Package session ties a transcript source, a dispatch controller and the
// configured observers into one practice session, and tracks every open
// session of the process.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/orato/internal/dispatch"
	"github.com/MrWong99/orato/internal/feedback"
	"github.com/MrWong99/orato/internal/source"
)

// ErrWrongSource is returned when a message does not fit the session's
// transcript source, such as audio sent to a browser-recognition session.
var ErrWrongSource = errors.New("session: message does not match the transcript source")

// Options are chosen by the client when it opens a session.
type Options struct {
	Mode     feedback.Mode
	Style    feedback.Style
	Language string
	Question string

	// Recognition selects browser-side speech recognition. When false the
	// client streams PCM audio for server-side transcription.
	Recognition bool

	// RecognitionUnavailable reports that the browser has no speech
	// recognition engine. Opening a browser-recognition session then fails
	// with source.ErrUnsupported.
	RecognitionUnavailable bool
}

// Info describes an open session.
type Info struct {
	ID          string         `json:"id"`
	Mode        feedback.Mode  `json:"mode"`
	Style       feedback.Style `json:"style"`
	Language    string         `json:"language"`
	Recognition bool           `json:"recognition"`
	StartedAt   time.Time      `json:"startedAt"`
}

// Session is one connected practice session. All exported methods are safe
// for concurrent use.
type Session struct {
	info     Info
	ctrl     *dispatch.Controller
	src      source.Source
	browser  *source.Browser
	stream   *source.Stream
	question atomic.Pointer[string]

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

// ID returns the session id.
func (s *Session) ID() string { return s.info.ID }

// Info returns the session metadata.
func (s *Session) Info() Info { return s.info }

// Question returns the current practice question.
func (s *Session) Question() string {
	if q := s.question.Load(); q != nil {
		return *q
	}
	return ""
}

// State returns the dispatch state.
func (s *Session) State() dispatch.State { return s.ctrl.State() }

// Start begins listening. It blocks until the browser answers the
// microphone request, so callers reading the socket must run it on its own
// goroutine.
func (s *Session) Start(ctx context.Context) error { return s.ctrl.Start(ctx) }

// Stop ends listening. A qualifying utterance is still sent for feedback.
func (s *Session) Stop(ctx context.Context) error { return s.ctrl.Stop(ctx) }

// NewTopic switches to a new question.
func (s *Session) NewTopic(ctx context.Context, question string) error {
	if err := s.ctrl.NewTopic(ctx, question); err != nil {
		return err
	}
	s.question.Store(&question)
	return nil
}

// Snapshot returns the current transcript state.
func (s *Session) Snapshot(ctx context.Context) (dispatch.Snapshot, error) {
	return s.ctrl.Snapshot(ctx)
}

// HandlePermission forwards the browser's microphone answer.
func (s *Session) HandlePermission(granted bool) {
	if h, ok := s.src.(source.PermissionHandler); ok {
		h.HandlePermission(granted)
	}
}

// HandleResult forwards a browser recognition result.
func (s *Session) HandleResult(finalDelta, interim string) error {
	if s.browser == nil {
		return ErrWrongSource
	}
	s.browser.HandleResult(finalDelta, interim)
	return nil
}

// HandleEnd reports that the browser's recognition engine ended.
func (s *Session) HandleEnd(ctx context.Context) error {
	if s.browser == nil {
		return ErrWrongSource
	}
	s.browser.HandleEnd(ctx)
	return nil
}

// WriteAudio forwards a PCM chunk to server-side transcription.
func (s *Session) WriteAudio(chunk []byte) error {
	if s.stream == nil {
		return ErrWrongSource
	}
	if err := s.stream.SendAudio(chunk); err != nil {
		return fmt.Errorf("session: send audio: %w", err)
	}
	return nil
}

// Close stops the session and its controller goroutine without sending the
// pending utterance for feedback. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		if stopErr := s.ctrl.Abort(ctx); stopErr != nil && !errors.Is(stopErr, dispatch.ErrClosed) {
			err = stopErr
		}
		s.cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
			slog.Warn("session controller did not stop in time", "session_id", s.info.ID)
		}
		if s.onClose != nil {
			s.onClose()
		}
		slog.Info("session closed", "session_id", s.info.ID)
	})
	return err
}

// Done is closed when the controller goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }
