package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/orato/internal/observe"
	"github.com/MrWong99/orato/pkg/provider/stt"
	"github.com/MrWong99/orato/pkg/types"
)

// Stream is a Source fed by PCM audio from the browser and transcribed by an
// stt.Provider. When the provider stream ends while the source is active it
// is reopened with exponential backoff; when every attempt fails an Event
// carrying ErrEngineFailed is emitted and the microphone is released.
type Stream struct {
	peer              Peer
	provider          stt.Provider
	cfg               stt.StreamConfig
	backoff           Backoff
	permissionTimeout time.Duration
	perm              permission
	events            chan Event

	mu     sync.Mutex
	active bool
	sess   stt.SessionHandle
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithBackoff overrides the restart policy.
func WithBackoff(b Backoff) StreamOption {
	return func(s *Stream) { s.backoff = b }
}

// WithStreamPermissionTimeout overrides DefaultPermissionTimeout.
func WithStreamPermissionTimeout(d time.Duration) StreamOption {
	return func(s *Stream) { s.permissionTimeout = d }
}

// NewStream returns a Stream source. cfg.Language is overridden by the
// language passed to Start when that is non-empty. A nil provider yields
// ErrUnsupported.
func NewStream(peer Peer, provider stt.Provider, cfg stt.StreamConfig, opts ...StreamOption) (*Stream, error) {
	if provider == nil {
		return nil, ErrUnsupported
	}
	s := &Stream{
		peer:              peer,
		provider:          provider,
		cfg:               cfg,
		permissionTimeout: DefaultPermissionTimeout,
		events:            make(chan Event, eventBuffer),
	}
	for _, o := range opts {
		o(s)
	}
	s.backoff = s.backoff.withDefaults()
	return s, nil
}

// Start asks the browser for the microphone, waits for the grant and opens
// the provider stream. The microphone is released on every failure path.
func (s *Stream) Start(ctx context.Context, language string) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ack := s.perm.arm()
	if err := s.peer.Send(ctx, Command{Type: CmdMicRequest, Language: language}); err != nil {
		s.perm.disarm()
		return fmt.Errorf("source: send %s: %w", CmdMicRequest, err)
	}
	if err := s.perm.wait(ctx, ack, s.permissionTimeout); err != nil {
		_ = sendDetached(s.peer, Command{Type: CmdMicRelease})
		return err
	}

	cfg := s.cfg
	if language != "" {
		cfg.Language = language
	}
	sess, err := s.provider.StartStream(ctx, cfg)
	if err != nil {
		_ = sendDetached(s.peer, Command{Type: CmdMicRelease})
		return fmt.Errorf("source: start stream: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.active = true
	s.sess = sess
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(runCtx, cancel, cfg, sess)
	return nil
}

// Stop closes the provider stream and releases the microphone. It waits for
// the pump goroutine so no event is delivered after it returns.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	sess := s.sess
	s.sess = nil
	s.cancel()
	s.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	s.wg.Wait()

	if err := sendDetached(s.peer, Command{Type: CmdMicRelease}); err != nil {
		return fmt.Errorf("source: send %s: %w", CmdMicRelease, err)
	}
	return nil
}

// Events implements Source.
func (s *Stream) Events() <-chan Event { return s.events }

// HandlePermission delivers the browser's answer to a pending Start.
func (s *Stream) HandlePermission(granted bool) { s.perm.resolve(granted) }

// SendAudio forwards a PCM chunk to the current provider stream. Audio that
// arrives while stopped or between restarts is dropped.
func (s *Stream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.SendAudio(chunk)
}

// run pumps transcripts from sess and reopens the stream when it ends.
func (s *Stream) run(ctx context.Context, cancel context.CancelFunc, cfg stt.StreamConfig, sess stt.SessionHandle) {
	defer s.wg.Done()
	defer cancel()
	for {
		s.pump(ctx, sess)
		if ctx.Err() != nil {
			return
		}

		next, err := s.reopen(ctx, cfg)
		if ctx.Err() != nil {
			if next != nil {
				_ = next.Close()
			}
			return
		}
		if err != nil {
			slog.Error("stream source giving up", "attempts", s.backoff.MaxRetries, "err", err)
			s.mu.Lock()
			s.active = false
			s.sess = nil
			s.mu.Unlock()
			_ = sendDetached(s.peer, Command{Type: CmdMicRelease})
			s.emit(ctx, Event{Err: fmt.Errorf("%w: %v", ErrEngineFailed, err)})
			return
		}

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			_ = next.Close()
			return
		}
		s.sess = next
		s.mu.Unlock()
		sess = next
	}
}

// pump forwards transcripts until both channels are closed or ctx is done.
func (s *Stream) pump(ctx context.Context, sess stt.SessionHandle) {
	partials, finals := sess.Partials(), sess.Finals()
	for partials != nil || finals != nil {
		var (
			t  types.Transcript
			ok bool
		)
		select {
		case <-ctx.Done():
			return
		case t, ok = <-partials:
			if !ok {
				partials = nil
				continue
			}
			s.emit(ctx, Event{Interim: t.Text})
		case t, ok = <-finals:
			if !ok {
				finals = nil
				continue
			}
			s.emit(ctx, Event{FinalDelta: t.Text})
		}
	}
}

func (s *Stream) reopen(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	var lastErr error
	for attempt := 1; attempt <= s.backoff.MaxRetries; attempt++ {
		delay := s.backoff.Delay(attempt)
		slog.Info("reopening stt stream", "attempt", attempt, "max_retries", s.backoff.MaxRetries, "backoff", delay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		sess, err := s.provider.StartStream(ctx, cfg)
		if err == nil {
			observe.DefaultMetrics().RecordSourceRestart(ctx, "stream")
			return sess, nil
		}
		lastErr = err
		slog.Warn("stt stream reopen failed", "attempt", attempt, "err", err)
	}
	return nil, lastErr
}

func (s *Stream) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

var (
	_ Source            = (*Stream)(nil)
	_ PermissionHandler = (*Stream)(nil)
)
