package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/orato/internal/dispatch"
	"github.com/MrWong99/orato/internal/events"
	"github.com/MrWong99/orato/internal/feedback"
	"github.com/MrWong99/orato/internal/observe"
	"github.com/MrWong99/orato/internal/source"
	"github.com/MrWong99/orato/pkg/memory"
	"github.com/MrWong99/orato/pkg/provider/stt"
)

// ErrTooManySessions is returned by Open when MaxSessions is reached.
var ErrTooManySessions = errors.New("session: too many open sessions")

// Config holds the dependencies shared by every session.
type Config struct {
	// Dispatch supplies the timing and gating values. Per-session fields
	// (SessionID, Mode, Style, Language, Question) are overwritten.
	Dispatch dispatch.Config

	// Client answers feedback requests. Required.
	Client feedback.Client

	// Store receives interview and learning segments. Nil disables
	// persistence. Writes go through a StoreGuard.
	Store memory.SegmentStore

	// Publisher, when non-nil, receives every suggestion as an event.
	Publisher *events.Publisher

	// STT transcribes streamed audio. Nil means only browser recognition
	// sessions can be opened.
	STT       stt.Provider
	STTConfig stt.StreamConfig

	// PermissionTimeout bounds the wait for a microphone answer.
	PermissionTimeout time.Duration

	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int

	Metrics *observe.Metrics

	// NewID generates session ids. Defaults to uuid.NewString.
	NewID func() string

	// ControllerOptions are appended to every controller. Tests only.
	ControllerOptions []dispatch.Option
}

// Manager tracks open sessions. All exported methods are safe for concurrent
// use.
type Manager struct {
	cfg   Config
	guard *StoreGuard

	mu       sync.Mutex
	sessions map[string]*Session
	dispatch dispatch.Config
}

// NewManager returns a Manager. It panics when cfg.Client is nil.
func NewManager(cfg Config) *Manager {
	if cfg.Client == nil {
		panic("session: Config.Client must not be nil")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Dispatch.Mode == "" {
		cfg.Dispatch.Mode = feedback.ModeAssistant
	}
	if cfg.Dispatch.Style == "" {
		cfg.Dispatch.Style = feedback.StyleNeutral
	}
	if cfg.PermissionTimeout <= 0 {
		cfg.PermissionTimeout = source.DefaultPermissionTimeout
	}
	m := &Manager{cfg: cfg, sessions: make(map[string]*Session), dispatch: cfg.Dispatch}
	if cfg.Store != nil {
		m.guard = NewStoreGuard(cfg.Store)
	}
	return m
}

// Open creates a session talking to peer and starts its controller. The
// session is idle until Start is called. A source that cannot be built
// yields source.ErrUnsupported.
func (m *Manager) Open(ctx context.Context, peer source.Peer, opts Options, observers ...dispatch.Observer) (*Session, error) {
	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}
	dcfg := m.dispatch
	m.mu.Unlock()

	if opts.Mode == "" {
		opts.Mode = dcfg.Mode
	}
	if opts.Style == "" {
		opts.Style = dcfg.Style
	}
	if opts.Language == "" {
		opts.Language = dcfg.Language
	}

	s := &Session{
		info: Info{
			ID:          m.cfg.NewID(),
			Mode:        opts.Mode,
			Style:       opts.Style,
			Language:    opts.Language,
			Recognition: opts.Recognition,
			StartedAt:   time.Now().UTC(),
		},
		done: make(chan struct{}),
	}
	question := opts.Question
	s.question.Store(&question)

	if err := m.buildSource(s, peer, !opts.RecognitionUnavailable); err != nil {
		return nil, err
	}

	dcfg.SessionID = s.info.ID
	dcfg.Mode = opts.Mode
	dcfg.Style = opts.Style
	dcfg.Language = opts.Language
	dcfg.Question = opts.Question

	ctrlOpts := []dispatch.Option{dispatch.WithMetrics(m.cfg.Metrics)}
	if m.guard != nil {
		ctrlOpts = append(ctrlOpts, dispatch.WithStore(m.guard))
	}
	for _, ob := range observers {
		ctrlOpts = append(ctrlOpts, dispatch.WithObserver(ob))
	}
	if m.cfg.Publisher != nil {
		ctrlOpts = append(ctrlOpts, dispatch.WithObserver(m.cfg.Publisher.Observer(s.info.ID, opts.Mode, s.Question)))
	}
	ctrlOpts = append(ctrlOpts, m.cfg.ControllerOptions...)
	s.ctrl = dispatch.New(s.src, m.cfg.Client, dcfg, ctrlOpts...)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		_ = s.ctrl.Run(runCtx)
	}()

	m.mu.Lock()
	m.sessions[s.info.ID] = s
	m.mu.Unlock()
	m.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, s.info.ID)
		m.mu.Unlock()
		m.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	}

	slog.Info("session opened",
		"session_id", s.info.ID,
		"mode", opts.Mode,
		"style", opts.Style,
		"language", opts.Language,
		"recognition", opts.Recognition,
	)
	return s, nil
}

func (m *Manager) buildSource(s *Session, peer source.Peer, recognitionSupported bool) error {
	if s.info.Recognition {
		b, err := source.NewBrowser(peer, recognitionSupported, source.WithBrowserPermissionTimeout(m.cfg.PermissionTimeout))
		if err != nil {
			return fmt.Errorf("session: browser source: %w", err)
		}
		s.browser, s.src = b, b
		return nil
	}
	cfg := m.cfg.STTConfig
	cfg.Language = s.info.Language
	st, err := source.NewStream(peer, m.cfg.STT, cfg, source.WithStreamPermissionTimeout(m.cfg.PermissionTimeout))
	if err != nil {
		return fmt.Errorf("session: stream source: %w", err)
	}
	s.stream, s.src = st, st
	return nil
}

// SetDispatch replaces the dispatch settings used by sessions opened from
// now on. Open sessions keep theirs. Empty Mode and Style keep the current
// defaults.
func (m *Manager) SetDispatch(cfg dispatch.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.Mode == "" {
		cfg.Mode = m.dispatch.Mode
	}
	if cfg.Style == "" {
		cfg.Style = m.dispatch.Style
	}
	m.dispatch = cfg
}

// Get returns the open session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns the metadata of every open session, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StoreDegraded reports whether the most recent segment write failed.
func (m *Manager) StoreDegraded() bool { return m.guard != nil && m.guard.IsDegraded() }

// CloseAll closes every open session.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Close(ctx); err != nil {
				slog.Warn("close session", "session_id", s.ID(), "err", err)
			}
		}()
	}
	wg.Wait()
}
