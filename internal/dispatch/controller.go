// Package dispatch decides when a spoken segment is sent for feedback.
//
// A [Controller] owns one practice session's transcript, segment offsets,
// history and timers, and mutates them from a single goroutine started by
// [Controller.Run]. Transcript events, timer expiries, feedback results and
// API calls are all funnelled into that goroutine. Feedback requests run on
// their own goroutines and post back tagged with the generation that issued
// them; anything tagged with an older generation is dropped, so a slow
// answer can never overwrite a reset session.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/orato/internal/analysis"
	"github.com/MrWong99/orato/internal/feedback"
	"github.com/MrWong99/orato/internal/observe"
	"github.com/MrWong99/orato/internal/source"
	"github.com/MrWong99/orato/internal/transcript"
	"github.com/MrWong99/orato/pkg/memory"
)

// ErrClosed is returned by controller methods after Run has returned.
var ErrClosed = errors.New("dispatch: controller closed")

// Default timing and gating values.
const (
	DefaultSilenceTimeout  = 2 * time.Second
	DefaultDisplayDuration = 4 * time.Second
	DefaultMinWords        = 5
)

// Config tunes one controller.
type Config struct {
	SessionID string
	Mode      feedback.Mode
	Style     feedback.Style
	Language  string
	Question  string

	// SilenceTimeout is the quiet period after which an utterance counts as
	// complete.
	SilenceTimeout time.Duration

	// DisplayDuration is how long a suggestion stays before listening
	// resumes.
	DisplayDuration time.Duration

	// MinSegmentChars is passed to transcript.NewExtractor.
	MinSegmentChars int

	// MinWords is the word count a segment needs to be sent.
	MinWords int

	// HistorySize is the number of earlier segments sent as context.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = feedback.ModeAssistant
	}
	if c.Style == "" {
		c.Style = feedback.StyleNeutral
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.DisplayDuration <= 0 {
		c.DisplayDuration = DefaultDisplayDuration
	}
	if c.MinSegmentChars <= 0 {
		c.MinSegmentChars = transcript.DefaultMinChars
	}
	if c.MinWords <= 0 {
		c.MinWords = DefaultMinWords
	}
	if c.HistorySize <= 0 {
		c.HistorySize = transcript.DefaultHistorySize
	}
	return c
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(clk Clock) Option { return func(c *Controller) { c.clock = clk } }

// WithAnalyzer replaces analysis.Default().
func WithAnalyzer(a *analysis.Analyzer) Option { return func(c *Controller) { c.analyzer = a } }

// WithStore records completed interview and learning segments in s.
func WithStore(s memory.SegmentStore) Option { return func(c *Controller) { c.store = s } }

// WithObserver registers ob for updates.
func WithObserver(ob Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, ob) }
}

// WithMetrics records metrics on m instead of the default.
func WithMetrics(m *observe.Metrics) Option { return func(c *Controller) { c.metrics = m } }

type timerKind int

const (
	timerSilence timerKind = iota
	timerDisplay
)

type timerEvent struct {
	kind timerKind
	seq  uint64
}

type result struct {
	gen      uint64
	segment  string
	analysis analysis.Result
	resp     feedback.Response
	err      error
}

// Controller runs the listening → processing → suggesting loop for one
// session.
type Controller struct {
	cfg       Config
	src       source.Source
	client    feedback.Client
	analyzer  *analysis.Analyzer
	store     memory.SegmentStore
	observers Observers
	clock     Clock
	metrics   *observe.Metrics

	cmds    chan func(context.Context)
	timers  chan timerEvent
	results chan result
	done    chan struct{}
	stateV  atomic.Int32

	// Owned by the Run goroutine.
	state        State
	active       bool
	text         transcript.State
	extractor    *transcript.Extractor
	history      *transcript.History
	triggered    bool
	gen          uint64
	seq          uint64
	silence      Timer
	display      Timer
	startedAt    time.Time
	segStartedAt time.Time
	current      analysis.Result
	last         *feedback.Response
}

// New returns a controller reading from src and asking client for feedback.
// Call Run before any other method.
func New(src source.Source, client feedback.Client, cfg Config, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:       cfg,
		src:       src,
		client:    client,
		analyzer:  analysis.Default(),
		store:     memory.Discard,
		clock:     realClock{},
		cmds:      make(chan func(context.Context)),
		timers:    make(chan timerEvent, 4),
		results:   make(chan result, 1),
		done:      make(chan struct{}),
		extractor: transcript.NewExtractor(cfg.MinSegmentChars),
		history:   transcript.NewHistory(cfg.HistorySize),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Run processes events until ctx is cancelled. Feedback requests in flight
// keep ctx, so cancelling it also aborts them.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.stopTimers()
	events := c.src.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.cmds:
			fn(ctx)
		case ev := <-events:
			c.handleEvent(ctx, ev)
		case te := <-c.timers:
			c.handleTimer(ctx, te)
		case r := <-c.results:
			c.handleResult(ctx, r)
		}
	}
}

// do runs fn on the controller goroutine and waits for it.
func (c *Controller) do(ctx context.Context, fn func(context.Context)) error {
	finished := make(chan struct{})
	wrapped := func(runCtx context.Context) {
		defer close(finished)
		fn(runCtx)
	}
	select {
	case c.cmds <- wrapped:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Start acquires the microphone and begins listening. Starting an active
// session is a no-op. A permission failure is reported as a notice and
// returned; the session stays idle and Start may be retried.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.src.Start(ctx, c.cfg.Language); err != nil {
		n := NoticeFor(err)
		_ = c.do(ctx, func(context.Context) { c.observers.OnNotice(n) })
		return fmt.Errorf("dispatch: start source: %w", err)
	}
	return c.do(ctx, func(context.Context) {
		if c.active {
			return
		}
		c.active = true
		c.gen++
		c.stopTimers()
		c.startedAt = c.clock.Now()
		c.segStartedAt = c.startedAt
		c.reset()
		c.history.Reset()
		c.last = nil
		c.setState(StateListening)
		c.notifyTranscript()
	})
}

// Stop ends the session. A qualifying utterance still being listened to is
// sent as the session's final segment and shown before going idle; a
// request already in flight is left to finish but its result is discarded.
func (c *Controller) Stop(ctx context.Context) error {
	err := c.src.Stop()
	if doErr := c.do(ctx, c.stop); doErr != nil {
		return doErr
	}
	if err != nil {
		return fmt.Errorf("dispatch: stop source: %w", err)
	}
	return nil
}

// Abort ends the session for teardown. Unlike Stop it never sends the
// pending utterance; a request in flight is discarded and the controller
// goes idle.
func (c *Controller) Abort(ctx context.Context) error {
	err := c.src.Stop()
	if doErr := c.do(ctx, c.abort); doErr != nil {
		return doErr
	}
	if err != nil {
		return fmt.Errorf("dispatch: stop source: %w", err)
	}
	return nil
}

// NewTopic switches to a new question, discarding the transcript, history
// and any pending feedback.
func (c *Controller) NewTopic(ctx context.Context, question string) error {
	return c.do(ctx, func(context.Context) {
		c.cfg.Question = question
		c.gen++
		c.stopTimers()
		c.reset()
		c.history.Reset()
		c.last = nil
		c.segStartedAt = c.clock.Now()
		if c.active {
			c.setState(StateListening)
		} else {
			c.setState(StateIdle)
		}
		c.notifyTranscript()
	})
}

// Snapshot returns the current transcript state.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.do(ctx, func(context.Context) { s = c.snapshot() })
	return s, err
}

// LastFeedback returns the most recent feedback, or nil.
func (c *Controller) LastFeedback(ctx context.Context) (*feedback.Response, error) {
	var r *feedback.Response
	err := c.do(ctx, func(context.Context) {
		if c.last != nil {
			cp := *c.last
			r = &cp
		}
	})
	return r, err
}

// State returns the current state. Safe from any goroutine.
func (c *Controller) State() State { return State(c.stateV.Load()) }

func (c *Controller) handleEvent(ctx context.Context, ev source.Event) {
	if !c.active {
		return
	}
	if ev.Err != nil {
		observe.Logger(ctx).Warn("transcript source failed", "session_id", c.cfg.SessionID, "err", ev.Err)
		c.observers.OnNotice(NoticeFor(ev.Err))
		c.stop(ctx)
		return
	}
	c.apply(ev)
	if c.state == StateListening && (ev.FinalDelta != "" || ev.Interim != "") {
		c.armSilence()
	}
	c.notifyTranscript()
}

// apply folds ev into the transcript and re-scores it when it grew.
func (c *Controller) apply(ev source.Event) {
	hadPending := c.extractor.Pending(c.text.Final) != ""
	if !c.text.Apply(ev.FinalDelta, ev.Interim) {
		return
	}
	if !hadPending {
		c.segStartedAt = c.clock.Now()
		c.triggered = false
	}
	c.current = c.analyzer.Analyze(c.text.Final, c.clock.Now().Sub(c.startedAt))
}

func (c *Controller) handleTimer(ctx context.Context, te timerEvent) {
	if te.seq != c.seq {
		return
	}
	switch te.kind {
	case timerSilence:
		c.silence = nil
		if c.state == StateListening && c.active {
			c.trySend(ctx)
		}
	case timerDisplay:
		c.display = nil
		if c.state != StateSuggesting {
			return
		}
		if !c.active {
			c.setState(StateIdle)
			return
		}
		c.setState(StateListening)
		if c.extractor.Qualifies(c.text.Final) {
			c.armSilence()
		}
	}
}

// trySend applies the segment gates and dispatches. It reports whether a
// request was issued.
func (c *Controller) trySend(ctx context.Context) bool {
	if c.triggered || !c.extractor.Qualifies(c.text.Final) {
		return false
	}
	seg := c.extractor.Pending(c.text.Final)
	if words := len(strings.Fields(seg)); words < c.cfg.MinWords {
		c.metrics.RecordTooShort(ctx)
		c.observers.OnNotice(Notice{
			Kind:    NoticeTooShort,
			Message: fmt.Sprintf("Say a little more: at least %d words are needed for feedback.", c.cfg.MinWords),
		})
		return false
	}
	c.send(ctx)
	return true
}

func (c *Controller) send(ctx context.Context) {
	c.triggered = true
	c.stopSilence()
	c.setState(StateProcessing)

	seg := c.extractor.Commit(c.text.Final)
	segAnalysis := c.analyzer.Analyze(seg, c.clock.Now().Sub(c.segStartedAt))
	req := feedback.Request{
		Transcript:    seg,
		RecentHistory: c.history.Recent(),
		ResponseStyle: c.cfg.Style,
		Language:      c.cfg.Language,
		Mode:          c.cfg.Mode,
		Question:      c.cfg.Question,
	}
	c.history.Push(seg)
	c.metrics.RecordSegmentDispatched(ctx, string(c.cfg.Mode))

	gen := c.gen
	go func() {
		resp, err := c.client.Request(ctx, req)
		select {
		case c.results <- result{gen: gen, segment: seg, analysis: segAnalysis, resp: resp, err: err}:
		case <-c.done:
		}
	}()
}

func (c *Controller) handleResult(ctx context.Context, r result) {
	log := observe.Logger(ctx).With("session_id", c.cfg.SessionID)
	if r.gen != c.gen || c.state != StateProcessing {
		c.metrics.RecordStaleResult(ctx)
		log.Debug("discarding stale feedback", "gen", r.gen, "current_gen", c.gen)
		return
	}
	if r.err != nil {
		log.Warn("feedback request failed", "err", r.err)
		c.observers.OnNotice(FeedbackNoticeFor(r.err))
		if c.active {
			c.setState(StateListening)
			if c.extractor.Qualifies(c.text.Final) {
				c.armSilence()
			}
		} else {
			c.setState(StateIdle)
		}
		return
	}

	resp := r.resp
	c.last = &resp
	c.setState(StateSuggesting)
	c.observers.OnSuggestion(Suggestion{Segment: r.segment, Feedback: resp, Analysis: r.analysis})
	if c.cfg.Mode.Persisted() {
		c.persist(r)
	}
	c.armDisplay()
}

// persist writes the segment record without blocking the loop.
func (c *Controller) persist(r result) {
	raw, err := json.Marshal(r.resp)
	if err != nil {
		slog.Warn("marshal feedback for storage", "err", err)
	}
	rec := memory.SegmentRecord{
		SessionID:          c.cfg.SessionID,
		Mode:               string(c.cfg.Mode),
		Question:           c.cfg.Question,
		Transcript:         r.segment,
		GrammarScore:       r.analysis.GrammarScore,
		FluencyScore:       r.analysis.FluencyScore,
		ConfidenceScore:    r.analysis.ConfidenceScore,
		PronunciationScore: r.analysis.PronunciationScore,
		SpeakingSpeed:      r.analysis.SpeakingSpeed,
		FillerCount:        r.analysis.FillerTotal(),
		Feedback:           raw,
		CreatedAt:          c.clock.Now().UTC(),
	}
	store, sessionID := c.store, c.cfg.SessionID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.WriteSegment(ctx, rec); err != nil {
			slog.Error("failed to store segment", "session_id", sessionID, "err", err)
		}
	}()
}

// stop runs on the controller goroutine.
func (c *Controller) stop(ctx context.Context) {
	if !c.active {
		return
	}
	c.drainEvents()
	c.active = false
	c.stopSilence()

	switch c.state {
	case StateListening:
		if c.trySend(ctx) {
			// The final segment is shown, then the display timer moves the
			// session to idle.
			c.reset()
			c.notifyTranscript()
			return
		}
	case StateProcessing, StateSuggesting:
		c.gen++
	}
	c.stopTimers()
	c.reset()
	c.setState(StateIdle)
	c.notifyTranscript()
}

// abort runs on the controller goroutine.
func (c *Controller) abort(context.Context) {
	if !c.active && c.state == StateIdle {
		return
	}
	c.active = false
	c.gen++
	c.stopTimers()
	c.reset()
	c.setState(StateIdle)
	c.notifyTranscript()
}

// drainEvents applies events the source queued before it stopped.
func (c *Controller) drainEvents() {
	events := c.src.Events()
	for {
		select {
		case ev := <-events:
			if ev.Err == nil {
				c.apply(ev)
			}
		default:
			return
		}
	}
}

// reset clears the transcript and segment bookkeeping.
func (c *Controller) reset() {
	c.text.Reset()
	c.extractor.Reset()
	c.triggered = false
	c.current = c.analyzer.Analyze("", 0)
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.stateV.Store(int32(s))
	c.observers.OnStateChange(s)
}

func (c *Controller) snapshot() Snapshot {
	return Snapshot{Final: c.text.Final, Interim: c.text.Interim, Analysis: c.current, State: c.state}
}

func (c *Controller) notifyTranscript() { c.observers.OnTranscriptChange(c.snapshot()) }

func (c *Controller) armSilence() {
	c.stopSilence()
	c.silence = c.arm(timerSilence, c.cfg.SilenceTimeout)
}

func (c *Controller) armDisplay() {
	if c.display != nil {
		c.display.Stop()
	}
	c.display = c.arm(timerDisplay, c.cfg.DisplayDuration)
}

// arm schedules a timer tagged with a fresh sequence number. Only the most
// recently armed timer is honoured.
func (c *Controller) arm(kind timerKind, d time.Duration) Timer {
	c.seq++
	te := timerEvent{kind: kind, seq: c.seq}
	return c.clock.AfterFunc(d, func() {
		select {
		case c.timers <- te:
		case <-c.done:
		}
	})
}

func (c *Controller) stopSilence() {
	if c.silence != nil {
		c.silence.Stop()
		c.silence = nil
	}
}

func (c *Controller) stopTimers() {
	c.stopSilence()
	if c.display != nil {
		c.display.Stop()
		c.display = nil
	}
	c.seq++
}
