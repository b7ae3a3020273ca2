// Package events publishes completed practice segments to Kafka so other
// services can consume them. When Kafka is disabled the publisher only logs.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/MrWong99/orato/internal/analysis"
	"github.com/MrWong99/orato/internal/dispatch"
	"github.com/MrWong99/orato/internal/feedback"
	"github.com/MrWong99/orato/internal/observe"
)

// TypeSegmentCompleted is the event type header value.
const TypeSegmentCompleted = "segment.completed"

// publishTimeout bounds one detached publish.
const publishTimeout = 10 * time.Second

// SegmentCompleted is the payload of one event.
type SegmentCompleted struct {
	SessionID  string            `json:"sessionId"`
	Mode       string            `json:"mode"`
	Question   string            `json:"question,omitempty"`
	Segment    string            `json:"segment"`
	Analysis   analysis.Result   `json:"analysis"`
	Feedback   feedback.Response `json:"feedback"`
	Fallback   bool              `json:"fallback"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Config selects the brokers and topic.
type Config struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes SegmentCompleted events. The zero value is not usable;
// construct with New.
type Publisher struct {
	writer  messageWriter
	topic   string
	brokers []string
	dialer  *kafka.Dialer
	metrics *observe.Metrics
	wg      sync.WaitGroup
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMetrics records publish outcomes on m instead of the default.
func WithMetrics(m *observe.Metrics) Option { return func(p *Publisher) { p.metrics = m } }

// withWriter replaces the Kafka writer. Tests only.
func withWriter(w messageWriter) Option { return func(p *Publisher) { p.writer = w } }

// New returns a Publisher. A disabled config or an empty broker list yields a
// log-only publisher.
func New(cfg Config, opts ...Option) *Publisher {
	p := &Publisher{topic: cfg.Topic, brokers: cfg.Brokers}
	if cfg.Enabled && len(cfg.Brokers) > 0 {
		dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
		p.dialer = dialer
		p.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    &kafka.Transport{Dial: dialer.DialFunc},
		}
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.writer == nil {
		slog.Info("kafka disabled, segment events are logged only")
	} else {
		slog.Info("kafka publisher initialised", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	return p
}

// Ping dials the first reachable broker. It returns nil when Kafka is
// disabled.
func (p *Publisher) Ping(ctx context.Context) error {
	if p.dialer == nil {
		return nil
	}
	var errs []error
	for _, b := range p.brokers {
		conn, err := p.dialer.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("events: no broker reachable: %w", errors.Join(errs...))
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool { return p.writer != nil }

// Publish writes ev keyed by its session id, so one session's events stay
// ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, ev SegmentCompleted) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.metrics.RecordEventPublished(ctx, "error")
		return fmt.Errorf("events: marshal: %w", err)
	}
	log := observe.Logger(ctx)
	log.Debug("publishing segment event", "session_id", ev.SessionID, "topic", p.topic, "bytes", len(payload))

	if p.writer == nil {
		p.metrics.RecordEventPublished(ctx, "logged")
		return nil
	}
	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(TypeSegmentCompleted)},
			{Key: "mode", Value: []byte(ev.Mode)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.RecordEventPublished(ctx, "error")
		return fmt.Errorf("events: write to %s: %w", p.topic, err)
	}
	p.metrics.RecordEventPublished(ctx, "ok")
	return nil
}

// PublishAsync publishes ev on its own goroutine. Failures are logged.
func (p *Publisher) PublishAsync(ev SegmentCompleted) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.Publish(ctx, ev); err != nil {
			slog.Warn("failed to publish segment event", "session_id", ev.SessionID, "err", err)
		}
	}()
}

// Close waits for pending publishes and closes the writer.
func (p *Publisher) Close() error {
	p.wg.Wait()
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("events: close writer: %w", err)
	}
	return nil
}

// SessionObserver turns suggestions of one session into events. It ignores
// every other callback.
type SessionObserver struct {
	p         *Publisher
	sessionID string
	mode      feedback.Mode
	question  func() string
	now       func() time.Time
}

// Observer returns a dispatch.Observer publishing the suggestions of one
// session. question is read at publish time so topic changes are reflected;
// it may be nil.
func (p *Publisher) Observer(sessionID string, mode feedback.Mode, question func() string) *SessionObserver {
	return &SessionObserver{p: p, sessionID: sessionID, mode: mode, question: question, now: time.Now}
}

func (o *SessionObserver) OnTranscriptChange(dispatch.Snapshot) {}
func (o *SessionObserver) OnStateChange(dispatch.State)         {}
func (o *SessionObserver) OnNotice(dispatch.Notice)             {}

// OnSuggestion publishes s without blocking the caller.
func (o *SessionObserver) OnSuggestion(s dispatch.Suggestion) {
	ev := SegmentCompleted{
		SessionID:  o.sessionID,
		Mode:       string(o.mode),
		Segment:    s.Segment,
		Analysis:   s.Analysis,
		Feedback:   s.Feedback,
		Fallback:   s.Feedback.Fallback,
		OccurredAt: o.now().UTC(),
	}
	if o.question != nil {
		ev.Question = o.question()
	}
	o.p.PublishAsync(ev)
}

var _ dispatch.Observer = (*SessionObserver)(nil)
