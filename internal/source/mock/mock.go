// Package mock provides test doubles for the source package interfaces.
//
// Source lets tests push recognition events straight into a controller:
//
//	src := mock.NewSource()
//	src.EventsCh <- source.Event{FinalDelta: "hello there"}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/orato/internal/source"
)

// StartCall records a single invocation of Source.Start.
type StartCall struct {
	Ctx      context.Context
	Language string
}

// Source is a mock implementation of source.Source.
type Source struct {
	mu sync.Mutex

	// EventsCh is returned by Events. Tests send on it directly.
	EventsCh chan source.Event

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	// StartCalls records every call to Start.
	StartCalls []StartCall

	// StopCallCount is the number of times Stop was called.
	StopCallCount int

	active bool
}

// NewSource returns a Source with a buffered event channel.
func NewSource() *Source {
	return &Source{EventsCh: make(chan source.Event, 64)}
}

// Start records the call and returns StartErr.
func (s *Source) Start(ctx context.Context, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls = append(s.StartCalls, StartCall{Ctx: ctx, Language: language})
	if s.StartErr != nil {
		return s.StartErr
	}
	s.active = true
	return nil
}

// Stop records the call and returns StopErr.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCallCount++
	s.active = false
	return s.StopErr
}

// Events returns EventsCh.
func (s *Source) Events() <-chan source.Event { return s.EventsCh }

// Active reports whether Start succeeded more recently than Stop.
func (s *Source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Starts returns the number of Start calls. Thread-safe.
func (s *Source) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.StartCalls)
}

// Stops returns the number of Stop calls. Thread-safe.
func (s *Source) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopCallCount
}

var _ source.Source = (*Source)(nil)

// Peer is a mock source.Peer that records every command. When OnSend is set
// it is invoked after recording, outside the lock, so tests can answer
// permission requests.
type Peer struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by Send.
	SendErr error

	// OnSend, if set, is called for every command.
	OnSend func(cmd source.Command)

	// Sent records every command in order.
	Sent []source.Command
}

// Send records cmd and returns SendErr.
func (p *Peer) Send(_ context.Context, cmd source.Command) error {
	p.mu.Lock()
	p.Sent = append(p.Sent, cmd)
	err := p.SendErr
	hook := p.OnSend
	p.mu.Unlock()
	if hook != nil {
		hook(cmd)
	}
	return err
}

// Types returns the Type of every recorded command. Thread-safe.
func (p *Peer) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Sent))
	for i, c := range p.Sent {
		out[i] = c.Type
	}
	return out
}

var _ source.Peer = (*Peer)(nil)
