// Package source turns live speech into transcript events.
//
// A Source emits Event values carrying a finalised text delta and the current
// interim guess. Two implementations exist: Browser, where the browser runs
// its own speech recognition and forwards results over the session
// WebSocket, and Stream, where the browser streams raw PCM and a server-side
// stt.Provider transcribes it. Both restart recognition transparently when
// the engine ends while the session is active.
package source

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrPermissionDenied is returned by Start when the user refuses
	// microphone access. The caller may retry.
	ErrPermissionDenied = errors.New("source: microphone permission denied")

	// ErrUnsupported is returned at construction when no recognition engine
	// is available. It is terminal for the session.
	ErrUnsupported = errors.New("source: speech recognition unsupported")

	// ErrEngineFailed is carried by an Event when the recognition engine
	// ended and could not be restarted.
	ErrEngineFailed = errors.New("source: recognition engine failed")
)

// DefaultPermissionTimeout bounds how long Start waits for the browser to
// answer a microphone request.
const DefaultPermissionTimeout = 30 * time.Second

// Event is one recognition update. FinalDelta is newly finalised text (may
// be empty); Interim replaces the previous interim text. A non-nil Err means
// recognition stopped for good.
type Event struct {
	FinalDelta string
	Interim    string
	Err        error
}

// Source produces transcript events for one session.
type Source interface {
	// Start requests the microphone and begins recognition. It blocks until
	// permission is granted or denied. Starting an active source is a no-op.
	Start(ctx context.Context, language string) error

	// Stop ends recognition and releases the microphone. No events are
	// delivered after Stop returns.
	Stop() error

	// Events returns the event stream. The channel is never closed.
	Events() <-chan Event
}

// Command types sent to the browser.
const (
	CmdRecognitionStart = "recognition.start"
	CmdRecognitionStop  = "recognition.stop"
	CmdMicRequest       = "mic.request"
	CmdMicRelease       = "mic.release"
)

// Command is an instruction for the browser side of a source.
type Command struct {
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
}

// Peer delivers commands to the browser.
type Peer interface {
	Send(ctx context.Context, cmd Command) error
}

// PermissionHandler is implemented by sources that wait for the browser to
// acknowledge a microphone request.
type PermissionHandler interface {
	HandlePermission(granted bool)
}

// permission is a one-shot rendezvous between Start and the browser's
// acknowledgement.
type permission struct {
	mu sync.Mutex
	ch chan bool
}

func (p *permission) arm() <-chan bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ch = make(chan bool, 1)
	return p.ch
}

// resolve delivers the answer to a pending arm. Answers nobody waits for are
// dropped.
func (p *permission) resolve(granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return
	}
	p.ch <- granted
	p.ch = nil
}

func (p *permission) disarm() {
	p.mu.Lock()
	p.ch = nil
	p.mu.Unlock()
}

func (p *permission) wait(ctx context.Context, ch <-chan bool, timeout time.Duration) error {
	defer p.disarm()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case granted := <-ch:
		if !granted {
			return ErrPermissionDenied
		}
		return nil
	case <-timer.C:
		return ErrPermissionDenied
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendDetached sends cmd with a short private deadline. Used on teardown
// paths where the caller's context may already be done.
func sendDetached(peer Peer, cmd Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return peer.Send(ctx, cmd)
}
