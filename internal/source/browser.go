package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/orato/internal/observe"
)

const eventBuffer = 64

// Browser is a Source backed by the browser's own speech recognition. The
// server drives it with recognition.start / recognition.stop commands and
// feeds it the result, end and permission messages the browser sends back.
type Browser struct {
	peer              Peer
	permissionTimeout time.Duration
	perm              permission
	events            chan Event

	mu       sync.Mutex
	active   bool
	language string
}

// BrowserOption configures a Browser.
type BrowserOption func(*Browser)

// WithBrowserPermissionTimeout overrides DefaultPermissionTimeout.
func WithBrowserPermissionTimeout(d time.Duration) BrowserOption {
	return func(b *Browser) { b.permissionTimeout = d }
}

// NewBrowser returns a Browser source. supported reports whether the browser
// announced a recognition engine; when it did not, NewBrowser fails with
// ErrUnsupported.
func NewBrowser(peer Peer, supported bool, opts ...BrowserOption) (*Browser, error) {
	if !supported {
		return nil, ErrUnsupported
	}
	b := &Browser{
		peer:              peer,
		permissionTimeout: DefaultPermissionTimeout,
		events:            make(chan Event, eventBuffer),
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Start asks the browser to begin recognition and waits for its permission
// acknowledgement.
func (b *Browser) Start(ctx context.Context, language string) error {
	b.mu.Lock()
	if b.active {
		b.mu.Unlock()
		return nil
	}
	b.language = language
	b.mu.Unlock()

	ack := b.perm.arm()
	if err := b.peer.Send(ctx, Command{Type: CmdRecognitionStart, Language: language}); err != nil {
		b.perm.disarm()
		return fmt.Errorf("source: send %s: %w", CmdRecognitionStart, err)
	}
	if err := b.perm.wait(ctx, ack, b.permissionTimeout); err != nil {
		_ = sendDetached(b.peer, Command{Type: CmdMicRelease})
		return err
	}

	b.mu.Lock()
	b.active = true
	b.mu.Unlock()
	return nil
}

// Stop ends recognition and releases the microphone.
func (b *Browser) Stop() error {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return nil
	}
	b.active = false
	b.mu.Unlock()

	errStop := sendDetached(b.peer, Command{Type: CmdRecognitionStop})
	errRelease := sendDetached(b.peer, Command{Type: CmdMicRelease})
	if errStop != nil {
		return fmt.Errorf("source: send %s: %w", CmdRecognitionStop, errStop)
	}
	if errRelease != nil {
		return fmt.Errorf("source: send %s: %w", CmdMicRelease, errRelease)
	}
	return nil
}

// Events implements Source.
func (b *Browser) Events() <-chan Event { return b.events }

// HandlePermission delivers the browser's answer to a pending Start.
func (b *Browser) HandlePermission(granted bool) { b.perm.resolve(granted) }

// HandleResult forwards one browser recognition result. Results that arrive
// while the source is stopped are dropped.
func (b *Browser) HandleResult(finalDelta, interim string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return
	}
	select {
	case b.events <- Event{FinalDelta: finalDelta, Interim: interim}:
	default:
		slog.Warn("browser source event buffer full, dropping result")
	}
}

// HandleEnd is called when the browser's recognition engine ends. While the
// source is active recognition is restarted immediately.
func (b *Browser) HandleEnd(ctx context.Context) {
	b.mu.Lock()
	active, lang := b.active, b.language
	b.mu.Unlock()
	if !active {
		return
	}
	observe.DefaultMetrics().RecordSourceRestart(ctx, "browser")
	if err := b.peer.Send(ctx, Command{Type: CmdRecognitionStart, Language: lang}); err != nil {
		slog.Warn("browser source restart failed", "err", err)
	}
}

var (
	_ Source            = (*Browser)(nil)
	_ PermissionHandler = (*Browser)(nil)
)
