package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/orato/pkg/memory"
)

// StoreGuard wraps a [memory.SegmentStore] so a failing datastore never
// breaks a practice session. Write errors are logged and swallowed, and the
// guard reports itself degraded until the next successful write.
//
// All methods are safe for concurrent use.
type StoreGuard struct {
	store    memory.SegmentStore
	degraded atomic.Bool
	failures atomic.Int64
}

// NewStoreGuard wraps store.
func NewStoreGuard(store memory.SegmentStore) *StoreGuard {
	return &StoreGuard{store: store}
}

// WriteSegment writes rec and always returns nil.
func (g *StoreGuard) WriteSegment(ctx context.Context, rec memory.SegmentRecord) error {
	if err := g.store.WriteSegment(ctx, rec); err != nil {
		g.degraded.Store(true)
		g.failures.Add(1)
		slog.Warn("segment store write failed, continuing without it",
			"session_id", rec.SessionID,
			"err", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// IsDegraded reports whether the most recent write failed.
func (g *StoreGuard) IsDegraded() bool { return g.degraded.Load() }

// Failures returns the number of failed writes since construction.
func (g *StoreGuard) Failures() int64 { return g.failures.Load() }

var _ memory.SegmentStore = (*StoreGuard)(nil)
