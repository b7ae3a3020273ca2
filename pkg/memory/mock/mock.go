// Package mock provides an in-memory test double for [memory.SegmentStore].
//
// Typical usage:
//
//	store := &mock.SegmentStore{}
//	// inject store into the system under test …
//	if got := store.CallCount(); got != 1 {
//	    t.Errorf("expected 1 WriteSegment call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/orato/pkg/memory"
)

// SegmentStore records every written segment. Safe for concurrent use.
type SegmentStore struct {
	mu sync.Mutex

	// WriteSegmentErr is returned by WriteSegment when non-nil. The record
	// is still captured.
	WriteSegmentErr error

	records []memory.SegmentRecord
	written chan struct{}
}

// WriteSegment records rec and returns WriteSegmentErr.
func (s *SegmentStore) WriteSegment(_ context.Context, rec memory.SegmentRecord) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	ch := s.written
	err := s.WriteSegmentErr
	s.mu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return err
}

// Written returns a channel that receives a value after every WriteSegment.
// Writes made while nobody is receiving are not queued beyond one.
func (s *SegmentStore) Written() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written == nil {
		s.written = make(chan struct{}, 1)
	}
	return s.written
}

// Records returns a copy of every record written so far.
func (s *SegmentStore) Records() []memory.SegmentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.SegmentRecord, len(s.records))
	copy(out, s.records)
	return out
}

// CallCount returns the number of WriteSegment calls.
func (s *SegmentStore) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var _ memory.SegmentStore = (*SegmentStore)(nil)
