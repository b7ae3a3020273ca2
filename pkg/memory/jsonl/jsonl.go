// Package jsonl persists practice segments as append-only JSON lines in a
// local file. It suits single-node deployments that have no database.
package jsonl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/orato/pkg/memory"
)

var _ memory.SegmentStore = (*FileStore)(nil)

// FileStore appends one JSON object per line to a file.
// Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that writes to path. The file is created
// on the first write if it does not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// WriteSegment implements [memory.SegmentStore].
func (fs *FileStore) WriteSegment(_ context.Context, rec memory.SegmentRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("jsonl: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("jsonl: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("jsonl: write: %w", err)
	}
	return nil
}
