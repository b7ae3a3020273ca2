package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/orato/pkg/memory"
)

func TestFileStore_AppendsLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "segments.jsonl")
	fs := NewFileStore(path)

	for _, tr := range []string{"first answer goes here", "second answer goes here"} {
		err := fs.WriteSegment(context.Background(), memory.SegmentRecord{
			SessionID:    "s1",
			Mode:         "interview",
			Transcript:   tr,
			GrammarScore: 90,
			Feedback:     json.RawMessage(`{"suggestions":["ok"]}`),
		})
		if err != nil {
			t.Fatalf("WriteSegment: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var recs []memory.SegmentRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec memory.SegmentRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %d: %v", len(recs)+1, err)
		}
		recs = append(recs, rec)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[1].Transcript != "second answer goes here" {
		t.Errorf("second transcript = %q", recs[1].Transcript)
	}
	if recs[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be filled in")
	}
	if string(recs[0].Feedback) != `{"suggestions":["ok"]}` {
		t.Errorf("feedback = %s", recs[0].Feedback)
	}
}

func TestFileStore_BadPath(t *testing.T) {
	t.Parallel()
	fs := NewFileStore(filepath.Join(t.TempDir(), "missing", "dir", "out.jsonl"))
	if err := fs.WriteSegment(context.Background(), memory.SegmentRecord{}); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
