package transcript

import (
	"reflect"
	"strings"
	"testing"
)

func TestState_Apply(t *testing.T) {
	var s State
	if s.Apply("", "hel") {
		t.Error("interim-only event should not report growth")
	}
	if s.Interim != "hel" {
		t.Errorf("Interim = %q, want %q", s.Interim, "hel")
	}
	if !s.Apply(" hello there ", "") {
		t.Error("final delta should report growth")
	}
	if !s.Apply("general Kenobi", "you are") {
		t.Error("final delta should report growth")
	}
	if s.Final != "hello there general Kenobi" {
		t.Errorf("Final = %q", s.Final)
	}
	if s.Interim != "you are" {
		t.Errorf("Interim = %q", s.Interim)
	}
	s.Apply("", "")
	if s.Interim != "" {
		t.Errorf("Interim should be cleared, got %q", s.Interim)
	}
	s.Reset()
	if s.Final != "" || s.Interim != "" {
		t.Errorf("Reset left %+v", s)
	}
}

func TestExtractor_HoldsShortFragments(t *testing.T) {
	e := NewExtractor(5)
	if e.Qualifies("uh ok") {
		t.Error("5-rune segment must not qualify with minChars=5")
	}
	if !e.Qualifies("uh okay") {
		t.Error("7-rune segment should qualify")
	}
	if e.Qualifies("   ") {
		t.Error("whitespace must not qualify")
	}
}

func TestExtractor_RuneLength(t *testing.T) {
	e := NewExtractor(5)
	// Five runes, ten bytes.
	if e.Qualifies("ñññññ") {
		t.Error("length is counted in runes, not bytes")
	}
}

func TestExtractor_CommitAndPending(t *testing.T) {
	e := NewExtractor(5)
	final := "I started my answer"
	if got := e.Commit(final); got != "I started my answer" {
		t.Errorf("Commit = %q", got)
	}
	if e.Offset() != len(final) {
		t.Errorf("Offset = %d, want %d", e.Offset(), len(final))
	}
	final += " and then continued"
	if got := e.Pending(final); got != "and then continued" {
		t.Errorf("Pending = %q", got)
	}
	e.Reset()
	if e.Offset() != 0 {
		t.Errorf("Offset after Reset = %d", e.Offset())
	}
	if got := e.Pending(final); got != final {
		t.Errorf("Pending after Reset = %q", got)
	}
}

func TestExtractor_StaleOffsetClamped(t *testing.T) {
	e := NewExtractor(5)
	e.Commit("a fairly long transcript")
	if got := e.Pending("short"); got != "" {
		t.Errorf("Pending with shrunken text = %q, want empty", got)
	}
}

func TestExtractor_DispatchedLengthsSum(t *testing.T) {
	var s State
	e := NewExtractor(5)
	var dispatched []string

	deltas := []string{"hello", "there my", "ok", "friend how are you", "hi"}
	for _, d := range deltas {
		s.Apply(d, "")
		if e.Qualifies(s.Final) {
			dispatched = append(dispatched, e.Commit(s.Final))
		}
	}

	remainder := e.Pending(s.Final)
	if remainder != "hi" {
		t.Fatalf("remainder = %q, want %q", remainder, "hi")
	}
	// Each commit covers its own text plus one joining space.
	sum := 0
	for i, d := range dispatched {
		sum += len(d)
		if i > 0 {
			sum++
		}
	}
	if want := len(s.Final) - len(" "+remainder); sum != want {
		t.Errorf("dispatched %d bytes, want %d (%q)", sum, want, dispatched)
	}
	seen := map[string]bool{}
	for _, d := range dispatched {
		if seen[d] {
			t.Errorf("segment %q dispatched twice", d)
		}
		seen[d] = true
	}
	if !reflect.DeepEqual(dispatched, []string{"hello there my", "ok friend how are you"}) {
		t.Errorf("dispatched = %q", dispatched)
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory(3)
	if got := h.Recent(); got == nil || len(got) != 0 {
		t.Errorf("empty Recent = %#v, want empty non-nil", got)
	}
	for _, s := range []string{"one", "", "two", "three", "four"} {
		h.Push(s)
	}
	want := []string{"two", "three", "four"}
	if got := h.Recent(); !reflect.DeepEqual(got, want) {
		t.Errorf("Recent = %q, want %q", got, want)
	}

	snapshot := h.Recent()
	snapshot[0] = "mutated"
	if h.Recent()[0] != "two" {
		t.Error("Recent must return a copy")
	}

	h.Reset()
	if h.Len() != 0 {
		t.Errorf("Len after Reset = %d", h.Len())
	}
}

func TestHistory_DefaultSize(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < 10; i++ {
		h.Push(strings.Repeat("x", i+1))
	}
	if h.Len() != DefaultHistorySize {
		t.Errorf("Len = %d, want %d", h.Len(), DefaultHistorySize)
	}
}
