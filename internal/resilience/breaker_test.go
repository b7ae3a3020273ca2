package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestBreaker(cfg Config) (*Breaker, *fakeNow) {
	clk := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	cfg.Name = "test"
	cfg.Now = clk.Now
	return New(cfg), clk
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	if b.maxFailures != 5 || b.resetTimeout != 30*time.Second || b.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", b.maxFailures, b.resetTimeout, b.halfOpenMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxFailures: 3, ResetTimeout: time.Minute})

	for range 3 {
		if err := b.Do(fail); !errors.Is(err, errBoom) {
			t.Fatalf("Do returned %v, want fn error", err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Fatalf("open breaker: err=%v called=%v", err, called)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxFailures: 3})
	_ = b.Do(fail)
	_ = b.Do(fail)
	_ = b.Do(succeed)
	_ = b.Do(fail)
	_ = b.Do(fail)
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_IsFailureFilters(t *testing.T) {
	errAnswer := errors.New("429")
	b, _ := newTestBreaker(Config{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, errAnswer) },
	})
	for range 5 {
		if err := b.Do(func() error { return errAnswer }); !errors.Is(err, errAnswer) {
			t.Fatalf("err = %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("ignored errors opened the breaker")
	}
	_ = b.Do(fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clk := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 2})
	_ = b.Do(fail)

	clk.Advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	for i := range 2 {
		if err := b.Do(succeed); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 2})
	_ = b.Do(fail)
	clk.Advance(time.Second)

	if err := b.Do(fail); !errors.Is(err, errBoom) {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Do(succeed); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = b.Do(fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if err := b.Do(succeed); err != nil {
		t.Fatalf("Do after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
