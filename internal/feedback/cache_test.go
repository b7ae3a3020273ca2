package feedback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type result struct {
	resp Response
	err  error
}

// stubClient answers from a script. The mock package cannot be used here
// because it imports this package.
type stubClient struct {
	mu      sync.Mutex
	results []result
	def     result
	calls   int
}

func (s *stubClient) Request(context.Context, Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	r := s.def
	if len(s.results) > 0 {
		r, s.results = s.results[0], s.results[1:]
	}
	return r.resp, r.err
}

func (s *stubClient) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeRedis implements the Get and Set commands of redis.Cmdable in memory.
// Any other command panics through the nil embedded interface.
type fakeRedis struct {
	redis.Cmdable

	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx, "get", key)
	switch v, ok := f.data[key]; {
	case f.getErr != nil:
		cmd.SetErr(f.getErr)
	case !ok:
		cmd.SetErr(redis.Nil)
	default:
		cmd.SetVal(v)
	}
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = ttl
	cmd := redis.NewStatusCmd(ctx, "set", key, value)
	cmd.SetVal("OK")
	return cmd
}

func TestCachedClient_HitAfterMiss(t *testing.T) {
	next := &stubClient{def: result{resp: Response{Suggestions: []string{"Slow down."}, Topic: "pace"}}}
	rdb := newFakeRedis()
	c := NewCachedClient(next, rdb, time.Minute)
	req := Request{Transcript: "um so basically we um", Mode: ModeAssistant, ResponseStyle: StyleCasual}

	first, err := c.Request(context.Background(), req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := c.Request(context.Background(), req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if next.CallCount() != 1 {
		t.Errorf("backend called %d times, want 1", next.CallCount())
	}
	if second.Topic != first.Topic || second.Suggestions[0] != "Slow down." {
		t.Errorf("cached = %+v, want %+v", second, first)
	}
	key, _ := cacheKey(req)
	if rdb.ttls[key] != time.Minute {
		t.Errorf("ttl = %v, want 1m", rdb.ttls[key])
	}
}

func TestCachedClient_KeyCoversHistory(t *testing.T) {
	next := &stubClient{def: result{resp: Response{Suggestions: []string{"ok"}}}}
	c := NewCachedClient(next, newFakeRedis(), 0)

	_, _ = c.Request(context.Background(), Request{Transcript: "same text", RecentHistory: []string{"a"}})
	_, _ = c.Request(context.Background(), Request{Transcript: "same text", RecentHistory: []string{"b"}})
	if next.CallCount() != 2 {
		t.Errorf("backend called %d times, want 2", next.CallCount())
	}
}

func TestCachedClient_SkipsFallbackAndErrors(t *testing.T) {
	next := &stubClient{results: []result{
		{resp: Defaults(ModeQA)},
		{err: &StatusError{StatusCode: 429}},
		{resp: Response{Suggestions: []string{"real"}}},
	}}
	rdb := newFakeRedis()
	c := NewCachedClient(next, rdb, time.Minute)
	req := Request{Transcript: "what is a goroutine", Mode: ModeQA}

	if resp, _ := c.Request(context.Background(), req); !resp.Fallback {
		t.Fatal("first call should return the fallback")
	}
	if _, err := c.Request(context.Background(), req); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second call err = %v", err)
	}
	if resp, _ := c.Request(context.Background(), req); resp.Suggestions[0] != "real" {
		t.Fatalf("third call = %+v", resp)
	}
	if next.CallCount() != 3 {
		t.Errorf("backend called %d times, want 3", next.CallCount())
	}
	if len(rdb.data) != 1 {
		t.Errorf("cache holds %d entries, want 1", len(rdb.data))
	}
}

func TestCachedClient_RedisDownBypasses(t *testing.T) {
	next := &stubClient{def: result{resp: Response{Suggestions: []string{"ok"}}}}
	rdb := newFakeRedis()
	rdb.getErr = errors.New("connection refused")
	c := NewCachedClient(next, rdb, time.Minute)

	for range 2 {
		if _, err := c.Request(context.Background(), Request{Transcript: "x"}); err != nil {
			t.Fatalf("Request: %v", err)
		}
	}
	if next.CallCount() != 2 {
		t.Errorf("backend called %d times, want 2", next.CallCount())
	}
}

// TestCachedClient_Redis runs against a real server when one is configured.
func TestCachedClient_Redis(t *testing.T) {
	addr := testRedisAddr(t)
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	req := Request{Transcript: "integration " + time.Now().String()}
	key, _ := cacheKey(req)
	t.Cleanup(func() { rdb.Del(context.Background(), key) })

	next := &stubClient{def: result{resp: Response{Suggestions: []string{"ok"}}}}
	c := NewCachedClient(next, rdb, time.Minute)
	for range 2 {
		if _, err := c.Request(context.Background(), req); err != nil {
			t.Fatalf("Request: %v", err)
		}
	}
	if next.CallCount() != 1 {
		t.Errorf("backend called %d times, want 1", next.CallCount())
	}
}
