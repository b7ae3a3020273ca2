package feedback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/orato/internal/observe"
)

// DefaultCacheTTL is used when CachedClient is given a non-positive TTL.
const DefaultCacheTTL = 10 * time.Minute

const cacheKeyPrefix = "feedback:"

// CachedClient serves repeated requests from Redis. Only parsed responses
// are cached; fallbacks and errors always go to the wrapped client. Redis
// failures are logged and bypassed.
type CachedClient struct {
	next    Client
	rdb     redis.Cmdable
	ttl     time.Duration
	metrics *observe.Metrics
}

// NewCachedClient wraps next with a Redis cache.
func NewCachedClient(next Client, rdb redis.Cmdable, ttl time.Duration) *CachedClient {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedClient{next: next, rdb: rdb, ttl: ttl, metrics: observe.DefaultMetrics()}
}

// Request implements Client.
func (c *CachedClient) Request(ctx context.Context, req Request) (Response, error) {
	key, err := cacheKey(req)
	if err != nil {
		return c.next.Request(ctx, req)
	}

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var resp Response
		if json.Unmarshal(data, &resp) == nil {
			c.metrics.RecordCacheLookup(ctx, "hit")
			return resp, nil
		}
		c.metrics.RecordCacheLookup(ctx, "error")
	case errors.Is(err, redis.Nil):
		c.metrics.RecordCacheLookup(ctx, "miss")
	default:
		c.metrics.RecordCacheLookup(ctx, "error")
		observe.Logger(ctx).Warn("feedback cache get failed", "err", err)
	}

	resp, err := c.next.Request(ctx, req)
	if err != nil || resp.Fallback {
		return resp, err
	}
	if data, merr := json.Marshal(resp); merr == nil {
		if serr := c.rdb.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			slog.Warn("feedback cache set failed", "err", serr)
		}
	}
	return resp, nil
}

// cacheKey hashes the full request so any change in history, style or
// language misses.
func cacheKey(req Request) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return cacheKeyPrefix + hex.EncodeToString(sum[:]), nil
}

var _ Client = (*CachedClient)(nil)
