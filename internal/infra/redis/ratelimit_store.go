package redis

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/anchorgate/internal/resilience/ratelimit"
)

// Both scripts take the caller's clock in milliseconds so every gateway
// instance sharing a key agrees on window and refill arithmetic.
// Timestamps are written back from ARGV to keep them exact.

// KEYS[1] state hash; ARGV: now_ms, window_ms, max, ttl_s
var fixedWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local start_raw = redis.call('HGET', KEYS[1], 'window_start') or ARGV[1]
local start = tonumber(start_raw)
if now - start >= window then
  count = 0
  start_raw = ARGV[1]
  start = now
end
if count >= max then
  return {0, count, start_raw}
end
count = count + 1
redis.call('HSET', KEYS[1], 'count', count, 'window_start', start_raw)
redis.call('EXPIRE', KEYS[1], ARGV[4])
return {1, count, start_raw}
`)

// KEYS[1] state hash; ARGV: now_ms, max, refill_per_s, ttl_s
var tokenBucketScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local refill = tonumber(ARGV[3])
local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens') or ARGV[2])
local last = tonumber(redis.call('HGET', KEYS[1], 'last_refill') or ARGV[1])
local elapsed = now - last
if elapsed < 0 then
  elapsed = 0
end
tokens = math.min(max, tokens + (elapsed / 1000) * refill)
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'last_refill', ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[4])
return {allowed, tostring(tokens)}
`)

// RateLimitStore is a ratelimit.Limiter whose state lives in Redis, shared by
// every gateway instance using the same server.
type RateLimitStore struct {
	client *Client
	clock  clockwork.Clock
	ttl    time.Duration
}

var _ ratelimit.Limiter = (*RateLimitStore)(nil)

// NewRateLimitStore creates a store on top of client.
func NewRateLimitStore(client *Client, clock clockwork.Clock) *RateLimitStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimitStore{
		client: client,
		clock:  clock,
		ttl:    ratelimit.StateTTL,
	}
}

// CheckAndUpdate implements ratelimit.Limiter.
func (s *RateLimitStore) CheckAndUpdate(ctx context.Context, key string, cfg *ratelimit.Config) error {
	if cfg == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.clock.Now()
	switch cfg.Strategy {
	case ratelimit.FixedWindow:
		return s.checkWindow(ctx, key, cfg, now)
	case ratelimit.TokenBucket:
		return s.checkBucket(ctx, key, cfg, now)
	default:
		return fmt.Errorf("%w: unknown strategy %q", ratelimit.ErrInvalidConfig, cfg.Strategy)
	}
}

func (s *RateLimitStore) checkWindow(ctx context.Context, key string, cfg *ratelimit.Config, now time.Time) error {
	res, err := fixedWindowScript.Run(ctx, s.client.rdb, []string{rateLimitKey(key)},
		now.UnixMilli(),
		cfg.Window.Milliseconds(),
		cfg.MaxRequests,
		int64(s.ttl.Seconds()),
	).Slice()
	if err != nil {
		return fmt.Errorf("fixed window script failed: %w", err)
	}
	if len(res) != 3 {
		return fmt.Errorf("fixed window script returned %d values", len(res))
	}

	allowed, _ := res[0].(int64)
	if allowed == 1 {
		return nil
	}

	startMs, err := strconv.ParseInt(fmt.Sprint(res[2]), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid window start %v: %w", res[2], err)
	}
	resetAt := time.UnixMilli(startMs).Add(cfg.Window)
	return &ratelimit.ExceededError{
		Key:        key,
		Strategy:   ratelimit.FixedWindow,
		Limit:      cfg.MaxRequests,
		RetryAfter: resetAt.Sub(now),
		ResetAt:    resetAt,
	}
}

func (s *RateLimitStore) checkBucket(ctx context.Context, key string, cfg *ratelimit.Config, now time.Time) error {
	res, err := tokenBucketScript.Run(ctx, s.client.rdb, []string{rateLimitKey(key)},
		now.UnixMilli(),
		cfg.MaxRequests,
		strconv.FormatFloat(cfg.RefillRate, 'f', -1, 64),
		int64(s.ttl.Seconds()),
	).Slice()
	if err != nil {
		return fmt.Errorf("token bucket script failed: %w", err)
	}
	if len(res) != 2 {
		return fmt.Errorf("token bucket script returned %d values", len(res))
	}

	allowed, _ := res[0].(int64)
	if allowed == 1 {
		return nil
	}

	tokens, err := strconv.ParseFloat(fmt.Sprint(res[1]), 64)
	if err != nil {
		return fmt.Errorf("invalid token count %v: %w", res[1], err)
	}

	exceeded := &ratelimit.ExceededError{
		Key:      key,
		Strategy: ratelimit.TokenBucket,
		Limit:    cfg.MaxRequests,
	}
	if cfg.RefillRate > 0 {
		exceeded.RetryAfter = time.Duration(math.Ceil((1 - tokens) / cfg.RefillRate * float64(time.Second)))
		exceeded.ResetAt = now.Add(exceeded.RetryAfter)
	}
	return exceeded
}

// Reset deletes the stored state of key.
func (s *RateLimitStore) Reset(ctx context.Context, key string) error {
	return s.client.rdb.Del(ctx, rateLimitKey(key)).Err()
}
