package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/vietddude/anchorgate/internal/resilience/ratelimit"
)

func newTestStore(t *testing.T) (*RateLimitStore, *clockwork.FakeClock) {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping redis rate limit tests")
	}

	client, err := NewClient(Config{URL: url})
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	clock := clockwork.NewFakeClockAt(time.Now().Truncate(time.Millisecond))
	return NewRateLimitStore(client, clock), clock
}

func TestRateLimitStore_FixedWindow(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()
	t.Cleanup(func() { _ = store.Reset(ctx, key) })

	cfg := &ratelimit.Config{Strategy: ratelimit.FixedWindow, MaxRequests: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		if err := store.CheckAndUpdate(ctx, key, cfg); err != nil {
			t.Fatalf("request %d denied: %v", i, err)
		}
	}

	clock.Advance(15 * time.Second)
	err := store.CheckAndUpdate(ctx, key, cfg)
	var exceeded *ratelimit.ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected denial, got %v", err)
	}
	if exceeded.RetryAfter != 45*time.Second {
		t.Errorf("expected 45s retry after, got %s", exceeded.RetryAfter)
	}

	clock.Advance(45 * time.Second)
	if err := store.CheckAndUpdate(ctx, key, cfg); err != nil {
		t.Errorf("new window should allow, got %v", err)
	}
}

func TestRateLimitStore_TokenBucket(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()
	t.Cleanup(func() { _ = store.Reset(ctx, key) })

	cfg := &ratelimit.Config{Strategy: ratelimit.TokenBucket, MaxRequests: 2, RefillRate: 2}

	for i := 0; i < 2; i++ {
		if err := store.CheckAndUpdate(ctx, key, cfg); err != nil {
			t.Fatalf("request %d denied: %v", i, err)
		}
	}
	if err := store.CheckAndUpdate(ctx, key, cfg); !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		t.Fatalf("expected denial, got %v", err)
	}

	clock.Advance(500 * time.Millisecond)
	if err := store.CheckAndUpdate(ctx, key, cfg); err != nil {
		t.Errorf("half a second at 2/s should refill one token, got %v", err)
	}
}

func TestRateLimitStore_NilConfig(t *testing.T) {
	store := NewRateLimitStore(nil, nil)
	if err := store.CheckAndUpdate(context.Background(), "any", nil); err != nil {
		t.Errorf("nil config should allow without touching redis, got %v", err)
	}
}
