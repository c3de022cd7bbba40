package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// State is a snapshot of one key's limiter state.
type State struct {
	Strategy    Strategy
	Count       int
	WindowStart time.Time
	Tokens      float64
	LastSeen    time.Time
}

type entry struct {
	mu          sync.Mutex
	initialized bool
	cfg         Config
	count       int
	windowStart time.Time
	bucket      *rate.Limiter
	lastSeen    time.Time
	evicted     bool
}

// MemoryStore keeps limiter state in process memory. Lookups share a store
// lock; each key's check-and-update runs under its own lock.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	clock   clockwork.Clock
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the time source.
func WithClock(c clockwork.Clock) MemoryOption {
	return func(s *MemoryStore) {
		s.clock = c
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckAndUpdate implements Limiter.
func (s *MemoryStore) CheckAndUpdate(ctx context.Context, key string, cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e := s.lookup(key)
	e.mu.Lock()
	// Sweep may drop the entry between lookup and lock.
	for e.evicted {
		e.mu.Unlock()
		e = s.lookup(key)
		e.mu.Lock()
	}
	defer e.mu.Unlock()

	now := s.clock.Now()
	e.apply(*cfg, now)
	e.lastSeen = now

	switch cfg.Strategy {
	case FixedWindow:
		return e.checkWindow(key, now)
	case TokenBucket:
		return e.checkBucket(key, now)
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, cfg.Strategy)
	}
}

func (s *MemoryStore) lookup(key string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{lastSeen: s.clock.Now()}
		s.entries[key] = e
	}
	return e
}

// apply initializes the entry on first use and adopts config changes in place.
func (e *entry) apply(cfg Config, now time.Time) {
	switch {
	case !e.initialized || e.cfg.Strategy != cfg.Strategy:
		e.initialized = true
		e.count = 0
		e.windowStart = now
		e.bucket = nil
		if cfg.Strategy == TokenBucket {
			e.bucket = rate.NewLimiter(rate.Limit(cfg.RefillRate), cfg.MaxRequests)
		}
	case e.cfg != cfg && e.bucket != nil:
		e.bucket.SetLimitAt(now, rate.Limit(cfg.RefillRate))
		e.bucket.SetBurstAt(now, cfg.MaxRequests)
	}
	e.cfg = cfg
}

func (e *entry) checkWindow(key string, now time.Time) error {
	if now.Sub(e.windowStart) >= e.cfg.Window {
		e.count = 0
		e.windowStart = now
	}

	if e.count >= e.cfg.MaxRequests {
		resetAt := e.windowStart.Add(e.cfg.Window)
		return &ExceededError{
			Key:        key,
			Strategy:   FixedWindow,
			Limit:      e.cfg.MaxRequests,
			RetryAfter: resetAt.Sub(now),
			ResetAt:    resetAt,
		}
	}

	e.count++
	return nil
}

func (e *entry) checkBucket(key string, now time.Time) error {
	if e.bucket.AllowN(now, 1) {
		return nil
	}

	var retryAfter time.Duration
	if e.cfg.RefillRate > 0 {
		missing := 1 - e.bucket.TokensAt(now)
		retryAfter = time.Duration(math.Ceil(missing / e.cfg.RefillRate * float64(time.Second)))
	}

	exceeded := &ExceededError{
		Key:        key,
		Strategy:   TokenBucket,
		Limit:      e.cfg.MaxRequests,
		RetryAfter: retryAfter,
	}
	if retryAfter > 0 {
		exceeded.ResetAt = now.Add(retryAfter)
	}
	return exceeded
}

// Snapshot returns the current state of key, if it has been seen.
func (s *MemoryStore) Snapshot(key string) (State, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return State{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st := State{
		Strategy:    e.cfg.Strategy,
		Count:       e.count,
		WindowStart: e.windowStart,
		LastSeen:    e.lastSeen,
	}
	if e.bucket != nil {
		st.Tokens = e.bucket.TokensAt(s.clock.Now())
	}
	return st, true
}

// Sweep drops keys not seen for longer than idle and returns how many were
// removed.
func (s *MemoryStore) Sweep(idle time.Duration) int {
	cutoff := s.clock.Now().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		e.mu.Lock()
		stale := e.lastSeen.Before(cutoff)
		if stale {
			e.evicted = true
		}
		e.mu.Unlock()
		if stale {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
