// Package ratelimit gates outbound calls per destination key.
//
// This package contains:
//   - Config: fixed window or token bucket limits
//   - Limiter: the check-and-update contract shared by every store
//   - MemoryStore: process-local keyed state
//
// A Redis-backed Limiter lives in internal/infra/redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Strategy selects the limiting algorithm.
type Strategy string

const (
	FixedWindow Strategy = "fixed_window"
	TokenBucket Strategy = "token_bucket"
)

// StateTTL is how long an idle key's state is kept by stores that expire keys.
const StateTTL = 24 * time.Hour

// Config describes the limit applied to one key.
type Config struct {
	Strategy    Strategy      `yaml:"strategy"`
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	// RefillRate is in tokens per second.
	RefillRate float64 `yaml:"refill_rate"`
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid rate limit config")

// Validate checks the config for the selected strategy.
func (c Config) Validate() error {
	if c.MaxRequests < 1 {
		return fmt.Errorf("%w: max_requests %d < 1", ErrInvalidConfig, c.MaxRequests)
	}
	switch c.Strategy {
	case FixedWindow:
		if c.Window < 0 {
			return fmt.Errorf("%w: window %s < 0", ErrInvalidConfig, c.Window)
		}
	case TokenBucket:
		if c.RefillRate < 0 {
			return fmt.Errorf("%w: refill_rate %v < 0", ErrInvalidConfig, c.RefillRate)
		}
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	return nil
}

// ErrRateLimitExceeded matches every denial via errors.Is.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ExceededError reports a denied check.
type ExceededError struct {
	Key      string
	Strategy Strategy
	Limit    int
	// RetryAfter is the earliest time a request could pass, zero if unknown.
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (%s, limit %d, retry after %s)",
		e.Key, e.Strategy, e.Limit, e.RetryAfter)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// Limiter atomically checks whether key may make a request under cfg and,
// if so, records it. A nil cfg always allows. A denial returns an
// *ExceededError; any other error means the state could not be read.
type Limiter interface {
	CheckAndUpdate(ctx context.Context, key string, cfg *Config) error
}
