package retry

import (
	"errors"
	"fmt"
	"time"
)

// Config defines retry behavior for one call.
type Config struct {
	MaxAttempts           int           `yaml:"max_attempts"`
	InitialDelay          time.Duration `yaml:"initial_delay"`
	MaxDelay              time.Duration `yaml:"max_delay"`
	BackoffMultiplier     float64       `yaml:"backoff_multiplier"`
	JitterFactor          float64       `yaml:"jitter_factor"`
	UseRetryAfter         bool          `yaml:"use_retry_after"`
	RateLimitInitialDelay time.Duration `yaml:"rate_limit_initial_delay"`
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:           3,
		InitialDelay:          100 * time.Millisecond,
		MaxDelay:              5 * time.Second,
		BackoffMultiplier:     2.0,
		JitterFactor:          0,
		UseRetryAfter:         true,
		RateLimitInitialDelay: time.Second,
	}
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid retry config")

// Validate checks that every field is within range.
func (c Config) Validate() error {
	switch {
	case c.MaxAttempts < 0:
		return fmt.Errorf("%w: max_attempts %d < 0", ErrInvalidConfig, c.MaxAttempts)
	case c.InitialDelay < 0:
		return fmt.Errorf("%w: initial_delay %s < 0", ErrInvalidConfig, c.InitialDelay)
	case c.MaxDelay < c.InitialDelay:
		return fmt.Errorf("%w: max_delay %s < initial_delay %s", ErrInvalidConfig, c.MaxDelay, c.InitialDelay)
	case c.BackoffMultiplier < 1:
		return fmt.Errorf("%w: backoff_multiplier %v < 1", ErrInvalidConfig, c.BackoffMultiplier)
	case c.JitterFactor < 0 || c.JitterFactor > 1:
		return fmt.Errorf("%w: jitter_factor %v outside [0, 1]", ErrInvalidConfig, c.JitterFactor)
	case c.RateLimitInitialDelay < 0:
		return fmt.Errorf("%w: rate_limit_initial_delay %s < 0", ErrInvalidConfig, c.RateLimitInitialDelay)
	}
	return nil
}
