package config

import (
	"time"

	redisclient "github.com/vietddude/anchorgate/internal/infra/redis"
	"github.com/vietddude/anchorgate/internal/infra/storage/postgres"
	"github.com/vietddude/anchorgate/internal/resilience/ratelimit"
	"github.com/vietddude/anchorgate/internal/resilience/retry"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	Retry    retry.Config       `yaml:"retry"`
	Probe    ProbeConfig        `yaml:"probe"`
	History  HistoryConfig      `yaml:"history"`
	Fallback FallbackConfig     `yaml:"fallback"`
	Anchors  []AnchorConfig     `yaml:"anchors"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ProbeConfig controls scheduled anchor probes.
type ProbeConfig struct {
	Interval time.Duration `yaml:"interval"` // 0 = disabled
}

// HistoryConfig controls call history retention.
type HistoryConfig struct {
	Retention time.Duration `yaml:"retention"` // 0 = keep forever
	Capacity  int           `yaml:"capacity"`  // in-memory store only
}

// FallbackConfig orders anchors for CallWithFallback.
type FallbackConfig struct {
	Order            []string      `yaml:"order"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// AnchorConfig holds settings for one anchor service.
type AnchorConfig struct {
	Name         string            `yaml:"name"`
	URL          string            `yaml:"url"`
	GRPCEndpoint string            `yaml:"grpc_endpoint"` // optional, host:port or https://host
	Timeout      time.Duration     `yaml:"timeout"`
	ProbePath    string            `yaml:"probe_path"`
	RateLimit    *ratelimit.Config `yaml:"rate_limit"` // nil = no local gate
	Retry        *RetryOverride    `yaml:"retry"`
}

// RetryOverride replaces individual fields of the global retry config.
type RetryOverride struct {
	MaxAttempts           *int           `yaml:"max_attempts"`
	InitialDelay          *time.Duration `yaml:"initial_delay"`
	MaxDelay              *time.Duration `yaml:"max_delay"`
	BackoffMultiplier     *float64       `yaml:"backoff_multiplier"`
	JitterFactor          *float64       `yaml:"jitter_factor"`
	UseRetryAfter         *bool          `yaml:"use_retry_after"`
	RateLimitInitialDelay *time.Duration `yaml:"rate_limit_initial_delay"`
}

// Apply returns base with the overridden fields replaced.
func (o *RetryOverride) Apply(base retry.Config) retry.Config {
	if o == nil {
		return base
	}
	if o.MaxAttempts != nil {
		base.MaxAttempts = *o.MaxAttempts
	}
	if o.InitialDelay != nil {
		base.InitialDelay = *o.InitialDelay
	}
	if o.MaxDelay != nil {
		base.MaxDelay = *o.MaxDelay
	}
	if o.BackoffMultiplier != nil {
		base.BackoffMultiplier = *o.BackoffMultiplier
	}
	if o.JitterFactor != nil {
		base.JitterFactor = *o.JitterFactor
	}
	if o.UseRetryAfter != nil {
		base.UseRetryAfter = *o.UseRetryAfter
	}
	if o.RateLimitInitialDelay != nil {
		base.RateLimitInitialDelay = *o.RateLimitInitialDelay
	}
	return base
}

// RetryFor returns the effective retry config of an anchor.
func (c *AppConfig) RetryFor(a AnchorConfig) retry.Config {
	return a.Retry.Apply(c.Retry)
}

// Anchor looks up an anchor by name.
func (c *AppConfig) Anchor(name string) (AnchorConfig, bool) {
	for _, a := range c.Anchors {
		if a.Name == name {
			return a, true
		}
	}
	return AnchorConfig{}, false
}
