package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/anchorgate/internal/resilience/retry"
)

// ErrInvalidConfig is returned when a loaded config fails validation.
var ErrInvalidConfig = errors.New("invalid config")

const (
	defaultPort             = 8080
	defaultAnchorTimeout    = 10 * time.Second
	defaultProbePath        = "/info"
	defaultFailureThreshold = 3
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, expands environment variables, applies defaults and validates.
func Parse(data []byte) (*AppConfig, error) {
	cfg := AppConfig{Retry: retry.DefaultConfig()}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Fallback.FailureThreshold == 0 {
		c.Fallback.FailureThreshold = defaultFailureThreshold
	}
	if len(c.Fallback.Order) == 0 {
		for _, a := range c.Anchors {
			c.Fallback.Order = append(c.Fallback.Order, a.Name)
		}
	}

	for i := range c.Anchors {
		if c.Anchors[i].Timeout == 0 {
			c.Anchors[i].Timeout = defaultAnchorTimeout
		}
		if c.Anchors[i].ProbePath == "" {
			c.Anchors[i].ProbePath = defaultProbePath
		}
	}
}

// Validate checks cross-field constraints.
func (c *AppConfig) Validate() error {
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: retry: %w", ErrInvalidConfig, err)
	}
	if c.Fallback.FailureThreshold < 0 {
		return fmt.Errorf("%w: fallback.failure_threshold must be positive", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Anchors))
	for _, a := range c.Anchors {
		if a.Name == "" {
			return fmt.Errorf("%w: anchor without name", ErrInvalidConfig)
		}
		if seen[a.Name] {
			return fmt.Errorf("%w: duplicate anchor %q", ErrInvalidConfig, a.Name)
		}
		seen[a.Name] = true

		u, err := url.Parse(a.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: anchor %q has invalid url %q", ErrInvalidConfig, a.Name, a.URL)
		}
		if a.RateLimit != nil {
			if err := a.RateLimit.Validate(); err != nil {
				return fmt.Errorf("%w: anchor %q rate_limit: %w", ErrInvalidConfig, a.Name, err)
			}
		}
		if err := c.RetryFor(a).Validate(); err != nil {
			return fmt.Errorf("%w: anchor %q retry: %w", ErrInvalidConfig, a.Name, err)
		}
	}

	for _, name := range c.Fallback.Order {
		if !seen[name] {
			return fmt.Errorf("%w: fallback order names unknown anchor %q", ErrInvalidConfig, name)
		}
	}
	return nil
}
