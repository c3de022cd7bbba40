// Package fallback picks the next anchor to try when one keeps failing.
package fallback

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vietddude/anchorgate/internal/metrics"
)

// ErrNoAnchorsAvailable is returned when every remaining anchor is down.
var ErrNoAnchorsAvailable = errors.New("no anchors available")

// DefaultCooldown is how long a failure streak is remembered.
const DefaultCooldown = 24 * time.Hour

// FailureState tracks consecutive failures of one anchor.
type FailureState struct {
	Anchor       string
	FailureCount int
	LastFailure  time.Time
	Down         bool
}

// Selector walks an ordered anchor list, skipping anchors that reached the
// failure threshold.
type Selector struct {
	mu        sync.RWMutex
	order     []string
	threshold int
	cooldown  time.Duration
	clock     clockwork.Clock
	failures  map[string]*FailureState
}

// Option configures a Selector.
type Option func(*Selector)

// WithClock sets the time source.
func WithClock(c clockwork.Clock) Option {
	return func(s *Selector) {
		s.clock = c
	}
}

// WithCooldown sets how long after its last failure an anchor is forgiven.
func WithCooldown(d time.Duration) Option {
	return func(s *Selector) {
		s.cooldown = d
	}
}

// NewSelector creates a selector. A threshold below 1 is treated as 1.
func NewSelector(order []string, threshold int, opts ...Option) *Selector {
	if threshold < 1 {
		threshold = 1
	}
	s := &Selector{
		order:     append([]string(nil), order...),
		threshold: threshold,
		cooldown:  DefaultCooldown,
		clock:     clockwork.NewRealClock(),
		failures:  make(map[string]*FailureState),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, a := range s.order {
		metrics.AnchorAvailable.WithLabelValues(a).Set(1)
	}
	return s
}

// Order returns the configured anchor order.
func (s *Selector) Order() []string {
	return append([]string(nil), s.order...)
}

// RecordFailure counts a failed call against anchor.
func (s *Selector) RecordFailure(anchor string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	st, ok := s.failures[anchor]
	if !ok || s.expired(st, now) {
		st = &FailureState{Anchor: anchor}
		s.failures[anchor] = st
	}
	st.FailureCount++
	st.LastFailure = now
	st.Down = st.FailureCount >= s.threshold

	if st.Down {
		metrics.AnchorAvailable.WithLabelValues(anchor).Set(0)
	}
}

// RecordSuccess clears the failure streak of anchor.
func (s *Selector) RecordSuccess(anchor string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.failures, anchor)
	metrics.AnchorAvailable.WithLabelValues(anchor).Set(1)
}

// State returns the failure state of anchor, if any.
func (s *Selector) State(anchor string) (FailureState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.failures[anchor]
	if !ok || s.expired(st, s.clock.Now()) {
		return FailureState{}, false
	}
	return *st, true
}

// Available reports whether anchor may be selected.
func (s *Selector) Available(anchor string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.availableLocked(anchor, s.clock.Now())
}

// Next returns the first available anchor after failed in the configured
// order. An empty failed starts from the beginning.
func (s *Selector) Next(failed string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if failed != "" {
		for i, a := range s.order {
			if a == failed {
				start = i + 1
				break
			}
		}
	}

	now := s.clock.Now()
	for _, a := range s.order[start:] {
		if s.availableLocked(a, now) {
			return a, nil
		}
	}
	return "", ErrNoAnchorsAvailable
}

func (s *Selector) availableLocked(anchor string, now time.Time) bool {
	st, ok := s.failures[anchor]
	if !ok || s.expired(st, now) {
		return true
	}
	return !st.Down
}

func (s *Selector) expired(st *FailureState, now time.Time) bool {
	return s.cooldown > 0 && now.Sub(st.LastFailure) >= s.cooldown
}
