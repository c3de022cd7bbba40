package orchestrator

import (
	"sync"
	"time"
)

// Source tells where a rate limit was hit.
type Source int

const (
	// SourceGate is the local limiter.
	SourceGate Source = iota
	// SourceAnchor is a throttling response from the anchor itself.
	SourceAnchor
)

func (s Source) String() string {
	if s == SourceGate {
		return "gate"
	}
	return "anchor"
}

// Event is emitted while a call is orchestrated.
type Event interface {
	Name() string
	Key() string
}

// RateLimitEncountered is emitted when a call is throttled.
type RateLimitEncountered struct {
	CallKey    string
	Source     Source
	RetryAfter time.Duration
	Limit      *int
	Remaining  *int
	ResetAt    time.Time
	At         time.Time
}

func (e RateLimitEncountered) Name() string { return "rate_limit_encountered" }
func (e RateLimitEncountered) Key() string  { return e.CallKey }

// RateLimitBackoff is emitted before sleeping after a throttled attempt.
type RateLimitBackoff struct {
	CallKey string
	// Attempt is the 1-based number of the attempt that was throttled.
	Attempt        int
	Delay          time.Duration
	UsesRetryAfter bool
	At             time.Time
}

func (e RateLimitBackoff) Name() string { return "rate_limit_backoff" }
func (e RateLimitBackoff) Key() string  { return e.CallKey }

// RateLimitRecovered is emitted when a call succeeds after retrying.
type RateLimitRecovered struct {
	CallKey      string
	TotalRetries int
	TotalBackoff time.Duration
	At           time.Time
}

func (e RateLimitRecovered) Name() string { return "rate_limit_recovered" }
func (e RateLimitRecovered) Key() string  { return e.CallKey }

// Observer receives orchestration events. Observe is called synchronously on
// the calling goroutine.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// MultiObserver fans events out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// Recorder keeps every observed event.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
