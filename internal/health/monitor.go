package health

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vietddude/anchorgate/internal/infra/storage"
	"github.com/vietddude/anchorgate/internal/resilience/fallback"
)

const (
	cacheTTL = 10 * time.Second

	// Error rate is only judged once an anchor has this many recorded calls.
	minCallsForRate = 10
	degradedRate    = 0.5

	dependencyTimeout = 2 * time.Second
)

// AvailabilitySource reports the failure state tracked for each anchor.
type AvailabilitySource interface {
	Available(anchor string) bool
	State(anchor string) (fallback.FailureState, bool)
}

// DependencyCheck pings a backing service.
type DependencyCheck func(ctx context.Context) error

type probeState struct {
	at      time.Time
	latency time.Duration
	err     error
}

// Monitor aggregates health status from the selector, probes, call history
// and backing services.
type Monitor struct {
	anchors      []string
	availability AvailabilitySource
	history      storage.HistoryRepository
	clock        clockwork.Clock

	mu           sync.Mutex
	probes       map[string]probeState
	dependencies map[string]DependencyCheck
	lastCheck    time.Time
	lastReport   *HealthReport
	generation   uint64
}

// NewMonitor creates a new health monitor. history may be nil.
func NewMonitor(anchors []string, availability AvailabilitySource, history storage.HistoryRepository, clock clockwork.Clock) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		anchors:      append([]string(nil), anchors...),
		availability: availability,
		history:      history,
		clock:        clock,
		probes:       make(map[string]probeState),
		dependencies: make(map[string]DependencyCheck),
	}
}

// AddDependency registers a backing service check.
func (m *Monitor) AddDependency(name string, check DependencyCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dependencies[name] = check
	m.invalidate()
}

// RecordProbe stores the outcome of an anchor probe.
func (m *Monitor) RecordProbe(anchor string, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[anchor] = probeState{at: m.clock.Now(), latency: latency, err: err}
	m.invalidate()
}

// CheckHealth performs a health check for all anchors.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	now := m.clock.Now()
	// Avoid hitting storage on every request
	if m.lastReport != nil && now.Sub(m.lastCheck) < cacheTTL {
		report := *m.lastReport
		m.mu.Unlock()
		return report
	}
	gen := m.generation
	probes := make(map[string]probeState, len(m.probes))
	for k, v := range m.probes {
		probes[k] = v
	}
	deps := make(map[string]DependencyCheck, len(m.dependencies))
	for k, v := range m.dependencies {
		deps[k] = v
	}
	m.mu.Unlock()

	report := HealthReport{
		Anchors: make(map[string]AnchorHealth, len(m.anchors)),
	}
	for _, anchor := range m.anchors {
		p, ok := probes[anchor]
		report.Anchors[anchor] = m.checkAnchor(ctx, anchor, p, ok)
	}

	depFailed := false
	if len(deps) > 0 {
		report.Dependencies = make(map[string]string, len(deps))
		for name, check := range deps {
			cctx, cancel := context.WithTimeout(ctx, dependencyTimeout)
			err := check(cctx)
			cancel()
			if err != nil {
				report.Dependencies[name] = err.Error()
				depFailed = true
			} else {
				report.Dependencies[name] = "ok"
			}
		}
	}

	report.SystemStatus = aggregate(report.Anchors, depFailed)

	m.mu.Lock()
	defer m.mu.Unlock()
	// A probe recorded meanwhile makes this report stale.
	if m.generation == gen {
		m.lastCheck = now
		m.lastReport = &report
	}
	return report
}

func (m *Monitor) invalidate() {
	m.generation++
	m.lastReport = nil
}

func (m *Monitor) checkAnchor(ctx context.Context, anchor string, p probeState, probed bool) AnchorHealth {
	h := AnchorHealth{
		Anchor:    anchor,
		Status:    StatusHealthy,
		Available: true,
	}

	if m.availability != nil {
		h.Available = m.availability.Available(anchor)
		if st, ok := m.availability.State(anchor); ok {
			h.FailureCount = st.FailureCount
			last := st.LastFailure
			h.LastFailure = &last
		}
	}

	if probed {
		at := p.at
		h.LastProbe = &at
		h.ProbeLatency = p.latency
		if p.err != nil {
			h.ProbeError = p.err.Error()
		}
	}

	if m.history != nil {
		counts, err := m.history.CountByOutcome(ctx, anchor)
		if err == nil && len(counts) > 0 {
			h.Calls = make(map[string]int, len(counts))
			total, failed := 0, 0
			for _, c := range counts {
				h.Calls[c.Outcome] = c.Count
				total += c.Count
				if c.Outcome != "succeeded" {
					failed += c.Count
				}
			}
			if total >= minCallsForRate {
				h.ErrorRate = float64(failed) / float64(total)
			}
		}
	}

	// Evaluate Status
	switch {
	case !h.Available:
		h.Status = StatusCritical
	case h.ProbeError != "" || h.FailureCount > 0 || h.ErrorRate > degradedRate:
		h.Status = StatusDegraded
	}
	return h
}

// aggregate is critical when no anchor can serve calls or a dependency is
// down, degraded when any anchor is not healthy.
func aggregate(anchors map[string]AnchorHealth, depFailed bool) SystemStatus {
	if depFailed {
		return StatusCritical
	}
	if len(anchors) == 0 {
		return StatusHealthy
	}

	status := StatusHealthy
	critical := 0
	for _, a := range anchors {
		switch a.Status {
		case StatusCritical:
			critical++
			status = StatusDegraded
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	if critical == len(anchors) {
		return StatusCritical
	}
	return status
}
