// Package observe turns orchestration events into logs and metrics.
package observe

import (
	"log/slog"

	"github.com/vietddude/anchorgate/internal/metrics"
	"github.com/vietddude/anchorgate/internal/resilience/orchestrator"
)

// LogObserver writes every event to a structured logger.
type LogObserver struct {
	log *slog.Logger
}

// NewLogObserver creates a LogObserver. A nil logger means slog.Default().
func NewLogObserver(log *slog.Logger) *LogObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LogObserver{log: log.With("component", "orchestrator")}
}

func (o *LogObserver) Observe(e orchestrator.Event) {
	switch ev := e.(type) {
	case orchestrator.RateLimitEncountered:
		attrs := []any{
			"key", ev.CallKey,
			"source", ev.Source.String(),
			"retry_after", ev.RetryAfter,
		}
		if ev.Limit != nil {
			attrs = append(attrs, "limit", *ev.Limit)
		}
		if ev.Remaining != nil {
			attrs = append(attrs, "remaining", *ev.Remaining)
		}
		if !ev.ResetAt.IsZero() {
			attrs = append(attrs, "reset_at", ev.ResetAt)
		}
		o.log.Warn("Rate limit encountered", attrs...)
	case orchestrator.RateLimitBackoff:
		o.log.Info("Backing off after rate limit",
			"key", ev.CallKey,
			"attempt", ev.Attempt,
			"delay", ev.Delay,
			"uses_retry_after", ev.UsesRetryAfter,
		)
	case orchestrator.RateLimitRecovered:
		o.log.Info("Call recovered",
			"key", ev.CallKey,
			"retries", ev.TotalRetries,
			"total_backoff", ev.TotalBackoff,
		)
	default:
		o.log.Debug("Orchestrator event", "name", e.Name(), "key", e.Key())
	}
}

// MetricsObserver records events as Prometheus metrics.
type MetricsObserver struct{}

func (MetricsObserver) Observe(e orchestrator.Event) {
	switch ev := e.(type) {
	case orchestrator.RateLimitEncountered:
		metrics.RateLimitEncounters.WithLabelValues(ev.CallKey, ev.Source.String()).Inc()
	case orchestrator.RateLimitBackoff:
		metrics.RateLimitBackoff.WithLabelValues(ev.CallKey).Observe(ev.Delay.Seconds())
	case orchestrator.RateLimitRecovered:
		metrics.RateLimitRecoveries.WithLabelValues(ev.CallKey).Inc()
	}
}
