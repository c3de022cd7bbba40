// Package orchestrator composes the rate-limit gate, the retry engine and
// event emission into a single call path.
package orchestrator

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"

	"github.com/vietddude/anchorgate/internal/resilience/classify"
	"github.com/vietddude/anchorgate/internal/resilience/ratelimit"
	"github.com/vietddude/anchorgate/internal/resilience/retry"
)

// Orchestrator runs calls through the gate and the retry engine.
type Orchestrator struct {
	limiter  ratelimit.Limiter
	engine   *retry.Engine
	observer Observer
	clock    clockwork.Clock
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	observers  []Observer
	engineOpts []retry.Option
	clock      clockwork.Clock
}

// WithObserver adds an event observer.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observers = append(opts.observers, o)
	}
}

// WithEngineOptions passes options to the underlying retry engine.
func WithEngineOptions(opts ...retry.Option) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// WithClock sets the clock used for event timestamps and retry sleeps.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// New creates an orchestrator gating calls with limiter. A nil limiter
// disables gating.
func New(limiter ratelimit.Limiter, opts ...Option) *Orchestrator {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	engineOpts := append([]retry.Option{retry.WithClock(o.clock)}, o.engineOpts...)
	return &Orchestrator{
		limiter:  limiter,
		engine:   retry.New(retry.DefaultConfig(), engineOpts...),
		observer: MultiObserver(o.observers),
		clock:    o.clock,
	}
}

// Run executes op for key. rateCfg nil skips the gate.
func (o *Orchestrator) Run(
	ctx context.Context,
	key string,
	rateCfg *ratelimit.Config,
	retryCfg retry.Config,
	op retry.Operation,
) retry.Result {
	if err := ctx.Err(); err != nil {
		return retry.Result{Outcome: retry.OutcomeCancelled, Err: err}
	}

	if rateCfg != nil && o.limiter != nil {
		if err := o.limiter.CheckAndUpdate(ctx, key, rateCfg); err != nil {
			return o.gateFailure(ctx, key, err)
		}
	}

	engine := o.engine.With(retryCfg, retry.WithOnRetry(func(ev retry.RetryEvent) {
		o.onRetry(key, ev)
	}))

	res := engine.Execute(ctx, op)
	if res.Succeeded() && res.Attempts > 1 {
		o.observer.Observe(RateLimitRecovered{
			CallKey:      key,
			TotalRetries: res.Attempts - 1,
			TotalBackoff: res.TotalDelay,
			At:           o.clock.Now(),
		})
	}
	return res
}

func (o *Orchestrator) gateFailure(ctx context.Context, key string, err error) retry.Result {
	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		o.observer.Observe(RateLimitEncountered{
			CallKey:    key,
			Source:     SourceGate,
			RetryAfter: exceeded.RetryAfter,
			Limit:      &exceeded.Limit,
			ResetAt:    exceeded.ResetAt,
			At:         o.clock.Now(),
		})
		return retry.Result{
			Outcome:    retry.OutcomeRateLimited,
			Err:        err,
			Classified: classify.GateRateLimited(),
		}
	}

	if ctx.Err() != nil {
		return retry.Result{Outcome: retry.OutcomeCancelled, Err: err}
	}

	// The limiter state could not be read; fail closed.
	return retry.Result{
		Outcome:    retry.OutcomeFailed,
		Err:        err,
		Classified: classify.Classify(err),
	}
}

func (o *Orchestrator) onRetry(key string, ev retry.RetryEvent) {
	if !ev.Classified.IsRateLimit() {
		return
	}

	now := o.clock.Now()
	encountered := RateLimitEncountered{
		CallKey: key,
		Source:  SourceAnchor,
		At:      now,
	}
	if info := classify.RateLimitInfoOf(ev.Err); info != nil {
		encountered.RetryAfter = info.RetryAfter
		encountered.Limit = info.Limit
		encountered.Remaining = info.Remaining
		encountered.ResetAt = info.ResetAt
	}
	o.observer.Observe(encountered)

	o.observer.Observe(RateLimitBackoff{
		CallKey:        key,
		Attempt:        ev.Attempt + 1,
		Delay:          ev.Delay,
		UsesRetryAfter: ev.UsesRetryAfter,
		At:             now,
	})
}
