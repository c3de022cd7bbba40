// Package retry runs an operation with classified, exponentially backed-off
// retries.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vietddude/anchorgate/internal/resilience/classify"
)

// Operation is one attempt of a call. attempt starts at 0.
type Operation func(ctx context.Context, attempt int) (any, error)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryEvent describes a failed attempt that is about to be retried.
type RetryEvent struct {
	// Attempt is the zero-based index of the attempt that failed.
	Attempt        int
	Delay          time.Duration
	UsesRetryAfter bool
	Classified     classify.ClassifiedError
	Err            error
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand sets the jitter source. The engine serializes access to r.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		e.rng = &lockedRand{r: r}
	}
}

// WithClock sets the clock used by the default sleeper.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithSleeper replaces the default timer-based sleep.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) {
		e.sleep = s
	}
}

// WithClassifier replaces classify.Classify.
func WithClassifier(fn func(error) classify.ClassifiedError) Option {
	return func(e *Engine) {
		e.classify = fn
	}
}

// WithOnRetry registers a hook called before every backoff sleep.
func WithOnRetry(fn func(RetryEvent)) Option {
	return func(e *Engine) {
		e.onRetry = fn
	}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// Engine executes operations under a Config. It holds no per-call state and
// may be shared between goroutines.
type Engine struct {
	cfg      Config
	rng      *lockedRand
	clock    clockwork.Clock
	sleep    Sleeper
	classify func(error) classify.ClassifiedError
	onRetry  func(RetryEvent)
}

// New creates an engine for cfg.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		classify: classify.Classify,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		seed := uint64(time.Now().UnixNano())
		e.rng = &lockedRand{r: rand.New(rand.NewPCG(seed, seed>>1))}
	}
	return e
}

// With returns a copy of e using cfg, with opts applied on top. The copy
// shares the jitter source of e.
func (e *Engine) With(cfg Config, opts ...Option) *Engine {
	cp := *e
	cp.cfg = cfg
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// Config returns the engine's retry configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Execute runs op until it succeeds, fails with a non-retryable error, the
// attempts run out, or ctx is done.
func (e *Engine) Execute(ctx context.Context, op Operation) Result {
	if e.cfg.MaxAttempts <= 0 {
		return Result{Outcome: OutcomeNotAttempted, Err: ErrNotAttempted}
	}

	var (
		totalDelay time.Duration
		lastErr    error
		last       classify.ClassifiedError
	)

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{
				Outcome:    OutcomeCancelled,
				Err:        cancelErr(attempt, err, lastErr),
				Classified: last,
				Attempts:   attempt,
				TotalDelay: totalDelay,
			}
		}

		value, err := op(ctx, attempt)
		if err == nil {
			return Result{
				Outcome:    OutcomeSucceeded,
				Value:      value,
				Attempts:   attempt + 1,
				TotalDelay: totalDelay,
			}
		}

		lastErr = err
		last = e.classify(err)

		// The caller gave up while the attempt was in flight.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{
				Outcome:    OutcomeCancelled,
				Err:        cancelErr(attempt+1, ctxErr, err),
				Classified: last,
				Attempts:   attempt + 1,
				TotalDelay: totalDelay,
			}
		}

		if !last.Retryable {
			return Result{
				Outcome:    OutcomeFailed,
				Err:        err,
				Classified: last,
				Attempts:   attempt + 1,
				TotalDelay: totalDelay,
			}
		}

		if attempt == e.cfg.MaxAttempts-1 {
			break
		}

		var hint time.Duration
		if info := classify.RateLimitInfoOf(err); info != nil {
			hint = info.RetryAfter
		}
		delay, usesHint := e.ComputeDelay(attempt, last, hint)

		if e.onRetry != nil {
			e.onRetry(RetryEvent{
				Attempt:        attempt,
				Delay:          delay,
				UsesRetryAfter: usesHint,
				Classified:     last,
				Err:            err,
			})
		}

		if err := e.wait(ctx, delay); err != nil {
			return Result{
				Outcome:    OutcomeCancelled,
				Err:        cancelErr(attempt+1, err, lastErr),
				Classified: last,
				Attempts:   attempt + 1,
				TotalDelay: totalDelay,
			}
		}
		totalDelay += delay
	}

	return Result{
		Outcome:    OutcomeExhausted,
		Err:        fmt.Errorf("failed after %d attempts: %w", e.cfg.MaxAttempts, lastErr),
		Classified: last,
		Attempts:   e.cfg.MaxAttempts,
		TotalDelay: totalDelay,
	}
}

// ComputeDelay returns the backoff before the attempt following the failed
// attempt index, and whether the server hint decided it.
func (e *Engine) ComputeDelay(attempt int, classified classify.ClassifiedError, hint time.Duration) (time.Duration, bool) {
	base := e.cfg.InitialDelay
	if classified.IsRateLimit() {
		base = e.cfg.RateLimitInitialDelay
	}

	maxDelay := float64(e.cfg.MaxDelay)
	delay := float64(base) * math.Pow(e.cfg.BackoffMultiplier, float64(attempt))
	if delay > maxDelay {
		delay = maxDelay
	}

	usesHint := false
	if e.cfg.UseRetryAfter && hint > 0 {
		delay = math.Min(float64(hint), maxDelay)
		usesHint = true
	}

	if e.cfg.JitterFactor > 0 && delay > 0 {
		spread := delay * e.cfg.JitterFactor
		delay += (e.rng.Float64()*2 - 1) * spread
	}

	if delay < 0 {
		delay = 0
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return time.Duration(delay), usesHint
}

func (e *Engine) wait(ctx context.Context, d time.Duration) error {
	if e.sleep != nil {
		return e.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := e.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

func cancelErr(attempts int, ctxErr, lastErr error) error {
	if lastErr == nil {
		return fmt.Errorf("cancelled after %d attempts: %w", attempts, ctxErr)
	}
	return fmt.Errorf("cancelled after %d attempts (last error: %v): %w", attempts, lastErr, ctxErr)
}
