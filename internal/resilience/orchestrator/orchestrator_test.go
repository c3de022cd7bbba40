package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vietddude/anchorgate/internal/resilience/classify"
	"github.com/vietddude/anchorgate/internal/resilience/ratelimit"
	"github.com/vietddude/anchorgate/internal/resilience/retry"
)

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func newTestOrchestrator(rec *Recorder) (*Orchestrator, *ratelimit.MemoryStore) {
	clock := clockwork.NewFakeClock()
	store := ratelimit.NewMemoryStore(ratelimit.WithClock(clock))
	o := New(store,
		WithObserver(rec),
		WithClock(clock),
		WithEngineOptions(retry.WithSleeper(noSleep)),
	)
	return o, store
}

func retryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 3
	return cfg
}

func sequence(errs ...error) (retry.Operation, *int) {
	calls := 0
	return func(ctx context.Context, attempt int) (any, error) {
		calls++
		if attempt < len(errs) {
			return nil, errs[attempt]
		}
		return attempt, nil
	}, &calls
}

func TestRun_GateDenial(t *testing.T) {
	rec := &Recorder{}
	o, _ := newTestOrchestrator(rec)
	rateCfg := &ratelimit.Config{Strategy: ratelimit.FixedWindow, MaxRequests: 1, Window: time.Minute}
	ctx := context.Background()

	op, calls := sequence()
	if res := o.Run(ctx, "alpha", rateCfg, retryConfig(), op); !res.Succeeded() {
		t.Fatalf("first call should pass the gate, got %v", res.Outcome)
	}

	res := o.Run(ctx, "alpha", rateCfg, retryConfig(), op)
	if res.Outcome != retry.OutcomeRateLimited {
		t.Fatalf("expected rate limited, got %v", res.Outcome)
	}
	if res.Attempts != 0 || *calls != 1 {
		t.Errorf("gate denial must not invoke the operation (attempts %d, calls %d)", res.Attempts, *calls)
	}
	if !errors.Is(res.Err, ratelimit.ErrRateLimitExceeded) {
		t.Errorf("expected ErrRateLimitExceeded, got %v", res.Err)
	}

	events := rec.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	enc, ok := events[0].(RateLimitEncountered)
	if !ok || enc.Source != SourceGate || enc.Key() != "alpha" {
		t.Errorf("unexpected event %+v", events[0])
	}
	if enc.RetryAfter != time.Minute {
		t.Errorf("expected 1m retry after, got %s", enc.RetryAfter)
	}
}

func TestRun_NilRateConfigSkipsGate(t *testing.T) {
	rec := &Recorder{}
	o, store := newTestOrchestrator(rec)

	for i := 0; i < 5; i++ {
		op, _ := sequence()
		if res := o.Run(context.Background(), "beta", nil, retryConfig(), op); !res.Succeeded() {
			t.Fatalf("call %d failed: %v", i, res.Outcome)
		}
	}
	if store.Len() != 0 {
		t.Errorf("gate should not have been consulted")
	}
}

func TestRun_AnchorRateLimitEvents(t *testing.T) {
	rec := &Recorder{}
	o, _ := newTestOrchestrator(rec)

	remaining := 0
	throttled := classify.HTTPStatus(429).WithRateLimit(&classify.RateLimitInfo{
		RetryAfter: 2 * time.Second,
		Remaining:  &remaining,
	})
	op, calls := sequence(throttled)

	res := o.Run(context.Background(), "gamma", nil, retryConfig(), op)
	if !res.Succeeded() || *calls != 2 {
		t.Fatalf("expected success on second attempt, got %v after %d calls", res.Outcome, *calls)
	}
	if res.TotalDelay != 2*time.Second {
		t.Errorf("expected hinted 2s delay, got %s", res.TotalDelay)
	}

	events := rec.Events()
	wantNames := []string{"rate_limit_encountered", "rate_limit_backoff", "rate_limit_recovered"}
	if len(events) != len(wantNames) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantNames), len(events), events)
	}
	for i, name := range wantNames {
		if events[i].Name() != name {
			t.Errorf("event %d: expected %s, got %s", i, name, events[i].Name())
		}
	}

	enc := events[0].(RateLimitEncountered)
	if enc.Source != SourceAnchor || enc.Remaining == nil || *enc.Remaining != 0 {
		t.Errorf("unexpected encountered event %+v", enc)
	}
	backoff := events[1].(RateLimitBackoff)
	if backoff.Attempt != 1 || backoff.Delay != 2*time.Second || !backoff.UsesRetryAfter {
		t.Errorf("unexpected backoff event %+v", backoff)
	}
	recovered := events[2].(RateLimitRecovered)
	if recovered.TotalRetries != 1 || recovered.TotalBackoff != 2*time.Second {
		t.Errorf("unexpected recovered event %+v", recovered)
	}
}

func TestRun_NonRateLimitRetryEmitsOnlyRecovered(t *testing.T) {
	rec := &Recorder{}
	o, _ := newTestOrchestrator(rec)

	op, _ := sequence(classify.HTTPStatus(503))
	res := o.Run(context.Background(), "delta", nil, retryConfig(), op)
	if !res.Succeeded() {
		t.Fatalf("expected success, got %v", res.Outcome)
	}

	events := rec.Events()
	if len(events) != 1 || events[0].Name() != "rate_limit_recovered" {
		t.Errorf("expected only a recovered event, got %+v", events)
	}
}

func TestRun_FirstTrySuccessEmitsNothing(t *testing.T) {
	rec := &Recorder{}
	o, _ := newTestOrchestrator(rec)

	op, _ := sequence()
	o.Run(context.Background(), "epsilon", nil, retryConfig(), op)

	if n := len(rec.Events()); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestRun_CancelledBeforeGate(t *testing.T) {
	rec := &Recorder{}
	o, _ := newTestOrchestrator(rec)
	rateCfg := &ratelimit.Config{Strategy: ratelimit.TokenBucket, MaxRequests: 1, RefillRate: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op, calls := sequence()
	res := o.Run(ctx, "zeta", rateCfg, retryConfig(), op)
	if res.Outcome != retry.OutcomeCancelled || *calls != 0 {
		t.Fatalf("expected cancellation, got %v (calls %d)", res.Outcome, *calls)
	}

	// The token must still be available.
	op, _ = sequence()
	if res := o.Run(context.Background(), "zeta", rateCfg, retryConfig(), op); !res.Succeeded() {
		t.Errorf("cancelled call consumed the token: %v", res.Outcome)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) CheckAndUpdate(ctx context.Context, key string, cfg *ratelimit.Config) error {
	return errors.New("connection refused")
}

func TestRun_LimiterErrorFailsClosed(t *testing.T) {
	o := New(brokenLimiter{}, WithEngineOptions(retry.WithSleeper(noSleep)))
	rateCfg := &ratelimit.Config{Strategy: ratelimit.FixedWindow, MaxRequests: 1, Window: time.Minute}

	op, calls := sequence()
	res := o.Run(context.Background(), "eta", rateCfg, retryConfig(), op)
	if res.Outcome != retry.OutcomeFailed || *calls != 0 {
		t.Errorf("expected failed without attempts, got %v (calls %d)", res.Outcome, *calls)
	}
}

func TestRun_ExhaustedReportsLastClassification(t *testing.T) {
	rec := &Recorder{}
	o, _ := newTestOrchestrator(rec)

	s := classify.NetworkError("i/o timeout")
	op, calls := sequence(s, s, s)
	res := o.Run(context.Background(), "theta", nil, retryConfig(), op)

	if res.Outcome != retry.OutcomeExhausted || *calls != 3 {
		t.Fatalf("expected exhausted after 3 calls, got %v after %d", res.Outcome, *calls)
	}
	if res.Classified.Code != classify.CodeTransportTimeout {
		t.Errorf("expected timeout classification, got %+v", res.Classified)
	}
}

func TestMultiObserver(t *testing.T) {
	var a, b int
	m := MultiObserver{
		ObserverFunc(func(Event) { a++ }),
		ObserverFunc(func(Event) { b++ }),
	}
	m.Observe(RateLimitRecovered{CallKey: "k"})
	if a != 1 || b != 1 {
		t.Errorf("expected both observers called once, got %d and %d", a, b)
	}
}
