package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"

	"github.com/vietddude/anchorgate/internal/core/config"
	"github.com/vietddude/anchorgate/internal/core/domain"
	"github.com/vietddude/anchorgate/internal/health"
	redisclient "github.com/vietddude/anchorgate/internal/infra/redis"
	"github.com/vietddude/anchorgate/internal/infra/storage"
	"github.com/vietddude/anchorgate/internal/infra/storage/memory"
	"github.com/vietddude/anchorgate/internal/infra/storage/postgres"
	"github.com/vietddude/anchorgate/internal/infra/transport"
	"github.com/vietddude/anchorgate/internal/metrics"
	"github.com/vietddude/anchorgate/internal/resilience/classify"
	"github.com/vietddude/anchorgate/internal/resilience/fallback"
	"github.com/vietddude/anchorgate/internal/resilience/observe"
	"github.com/vietddude/anchorgate/internal/resilience/orchestrator"
	"github.com/vietddude/anchorgate/internal/resilience/ratelimit"
	"github.com/vietddude/anchorgate/internal/resilience/retry"
)

// ErrUnknownAnchor is returned for an anchor name missing from the config.
var ErrUnknownAnchor = errors.New("unknown anchor")

const (
	probeOperation = "probe"
	// Idle limiter state older than this is dropped by the housekeeping job.
	limiterIdle       = ratelimit.StateTTL
	housekeepingEvery = time.Hour
)

// Endpoint holds the clients a CallFunc uses to reach one anchor.
type Endpoint struct {
	Anchor string
	HTTP   *transport.HTTPTransport
	// GRPC is nil unless the anchor has a grpc_endpoint. Failed unary calls
	// already carry classify signals.
	GRPC *grpc.ClientConn
}

// CallFunc performs one attempt against an anchor.
type CallFunc func(ctx context.Context, ep *Endpoint, attempt int) (any, error)

// Config holds the gateway configuration.
type Config struct {
	Port     int
	Anchors  []config.AnchorConfig
	Retry    retry.Config
	Probe    config.ProbeConfig
	History  config.HistoryConfig
	Fallback config.FallbackConfig
	Redis    redisclient.Config
	Database postgres.Config

	// Clock drives limiter windows, backoff sleeps and event timestamps. Nil
	// uses the wall clock.
	Clock clockwork.Clock
	// HTTPClient overrides the per-anchor HTTP client.
	HTTPClient *http.Client
}

// ConfigFrom builds a gateway config from the application config.
func ConfigFrom(app *config.AppConfig) Config {
	return Config{
		Port:     app.Server.Port,
		Anchors:  app.Anchors,
		Retry:    app.Retry,
		Probe:    app.Probe,
		History:  app.History,
		Fallback: app.Fallback,
		Redis:    app.Redis,
		Database: app.Database,
	}
}

type anchor struct {
	cfg      config.AnchorConfig
	retry    retry.Config
	endpoint *Endpoint
}

// Gateway routes anchor calls through rate limiting, retries and fallback,
// and records every call.
type Gateway struct {
	cfg          Config
	anchors      map[string]*anchor
	orch         *orchestrator.Orchestrator
	selector     *fallback.Selector
	history      storage.HistoryRepository
	memLimiter   *ratelimit.MemoryStore
	healthMon    *health.Monitor
	healthServer *health.Server
	scheduler    gocron.Scheduler
	db           *postgres.DB
	redisClient  *redisclient.Client
	clock        clockwork.Clock
	log          *slog.Logger
}

// NewGateway creates a gateway with all dependencies initialized.
func NewGateway(ctx context.Context, cfg Config) (*Gateway, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	g := &Gateway{
		cfg:     cfg,
		anchors: make(map[string]*anchor, len(cfg.Anchors)),
		clock:   cfg.Clock,
		log:     slog.Default().With("component", "gateway"),
	}

	// 1. Limiter store
	var limiter ratelimit.Limiter
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		g.redisClient = client
		limiter = redisclient.NewRateLimitStore(client, cfg.Clock)
		g.log.Info("Using Redis rate limit store")
	} else {
		g.memLimiter = ratelimit.NewMemoryStore(ratelimit.WithClock(cfg.Clock))
		limiter = g.memLimiter
		g.log.Info("Using memory rate limit store")
	}

	// 2. History
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			g.closeClients()
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			g.closeClients()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		g.db = db
		g.history = postgres.NewHistoryRepo(db)
		g.log.Info("Using PostgreSQL call history")
	} else {
		g.history = memory.NewHistoryRepo(cfg.History.Capacity)
		g.log.Info("Using memory call history")
	}

	// 3. Orchestrator
	g.orch = orchestrator.New(limiter,
		orchestrator.WithClock(cfg.Clock),
		orchestrator.WithObserver(observe.NewLogObserver(slog.Default())),
		orchestrator.WithObserver(observe.MetricsObserver{}),
	)

	// 4. Anchors
	names := make([]string, 0, len(cfg.Anchors))
	for _, a := range cfg.Anchors {
		opts := []transport.HTTPOption{transport.WithClock(cfg.Clock)}
		if cfg.HTTPClient != nil {
			opts = append(opts, transport.WithHTTPClient(cfg.HTTPClient))
		}
		ep := &Endpoint{
			Anchor: a.Name,
			HTTP:   transport.NewHTTPTransport(a.URL, a.Timeout, opts...),
		}
		if a.GRPCEndpoint != "" {
			conn, err := transport.NewGRPCConn(a.GRPCEndpoint)
			if err != nil {
				g.closeClients()
				return nil, fmt.Errorf("anchor %s: %w", a.Name, err)
			}
			ep.GRPC = conn
		}
		g.anchors[a.Name] = &anchor{
			cfg:      a,
			retry:    a.Retry.Apply(cfg.Retry),
			endpoint: ep,
		}
		names = append(names, a.Name)
	}

	order := cfg.Fallback.Order
	if len(order) == 0 {
		order = names
	}
	selOpts := []fallback.Option{fallback.WithClock(cfg.Clock)}
	if cfg.Fallback.Cooldown > 0 {
		selOpts = append(selOpts, fallback.WithCooldown(cfg.Fallback.Cooldown))
	}
	g.selector = fallback.NewSelector(order, cfg.Fallback.FailureThreshold, selOpts...)

	// 5. Health
	g.healthMon = health.NewMonitor(names, g.selector, g.history, cfg.Clock)
	if g.redisClient != nil {
		g.healthMon.AddDependency("redis", g.redisClient.Health)
	}
	if g.db != nil {
		g.healthMon.AddDependency("postgres", g.db.Health)
	}
	g.healthServer = health.NewServer(g.healthMon, cfg.Port)

	return g, nil
}

// Anchors returns the configured anchor names.
func (g *Gateway) Anchors() []string {
	names := make([]string, 0, len(g.cfg.Anchors))
	for _, a := range g.cfg.Anchors {
		names = append(names, a.Name)
	}
	return names
}

// History returns the call history repository.
func (g *Gateway) History() storage.HistoryRepository {
	return g.history
}

// Selector returns the fallback selector.
func (g *Gateway) Selector() *fallback.Selector {
	return g.selector
}

// Health returns the health monitor.
func (g *Gateway) Health() *health.Monitor {
	return g.healthMon
}

// Call runs fn against anchorName through the rate limit gate and the retry
// engine, and records the call.
func (g *Gateway) Call(ctx context.Context, anchorName, operation string, fn CallFunc) (retry.Result, error) {
	a, ok := g.anchors[anchorName]
	if !ok {
		return retry.Result{}, fmt.Errorf("%w: %s", ErrUnknownAnchor, anchorName)
	}
	return g.call(ctx, a, operation, a.retry, fn), nil
}

// Do sends req to anchorName. A successful result carries a *transport.Response.
func (g *Gateway) Do(ctx context.Context, anchorName, operation string, req transport.Request) (retry.Result, error) {
	return g.Call(ctx, anchorName, operation, doRequest(req))
}

// CallWithFallback tries anchors in fallback order until one succeeds or
// fails in a way another anchor cannot fix. It returns the anchor that
// produced the result. When every anchor was tried the last result is
// returned with fallback.ErrNoAnchorsAvailable.
func (g *Gateway) CallWithFallback(ctx context.Context, operation string, fn CallFunc) (string, retry.Result, error) {
	name, err := g.selector.Next("")
	if err != nil {
		return "", retry.Result{}, err
	}

	for {
		a, ok := g.anchors[name]
		if !ok {
			return name, retry.Result{}, fmt.Errorf("%w: %s", ErrUnknownAnchor, name)
		}

		res := g.call(ctx, a, operation, a.retry, fn)
		if res.Succeeded() || !shouldFallback(res) {
			return name, res, nil
		}

		next, err := g.selector.Next(name)
		if err != nil {
			g.log.Warn("No fallback anchor left", "anchor", name, "operation", operation, "outcome", res.Outcome.String())
			return name, res, err
		}
		g.log.Warn("Falling back to next anchor",
			"from", name,
			"to", next,
			"operation", operation,
			"outcome", res.Outcome.String(),
			"code", res.Classified.Code.String(),
		)
		name = next
	}
}

// Probe makes a single GET to the anchor's probe path and records the
// outcome for health reporting.
func (g *Gateway) Probe(ctx context.Context, anchorName string) (time.Duration, error) {
	a, ok := g.anchors[anchorName]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAnchor, anchorName)
	}

	probeRetry := a.retry
	probeRetry.MaxAttempts = 1

	start := g.clock.Now()
	res := g.call(ctx, a, probeOperation, probeRetry, doRequest(transport.Request{
		Method: http.MethodGet,
		Path:   a.cfg.ProbePath,
	}))
	latency := g.clock.Since(start)

	var err error
	if !res.Succeeded() {
		err = res.Err
		if err == nil {
			err = fmt.Errorf("probe %s: %s", anchorName, res.Outcome)
		}
		metrics.ProbeFailures.WithLabelValues(anchorName).Inc()
	}
	g.healthMon.RecordProbe(anchorName, latency, err)
	return latency, err
}

// ProbeAll probes every anchor once.
func (g *Gateway) ProbeAll(ctx context.Context) {
	for _, name := range g.Anchors() {
		if latency, err := g.Probe(ctx, name); err != nil {
			g.log.Warn("Anchor probe failed", "anchor", name, "latency", latency, "error", err)
		} else {
			g.log.Debug("Anchor probe succeeded", "anchor", name, "latency", latency)
		}
	}
}

// Housekeep prunes old history and drops idle limiter state.
func (g *Gateway) Housekeep(ctx context.Context) {
	if g.cfg.History.Retention > 0 {
		cutoff := g.clock.Now().Add(-g.cfg.History.Retention)
		n, err := g.history.Prune(ctx, cutoff)
		if err != nil {
			g.log.Warn("Failed to prune call history", "error", err)
		} else if n > 0 {
			g.log.Info("Pruned call history", "deleted", n, "cutoff", cutoff)
		}
	}
	if g.memLimiter != nil {
		if n := g.memLimiter.Sweep(limiterIdle); n > 0 {
			g.log.Debug("Swept idle rate limit state", "keys", n)
		}
	}
}

// Start starts the health server, the probe scheduler and housekeeping.
func (g *Gateway) Start(ctx context.Context) error {
	// Start Health Server
	go func() {
		if err := g.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Error("Health server failed", "error", err)
		}
	}()

	// Start DB Metrics Collector
	if g.db != nil {
		g.db.StartMetricsCollector(ctx)
	}

	s, err := gocron.NewScheduler(gocron.WithClock(g.clock))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if g.cfg.Probe.Interval > 0 {
		job, err := s.NewJob(
			gocron.DurationJob(g.cfg.Probe.Interval),
			gocron.NewTask(func() { g.ProbeAll(ctx) }),
			gocron.WithName("Anchor Probes"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			_ = s.Shutdown()
			return fmt.Errorf("failed to schedule probes: %w", err)
		}
		g.log.Info("Job scheduled", "job_name", job.Name(), "job_id", job.ID(), "interval", g.cfg.Probe.Interval)
	}

	if _, err := s.NewJob(
		gocron.DurationJob(housekeepingEvery),
		gocron.NewTask(func() { g.Housekeep(ctx) }),
		gocron.WithName("Housekeeping"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule housekeeping: %w", err)
	}

	s.Start()
	g.scheduler = s
	g.log.Info("Gateway started", "anchors", len(g.anchors), "port", g.cfg.Port)
	return nil
}

// Stop stops the gateway.
func (g *Gateway) Stop(ctx context.Context) error {
	g.log.Info("Stopping gateway...")

	if g.scheduler != nil {
		if err := g.scheduler.Shutdown(); err != nil {
			g.log.Warn("Failed to stop scheduler", "error", err)
		}
	}

	err := g.healthServer.Stop(ctx)
	g.closeClients()
	if g.db != nil {
		if cerr := g.db.Close(); cerr != nil {
			g.log.Warn("Failed to close database", "error", cerr)
		}
	}
	return err
}

func (g *Gateway) closeClients() {
	for name, a := range g.anchors {
		if a.endpoint.GRPC != nil {
			if err := a.endpoint.GRPC.Close(); err != nil {
				g.log.Warn("Failed to close gRPC connection", "anchor", name, "error", err)
			}
		}
	}
	if g.redisClient != nil {
		if err := g.redisClient.Close(); err != nil {
			g.log.Warn("Failed to close Redis", "error", err)
		}
	}
}

func (g *Gateway) call(ctx context.Context, a *anchor, operation string, retryCfg retry.Config, fn CallFunc) retry.Result {
	started := g.clock.Now()
	res := g.orch.Run(ctx, a.cfg.Name, a.cfg.RateLimit, retryCfg, func(ctx context.Context, attempt int) (any, error) {
		return fn(ctx, a.endpoint, attempt)
	})
	completed := g.clock.Now()

	switch {
	case res.Succeeded():
		g.selector.RecordSuccess(a.cfg.Name)
	case countsAgainstAnchor(res):
		g.selector.RecordFailure(a.cfg.Name)
	}

	g.record(ctx, a.cfg.Name, operation, res, started, completed)
	return res
}

func (g *Gateway) record(ctx context.Context, anchorName, operation string, res retry.Result, started, completed time.Time) {
	outcome := res.Outcome.String()

	metrics.CallsTotal.WithLabelValues(anchorName, operation, outcome).Inc()
	metrics.CallAttempts.WithLabelValues(anchorName).Observe(float64(res.Attempts))
	metrics.CallDuration.WithLabelValues(anchorName).Observe(completed.Sub(started).Seconds())

	rec := &domain.CallRecord{
		ID:           uuid.NewString(),
		Anchor:       anchorName,
		Operation:    operation,
		Outcome:      outcome,
		Attempts:     res.Attempts,
		TotalDelayMs: res.TotalDelay.Milliseconds(),
		StartedAt:    started,
		CompletedAt:  completed,
	}
	if resp, ok := res.Value.(*transport.Response); ok {
		rec.RequestID = resp.RequestID
	}
	switch res.Outcome {
	case retry.OutcomeFailed, retry.OutcomeExhausted, retry.OutcomeRateLimited:
		rec.ErrorCode = int(res.Classified.Code)
		rec.ErrorCategory = res.Classified.Category.String()
		metrics.ErrorsTotal.WithLabelValues(anchorName, rec.ErrorCategory, strconv.Itoa(rec.ErrorCode)).Inc()
	}
	if res.Err != nil {
		rec.ErrorMessage = res.Err.Error()
	}

	// Recording must outlive a cancelled call.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.history.Save(saveCtx, rec); err != nil {
		g.log.Warn("Failed to record call", "anchor", anchorName, "operation", operation, "error", err)
	}
}

func doRequest(req transport.Request) CallFunc {
	return func(ctx context.Context, ep *Endpoint, attempt int) (any, error) {
		return ep.HTTP.Do(ctx, req)
	}
}

// countsAgainstAnchor reports whether res says the anchor itself is unhealthy.
func countsAgainstAnchor(res retry.Result) bool {
	switch res.Outcome {
	case retry.OutcomeExhausted:
		return true
	case retry.OutcomeFailed:
		return res.Classified.Category == classify.CategoryTransport
	}
	return false
}

// shouldFallback reports whether another anchor might succeed where res
// failed. Protocol and compliance failures would repeat on any anchor.
func shouldFallback(res retry.Result) bool {
	return res.Outcome == retry.OutcomeRateLimited || countsAgainstAnchor(res)
}
