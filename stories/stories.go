// CLAUDE:SUMMARY Main Service orchestrator: deduplicated submission, async dispatch, queries, health, lifecycle.
package stories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hazyhaar/hnfetch/connectivity"
	"github.com/hazyhaar/hnfetch/idgen"
	"github.com/hazyhaar/hnfetch/observability"
	"github.com/hazyhaar/hnfetch/stories/internal/dispatch"
	"github.com/hazyhaar/hnfetch/stories/internal/hnclient"
	"github.com/hazyhaar/hnfetch/stories/internal/schedule"
	"github.com/hazyhaar/hnfetch/stories/internal/store"
	"github.com/microcosm-cc/bluemonday"
)

const (
	// drainTimeout bounds how long Close waits for in-flight jobs.
	drainTimeout = 10 * time.Second
	// recoverBatch caps how many leftover jobs one restart will settle.
	recoverBatch = 1000
)

// Fetcher abstracts the upstream story source. Production uses
// hnclient.Client; tests substitute a fake.
type Fetcher interface {
	TopStories(ctx context.Context) ([]int64, error)
	Items(ctx context.Context, ids []int64) ([]*hnclient.Item, error)
}

// Service is the main stories orchestrator.
type Service struct {
	store      *store.Store
	fetcher    Fetcher
	dispatcher dispatch.Dispatcher
	pool       *dispatch.Pool // owned pool; nil when a dispatcher was injected
	ticker     *schedule.Ticker
	breaker    *connectivity.CircuitBreaker
	sanitizer  *bluemonday.Policy
	validate   *validator.Validate
	logger     *slog.Logger
	config     *Config
	newID      idgen.Generator
	events     *observability.EventLogger    // optional — business event trail
	metrics    *observability.MetricsManager // optional — fetch/job counters
}

// ApplySchema creates or migrates the service tables on db.
func ApplySchema(db *sql.DB) error {
	return store.ApplySchema(db)
}

// New creates a stories Service on db. The schema must already be applied
// (see ApplySchema).
func New(db *sql.DB, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		store: store.NewStore(db),
		fetcher: hnclient.New(hnclient.Config{
			BaseURL:       cfg.Fetch.BaseURL,
			Timeout:       cfg.Fetch.Timeout(),
			MaxConcurrent: cfg.Fetch.MaxConcurrent,
			UserAgent:     cfg.Fetch.UserAgent,
		}),
		breaker:   connectivity.NewCircuitBreaker(),
		sanitizer: bluemonday.UGCPolicy(),
		validate:  newValidator(),
		logger:    logger,
		config:    cfg,
		newID:     idgen.Prefixed("job_", idgen.Default),
	}

	// Apply options.
	for _, opt := range opts {
		opt(svc)
	}

	// Own a worker pool unless a dispatcher was injected.
	if svc.dispatcher == nil {
		svc.pool = dispatch.NewPool(cfg.Worker.Workers, cfg.Worker.QueueSize, logger)
		svc.dispatcher = svc.pool
	}

	// Wire the periodic fetch. It submits through the same deduplicated
	// path as the API, so overlapping runs collapse onto the active job.
	if cfg.Schedule.Enabled {
		sink := func(ctx context.Context, runID string) error {
			return svc.scheduledFetch(ctx, runID)
		}
		svc.ticker = schedule.New(sink, schedule.Config{
			Interval:  cfg.Schedule.Interval(),
			Immediate: true,
		}, logger)
	}

	return svc, nil
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithFetcher overrides the upstream client. Use in tests with a fake source.
func WithFetcher(f Fetcher) ServiceOption {
	return func(svc *Service) { svc.fetcher = f }
}

// WithDispatcher overrides the owned worker pool. dispatch.Direct{} makes
// execution synchronous, which tests rely on.
func WithDispatcher(d dispatch.Dispatcher) ServiceOption {
	return func(svc *Service) { svc.dispatcher = d }
}

// WithEventLogger sets the business event trail (ops database).
func WithEventLogger(l *observability.EventLogger) ServiceOption {
	return func(svc *Service) { svc.events = l }
}

// WithMetrics sets the metrics sink (ops database).
func WithMetrics(m *observability.MetricsManager) ServiceOption {
	return func(svc *Service) { svc.metrics = m }
}

// WithIDGenerator overrides job ID generation.
func WithIDGenerator(gen idgen.Generator) ServiceOption {
	return func(svc *Service) { svc.newID = gen }
}

// WithBreaker overrides the upstream circuit breaker. Use in tests with an
// injectable clock.
func WithBreaker(cb *connectivity.CircuitBreaker) ServiceOption {
	return func(svc *Service) { svc.breaker = cb }
}

// Start launches the worker pool, settles jobs left over from a previous
// run, and starts the periodic fetch. Non-blocking.
func (svc *Service) Start(ctx context.Context) error {
	if svc.pool != nil {
		svc.pool.Start(ctx)
	}
	if err := svc.recoverJobs(ctx); err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	if svc.ticker != nil {
		go svc.ticker.Run(ctx)
	}
	svc.logger.Info("stories: started")
	return nil
}

// Close drains the worker pool and shuts down the service.
func (svc *Service) Close() error {
	if svc.pool != nil {
		svc.pool.Drain(drainTimeout)
	}
	svc.logger.Info("stories: closed")
	return nil
}

// Submit validates and enqueues a fetch. It returns the authoritative job
// for the request's fingerprint and whether this call created it: an
// equivalent in-flight or fresh-enough finished job is returned instead of
// a new one.
func (svc *Service) Submit(ctx context.Context, req FetchRequest) (*Job, bool, error) {
	if err := checkStruct(svc.validate, req); err != nil {
		return nil, false, err
	}
	req = normalizeRequest(req)

	job := &store.Job{
		ID:          svc.newID(),
		Fingerprint: Fingerprint(req),
		Status:      JobPending,
		MinScore:    req.MinScore,
		Keyword:     req.Keyword,
		MaxItems:    req.Limit,
		Message:     "queued",
	}

	resolved, created, err := svc.store.CreateJobIfAbsent(ctx, job, svc.config.Dedup.FreshWindow())
	if err != nil {
		return nil, false, err
	}
	if !created {
		svc.logger.Debug("stories: job reused",
			"job_id", resolved.ID, "status", resolved.Status)
		svc.recordEvent("job_reused", resolved.ID, "submit",
			fmt.Sprintf(`{"status":%q}`, resolved.Status), true)
		return resolved, false, nil
	}

	if err := svc.dispatcher.Dispatch(resolved.ID, svc.executeJob); err != nil {
		// The row exists but nothing will run it. Settle it now so the
		// fingerprint does not stay claimed.
		if ferr := svc.store.MarkJobFailed(ctx, resolved.ID, "queue full"); ferr != nil && !errors.Is(ferr, store.ErrBadTransition) {
			svc.logger.Error("stories: fail undispatched job",
				"job_id", resolved.ID, "error", ferr)
		}
		svc.recordEvent("job_rejected", resolved.ID, "submit", "", false)
		return nil, false, fmt.Errorf("%w: %v", ErrOverloaded, err)
	}

	svc.logger.Info("stories: job submitted",
		"job_id", resolved.ID, "limit", req.Limit)
	svc.recordEvent("job_submitted", resolved.ID, "submit",
		fmt.Sprintf(`{"fingerprint":%q}`, resolved.Fingerprint), true)
	return resolved, true, nil
}

// SubmitMessage describes a Submit outcome for API responses.
func SubmitMessage(job *Job, created bool) string {
	switch {
	case created:
		return "fetch scheduled"
	case job.Status == JobSucceeded:
		return "reusing recent result"
	default:
		return "fetch already in progress"
	}
}

// JobStatus returns the job with the given ID.
func (svc *Service) JobStatus(ctx context.Context, id string) (*Job, error) {
	job, err := svc.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// QueryData returns stored items matching the query.
func (svc *Service) QueryData(ctx context.Context, q DataQuery) (*ItemPage, error) {
	if err := checkStruct(svc.validate, q); err != nil {
		return nil, err
	}
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = store.OrderByScore
	}
	return svc.store.QueryItems(ctx, store.ItemQuery{
		MinScore:   q.MinScore,
		Keyword:    strings.TrimSpace(q.Keyword),
		ExternalID: q.ExternalID,
		OrderBy:    orderBy,
		OrderDesc:  q.OrderDir != "asc",
		Page:       q.Page,
		PageSize:   q.PageSize,
	})
}

// RecentJobs returns the newest jobs, most recent first.
func (svc *Service) RecentJobs(ctx context.Context, limit int) ([]*Job, error) {
	return svc.store.RecentJobs(ctx, limit)
}

// ServiceStats returns store-level counters for dashboards and tooling.
func (svc *Service) ServiceStats(ctx context.Context) (*Stats, error) {
	return svc.store.Stats(ctx)
}

// PruneItems removes items whose last fetch is older than the cutoff and
// returns how many were removed. A zero or negative duration is a no-op so
// retention can stay disabled by default.
func (svc *Service) PruneItems(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	removed, err := svc.store.DeleteItemsOlderThan(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		svc.logger.Info("stories: pruned items", "removed", removed)
		svc.recordEvent("items_pruned", "", "retention",
			fmt.Sprintf(`{"removed":%d}`, removed), true)
	}
	return removed, nil
}

// Health reports liveness of the database and the upstream circuit.
func (svc *Service) Health(ctx context.Context) Health {
	h := Health{Status: "ok", Database: "ok", Upstream: "ok"}
	if err := svc.store.DB.PingContext(ctx); err != nil {
		h.Status = "degraded"
		h.Database = "error: " + err.Error()
	}
	switch svc.breaker.State() {
	case connectivity.BreakerOpen:
		h.Status = "degraded"
		h.Upstream = "circuit open"
	case connectivity.BreakerHalfOpen:
		h.Upstream = "recovering"
	}
	return h
}

// recoverJobs settles whatever a previous process left behind: running
// jobs cannot resume (the worker died mid-flight), pending jobs can.
func (svc *Service) recoverJobs(ctx context.Context) error {
	running, err := svc.store.JobsByStatus(ctx, JobRunning, recoverBatch)
	if err != nil {
		return err
	}
	for _, job := range running {
		if err := svc.store.MarkJobFailed(ctx, job.ID, "interrupted by restart"); err != nil && !errors.Is(err, store.ErrBadTransition) {
			svc.logger.Warn("stories: fail interrupted job",
				"job_id", job.ID, "error", err)
		}
	}

	pending, err := svc.store.JobsByStatus(ctx, JobPending, recoverBatch)
	if err != nil {
		return err
	}
	redispatched := 0
	for _, job := range pending {
		if err := svc.dispatcher.Dispatch(job.ID, svc.executeJob); err != nil {
			svc.failJob(ctx, job.ID, fmt.Errorf("re-dispatch: %w", err))
			continue
		}
		redispatched++
	}

	if len(running) > 0 || len(pending) > 0 {
		svc.logger.Info("stories: recovered jobs",
			"interrupted", len(running), "redispatched", redispatched)
	}
	return nil
}

func (svc *Service) recordEvent(eventType, jobID, action, details string, success bool) {
	if svc.events == nil {
		return
	}
	svc.events.LogEvent(context.Background(), observability.BusinessEvent{
		EventType:   eventType,
		ServiceName: "hnfetch",
		EntityType:  "fetch_job",
		EntityID:    jobID,
		Action:      action,
		Details:     details,
		Success:     success,
	})
}

func (svc *Service) recordMetric(name string, value float64, unit string) {
	if svc.metrics == nil {
		return
	}
	svc.metrics.RecordSimple(name, value, unit)
}
