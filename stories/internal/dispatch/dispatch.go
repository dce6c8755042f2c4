// Package dispatch decouples job submission from job execution.
//
// The coordinator never runs a fetch inline: it hands the job ID and an
// execute function to a Dispatcher and returns. The production Dispatcher
// is an in-process pool; tests swap in Direct to run synchronously.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned when the pool's backlog is saturated.
	ErrQueueFull = errors.New("dispatch: queue full")
	// ErrStopped is returned after Drain has been called.
	ErrStopped = errors.New("dispatch: pool stopped")
)

// ExecuteFunc runs one job to completion. Implementations own all status
// transitions for the job; Dispatch only guarantees the call happens.
type ExecuteFunc func(ctx context.Context, jobID string)

// Dispatcher hands a job to an executor without blocking the caller.
type Dispatcher interface {
	Dispatch(jobID string, fn ExecuteFunc) error
}

// Direct runs the function synchronously on the calling goroutine.
// Test harnesses use it to make job completion deterministic.
type Direct struct{}

func (Direct) Dispatch(jobID string, fn ExecuteFunc) error {
	fn(context.Background(), jobID)
	return nil
}

// Pool is a fixed-size worker pool with a bounded queue.
type Pool struct {
	queue   chan task
	workers int
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

type task struct {
	jobID string
	fn    ExecuteFunc
}

// NewPool creates a pool with the given worker count and queue capacity.
// Zero or negative values fall back to 4 workers and a queue of 64.
func NewPool(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:   make(chan task, queueSize),
		workers: workers,
		logger:  logger,
	}
}

// Start launches the workers. Execution contexts derive from ctx, so
// cancelling it aborts in-flight jobs.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("dispatch pool started", "workers", p.workers, "queue", cap(p.queue))
}

func (p *Pool) worker(ctx context.Context, n int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.logger.Debug("job picked up", "worker", n, "job_id", t.jobID)
			t.fn(ctx, t.jobID)
		}
	}
}

// Dispatch enqueues the job. It never blocks: a saturated queue returns
// ErrQueueFull so the caller can fail the job instead of stalling submits.
func (p *Pool) Dispatch(jobID string, fn ExecuteFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- task{jobID: jobID, fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Drain stops intake and waits up to timeout for queued and in-flight
// jobs to finish.
func (p *Pool) Drain(timeout time.Duration) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("dispatch pool drained")
	case <-time.After(timeout):
		p.logger.Warn("dispatch pool drain timed out", "timeout", timeout)
	}
}
