// Package schedule triggers periodic background fetches.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/hnfetch/idgen"
)

// Sink receives one scheduled run. The run ID ties together the log lines
// of a single trigger; the sink decides what a run actually fetches.
type Sink func(ctx context.Context, runID string) error

// Config configures the ticker.
type Config struct {
	// Interval between runs. Default: 30 minutes.
	Interval time.Duration
	// Immediate fires one run as soon as Run starts, so a fresh
	// deployment does not sit empty until the first tick.
	Immediate bool
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Minute
	}
}

// Ticker drives the sink on a fixed interval.
type Ticker struct {
	sink     Sink
	config   Config
	logger   *slog.Logger
	newRunID func() string
}

// New creates a Ticker.
func New(sink Sink, cfg Config, logger *slog.Logger) *Ticker {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Ticker{
		sink:     sink,
		config:   cfg,
		logger:   logger,
		newRunID: idgen.Timestamped(idgen.NanoID(6)),
	}
}

// Run fires the sink on a ticker. Blocks until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	if t.config.Immediate {
		t.runOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runOnce(ctx)
		}
	}
}

func (t *Ticker) runOnce(ctx context.Context) {
	runID := t.newRunID()
	if err := t.sink(ctx, runID); err != nil {
		t.logger.Warn("schedule: run failed", "run_id", runID, "error", err)
		return
	}
	t.logger.Debug("schedule: run complete", "run_id", runID)
}
