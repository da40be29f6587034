// Package tracker implements the polling loop that feeds observed pipeline
// runs to the healing engine.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/pipemedic/internal/engine"
	"github.com/dwsmith1983/pipemedic/internal/metrics"
	"github.com/dwsmith1983/pipemedic/internal/scm"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultPollInterval = 20 * time.Second
	DefaultPageSize     = 30
)

// Processor runs one processing pass for an observed run.
type Processor interface {
	Process(ctx context.Context, run types.RunSummary) (engine.Result, error)
}

// Config tunes the polling loop.
type Config struct {
	PollInterval time.Duration
	PageSize     int
	// Workers > 1 processes the runs of one poll concurrently. Remediation is
	// still serialised per branch by the dispatcher.
	Workers int
}

// Tracker periodically lists recent runs and processes each new observation
// at most once.
type Tracker struct {
	client    scm.Client
	processor Processor
	dedup     Deduper
	metrics   metrics.Sink
	logger    *slog.Logger
	config    Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Tracker.
func New(client scm.Client, proc Processor, dedup Deduper, sink metrics.Sink, logger *slog.Logger, cfg Config) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Tracker{
		client:    client,
		processor: proc,
		dedup:     dedup,
		metrics:   sink,
		logger:    logger,
		config:    cfg,
	}
}

// Start begins the polling loop in the background.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.logger.Info("tracker started", "interval", t.config.PollInterval, "workers", t.config.Workers)

		ticker := time.NewTicker(t.config.PollInterval)
		defer ticker.Stop()

		// Run immediately on start
		t.guardedPoll(ctx)

		for {
			select {
			case <-ctx.Done():
				t.logger.Info("tracker stopping")
				return
			case <-ticker.C:
				t.guardedPoll(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the current cycle to finish, or for
// ctx to expire.
func (t *Tracker) Stop(ctx context.Context) {
	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("tracker stopped")
	case <-ctx.Done():
		t.logger.Warn("tracker stop timed out")
	}
}

// Cycle summarises one poll.
type Cycle struct {
	Listed     int
	Duplicates int
	Processed  int
	Failed     int
	Errors     int
}

// guardedPoll keeps the loop alive across any panic in a cycle.
func (t *Tracker) guardedPoll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.PollError()
			t.logger.Error("poll cycle panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	if _, err := t.Poll(ctx); err != nil {
		t.logger.Error("poll cycle failed", "error", err)
	}
}

// Poll runs a single cycle: list recent runs, drop already-seen
// observations and process the rest.
func (t *Tracker) Poll(ctx context.Context) (Cycle, error) {
	start := time.Now()
	defer func() { t.metrics.PollDuration(time.Since(start)) }()

	runs, err := t.client.ListRecentRuns(ctx, scm.RunFilter{PerPage: t.config.PageSize})
	if err != nil {
		t.metrics.PollError()
		return Cycle{}, fmt.Errorf("listing recent runs: %w", err)
	}

	var (
		mu    sync.Mutex
		cycle = Cycle{Listed: len(runs)}
	)
	record := func(fn func(c *Cycle)) {
		mu.Lock()
		defer mu.Unlock()
		fn(&cycle)
	}

	var g errgroup.Group
	g.SetLimit(t.config.Workers)
	for _, run := range runs {
		if ctx.Err() != nil {
			break
		}
		seen, err := t.dedup.MarkSeen(ctx, Key(run))
		if err != nil {
			// Without a dedup answer the run could be handled twice; leave
			// it for the next poll.
			t.logger.Error("dedup check failed", "runID", run.ID, "error", err)
			record(func(c *Cycle) { c.Errors++ })
			continue
		}
		if seen {
			t.logger.Debug("skipping already seen run", "runID", run.ID, "status", run.Status)
			record(func(c *Cycle) { c.Duplicates++ })
			continue
		}

		g.Go(func() error {
			failed, ok := t.processRun(ctx, run)
			record(func(c *Cycle) {
				c.Processed++
				if failed {
					c.Failed++
				}
				if !ok {
					c.Errors++
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	if cycle.Processed > 0 || cycle.Errors > 0 {
		t.logger.Info("poll complete", "listed", cycle.Listed, "processed", cycle.Processed,
			"failed", cycle.Failed, "duplicates", cycle.Duplicates, "errors", cycle.Errors)
	}
	return cycle, nil
}

// processRun handles one new observation. A panic or error is logged and
// contained to this run.
func (t *Tracker) processRun(ctx context.Context, run types.RunSummary) (failed, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("run processing panicked", "runID", run.ID, "panic", r, "stack", string(debug.Stack()))
			ok = false
		}
	}()

	t.metrics.RunObserved()
	if run.Status == types.RunCompleted && run.Conclusion == types.ConclusionSuccess {
		t.metrics.RunSucceeded()
	}

	res, err := t.processor.Process(ctx, run)
	if err != nil {
		t.logger.Error("run processing failed", "runID", run.ID, "workflow", run.Name, "state", res.State, "error", err)
		return run.Failed(), false
	}
	if res.State != "" {
		t.logger.Info("run processed", "runID", run.ID, "workflow", run.Name, "state", res.State)
	}
	return run.Failed(), true
}
