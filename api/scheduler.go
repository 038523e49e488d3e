/*
scheduler.go - Periodic batch scheduler

PURPOSE:
  Polls the inbox on an interval and runs the batch pipeline, so extract
  file sets dropped by the source system are processed without an
  operator calling POST /api/runs.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - A pass already in progress (e.g. started from the API) is skipped,
    not queued
  - Stop cancels the context of an in-flight pass and waits for it

CONFIGURATION:
  - CheckInterval: How often to poll (SCHEDULER_INTERVAL, default: 1 hour)
  - Enabled: Whether scheduler is active (SCHEDULER_ENABLED, default: true)

USAGE:
  scheduler := NewBatchScheduler(runner, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRun endpoint (manual run)
  - pipeline/runner.go: Runner.Run
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warp/payment-reconciler/pipeline"
	"go.uber.org/zap"
)

// BatchRunner is the part of pipeline.Runner the API uses.
type BatchRunner interface {
	Run(ctx context.Context) (*pipeline.Summary, error)
}

// BatchScheduler runs the pipeline on an interval.
type BatchScheduler struct {
	Runner        BatchRunner
	CheckInterval time.Duration
	Enabled       bool

	logger *zap.Logger
	ticker *time.Ticker
	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewBatchScheduler(runner BatchRunner, logger *zap.Logger) *BatchScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchScheduler{
		Runner:        runner,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		logger:        logger,
	}
}

// Start begins the scheduler.
func (bs *BatchScheduler) Start() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.Enabled {
		bs.logger.Info("scheduler disabled, not starting")
		return
	}
	if bs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	bs.cancel = cancel
	bs.stop = make(chan struct{})
	bs.ticker = time.NewTicker(bs.CheckInterval)
	bs.wg.Add(1)

	go bs.run(ctx)

	bs.logger.Info("scheduler started", zap.Duration("interval", bs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass to return.
func (bs *BatchScheduler) Stop() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.ticker != nil {
		bs.ticker.Stop()
		bs.cancel()
		close(bs.stop)
		bs.wg.Wait()
		bs.ticker = nil
		bs.logger.Info("scheduler stopped")
	}
}

func (bs *BatchScheduler) run(ctx context.Context) {
	defer bs.wg.Done()

	bs.RunNow(ctx)

	for {
		select {
		case <-bs.ticker.C:
			bs.RunNow(ctx)
		case <-bs.stop:
			return
		}
	}
}

// RunNow makes one pass immediately.
func (bs *BatchScheduler) RunNow(ctx context.Context) {
	summary, err := bs.Runner.Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		bs.logger.Info("scheduled run skipped, another run is in progress")
	case err != nil:
		bs.logger.Error("scheduled run failed", zap.Error(err))
	case len(summary.Runs) > 0:
		bs.logger.Info("scheduled run completed", zap.Int("batches", len(summary.Runs)))
	}
}

// NextRunTime returns when the next scheduled check will occur.
func (bs *BatchScheduler) NextRunTime() time.Time {
	return time.Now().Add(bs.CheckInterval)
}
