/*
runner.go - Batch pipeline orchestration

PURPOSE:
  Drives one pass over the inbox: every complete file set is fingerprinted,
  processed in a single transaction, archived, post-processed and flushed to
  the writeback sink. Each pass over a file set leaves a BatchRun row.

ORDER PER FILE SET:
  1. Fingerprint. Same file set already committed -> archive as processed,
     run "skipped"
  2. Read the four streams
  3. Service.ProcessExtract (one transaction; rollback on any Go error)
  4. Move files to processed/ (or error/ when 2 or 3 failed)
  5. Service.PostProcess (max weekly benefit cap)
  6. Service.FlushWriteback

FAILURE:
  A failed file set does not stop the pass; the next set is still tried.
  A sink failure is recorded on the run but the batch stays committed;
  undelivered entries remain pending for the next pass.

SEE ALSO:
  - payments/extract.go: ProcessExtract
  - extract/: Discover, Read, Fingerprint, Archiver
  - api/scheduler.go: Calls Run on an interval
*/
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/payment-reconciler/extract"
	"github.com/warp/payment-reconciler/payments"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when a pass is already running.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// RunReport is the JSON document stored on each BatchRun.
type RunReport struct {
	Batch          *payments.BatchReport       `json:"batch,omitempty"`
	PostProcess    *payments.PostProcessReport `json:"post_process,omitempty"`
	Writeback      *payments.FlushReport       `json:"writeback,omitempty"`
	WritebackError string                      `json:"writeback_error,omitempty"`
	ArchivedTo     string                      `json:"archived_to,omitempty"`
}

// Summary describes one pass over the inbox.
type Summary struct {
	Runs       []payments.BatchRun   `json:"runs"`
	Incomplete []string              `json:"incomplete"`
	Writeback  *payments.FlushReport `json:"writeback,omitempty"` // pass with no new batches
}

// Runner processes file sets found in InboxDir.
type Runner struct {
	InboxDir string

	service  *payments.Service
	source   extract.Source
	archiver *extract.Archiver
	runs     payments.RunLog
	sink     payments.WritebackSink
	logger   *zap.Logger

	Now   func() time.Time
	NewID func() string

	mu sync.Mutex
}

func NewRunner(inboxDir string, service *payments.Service, source extract.Source, archiver *extract.Archiver, runs payments.RunLog, sink payments.WritebackSink, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		InboxDir: inboxDir,
		service:  service,
		source:   source,
		archiver: archiver,
		runs:     runs,
		sink:     sink,
		logger:   logger,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// Run makes one pass over the inbox. Only one pass runs at a time.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if !r.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.mu.Unlock()

	found, err := extract.Discover(r.InboxDir)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Runs: []payments.BatchRun{}, Incomplete: found.Incomplete}
	for _, ts := range found.Incomplete {
		r.logger.Warn("skipping incomplete file set", zap.String("timestamp", ts))
	}

	for _, set := range found.Complete {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		run, err := r.runBatch(ctx, set)
		if err != nil {
			return summary, err
		}
		summary.Runs = append(summary.Runs, *run)
	}

	// Nothing new arrived: retry whatever an earlier pass failed to deliver.
	if len(found.Complete) == 0 {
		flushed, err := r.service.FlushWriteback(ctx, r.sink)
		summary.Writeback = flushed
		if err != nil {
			r.logger.Warn("writeback retry failed", zap.Error(err))
		}
	}
	return summary, nil
}

// runBatch processes one file set. The returned error is reserved for
// failures to record the run itself; batch failures end up on the run.
func (r *Runner) runBatch(ctx context.Context, set extract.FileSet) (*payments.BatchRun, error) {
	run := &payments.BatchRun{
		ID:             r.NewID(),
		BatchTimestamp: set.Timestamp,
		Status:         payments.RunRunning,
		StartedAt:      r.Now().UTC(),
	}
	logger := r.logger.With(zap.String("run", run.ID), zap.String("timestamp", set.Timestamp))
	report := &RunReport{}

	fingerprint, err := extract.Fingerprint(set)
	if err != nil {
		return r.finish(ctx, run, report, payments.RunFailed, err, logger)
	}
	run.Fingerprint = fingerprint
	if err := r.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}

	existing, err := r.service.Repository().FindBatchByFingerprint(ctx, fingerprint)
	if err != nil {
		return r.finish(ctx, run, report, payments.RunFailed, err, logger)
	}
	if existing != nil {
		logger.Info("file set already committed", zap.String("batch", existing.ID))
		archived, err := r.archiver.MoveProcessed(set)
		if err != nil {
			return r.finish(ctx, run, report, payments.RunFailed, err, logger)
		}
		report.ArchivedTo = archived.Dir
		return r.finish(ctx, run, report, payments.RunSkipped, nil, logger)
	}

	streams, err := r.source.Read(set)
	if err == nil {
		batch := &payments.Batch{Timestamp: set.Timestamp, Fingerprint: fingerprint}
		report.Batch, err = r.service.ProcessExtract(ctx, batch, streams)
	}
	if err != nil {
		report.Batch = nil
		if archived, moveErr := r.archiver.MoveErrored(set); moveErr != nil {
			logger.Error("failed to move file set to error directory", zap.Error(moveErr))
		} else {
			report.ArchivedTo = archived.Dir
		}
		return r.finish(ctx, run, report, payments.RunFailed, err, logger)
	}

	// Committed. A failed move is retried by the next pass, which will see
	// the fingerprint and only archive.
	if archived, err := r.archiver.MoveProcessed(set); err != nil {
		logger.Error("failed to move file set to processed directory", zap.Error(err))
	} else {
		report.ArchivedTo = archived.Dir
	}

	report.PostProcess, err = r.service.PostProcess(ctx)
	if err != nil {
		return r.finish(ctx, run, report, payments.RunFailed, fmt.Errorf("post-process: %w", err), logger)
	}

	report.Writeback, err = r.service.FlushWriteback(ctx, r.sink)
	if err != nil {
		report.WritebackError = err.Error()
		logger.Warn("writeback delivery incomplete", zap.Error(err))
	}
	return r.finish(ctx, run, report, payments.RunCompleted, nil, logger)
}

func (r *Runner) finish(ctx context.Context, run *payments.BatchRun, report *RunReport, status payments.RunStatus, cause error, logger *zap.Logger) (*payments.BatchRun, error) {
	finished := r.Now().UTC()
	run.Status = status
	run.FinishedAt = &finished
	if cause != nil {
		run.Error = cause.Error()
	}

	body, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal run report: %w", err)
	}
	run.Report = body

	if err := r.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}

	fields := []zap.Field{zap.String("status", string(status)), zap.ByteString("report", body)}
	if cause != nil {
		logger.Error("batch run failed", append(fields, zap.Error(cause))...)
	} else {
		logger.Info("batch run finished", fields...)
	}
	return run, nil
}
