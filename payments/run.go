package payments

import (
	"context"
	"encoding/json"
	"time"
)

// =============================================================================
// BATCH RUN LOG
// =============================================================================
// Runs are written outside the batch transaction so a failed, rolled-back
// batch still leaves a visible record.

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunSkipped   RunStatus = "skipped" // fingerprint already committed
	RunFailed    RunStatus = "failed"
)

type BatchRun struct {
	ID             string
	BatchTimestamp string
	Fingerprint    string
	Status         RunStatus
	Report         json.RawMessage
	Error          string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// RunLog persists batch runs. SaveRun inserts or updates by ID.
type RunLog interface {
	SaveRun(ctx context.Context, run *BatchRun) error
	ListRuns(ctx context.Context, limit int) ([]BatchRun, error)
}

// MaxWeeklyBenefitStore persists the effective-dated cap table.
type MaxWeeklyBenefitStore interface {
	SaveMaxWeeklyBenefitAmounts(ctx context.Context, amounts []MaxWeeklyBenefitAmount) error
	ListMaxWeeklyBenefitAmounts(ctx context.Context) ([]MaxWeeklyBenefitAmount, error)
}
