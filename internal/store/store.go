// Package store defines the OutcomeStore contract that persists observed
// runs, failure records and remediation attempts.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// Sentinel errors shared by every backend.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// DefaultWindowDays is the statistics window used when none is given.
const DefaultWindowDays = 30

// OutcomeStore persists healing outcomes. Failure records and attempts are
// append-only; a remediation attempt can only reference a failure record
// that was stored first.
type OutcomeStore interface {
	UpsertPipelineRun(ctx context.Context, run types.PipelineRun) error
	CreateFailureRecord(ctx context.Context, rec types.FailureRecord) error
	CreateRemediationAttempt(ctx context.Context, attempt types.RemediationAttempt) error
	GetAggregateStatistics(ctx context.Context, windowDays int) (types.AggregateStatistics, error)
	GetRunHistory(ctx context.Context, runID string) (*types.RunHistory, error)

	// Lifecycle
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}

// ValidateRun rejects runs that cannot be keyed.
func ValidateRun(run types.PipelineRun) error {
	if run.ID == "" {
		return errors.New("pipeline run: id is required")
	}
	return nil
}

// ValidateFailureRecord rejects records that cannot be keyed or linked.
func ValidateFailureRecord(rec types.FailureRecord) error {
	if rec.ID == "" || rec.RunID == "" {
		return fmt.Errorf("failure record %q: id and run id are required", rec.ID)
	}
	return nil
}

// ValidateAttempt rejects attempts that cannot be keyed or linked.
func ValidateAttempt(a types.RemediationAttempt) error {
	if a.ID == "" || a.FailureRecordID == "" {
		return fmt.Errorf("remediation attempt %q: id and failure record id are required", a.ID)
	}
	return nil
}

// WindowDays normalises a requested statistics window.
func WindowDays(days int) int {
	if days <= 0 {
		return DefaultWindowDays
	}
	return days
}

// WindowStart returns the earliest instant included in a window of days ending at now.
func WindowStart(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(WindowDays(days)) * 24 * time.Hour)
}

// NewStatistics assembles AggregateStatistics from raw counts.
func NewStatistics(windowDays, totalFailures, attempted, succeeded int) types.AggregateStatistics {
	return types.AggregateStatistics{
		WindowDays:    WindowDays(windowDays),
		TotalFailures: totalFailures,
		Attempted:     attempted,
		Succeeded:     succeeded,
		SuccessRate:   SuccessRate(succeeded, attempted),
	}
}

// SuccessRate returns succeeded/attempted as a percentage rounded to two
// decimals, or 0 when nothing was attempted.
func SuccessRate(succeeded, attempted int) float64 {
	if attempted <= 0 {
		return 0
	}
	return math.Round(float64(succeeded)/float64(attempted)*10000) / 100
}
