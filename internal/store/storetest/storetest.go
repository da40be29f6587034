// Package storetest provides shared conformance tests for store.OutcomeStore
// implementations. Call RunAll from a test function with a factory that
// returns an empty, started store.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/pipemedic/internal/store"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.OutcomeStore

// RunAll runs the complete OutcomeStore conformance suite as subtests.
func RunAll(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("RunUpsert", func(t *testing.T) { TestRunUpsert(t, newStore(t)) })
	t.Run("HistoryNotFound", func(t *testing.T) { TestHistoryNotFound(t, newStore(t)) })
	t.Run("FailureThenAttempt", func(t *testing.T) { TestFailureThenAttempt(t, newStore(t)) })
	t.Run("DuplicateFailure", func(t *testing.T) { TestDuplicateFailure(t, newStore(t)) })
	t.Run("AttemptRequiresFailure", func(t *testing.T) { TestAttemptRequiresFailure(t, newStore(t)) })
	t.Run("Statistics", func(t *testing.T) { TestStatistics(t, newStore(t)) })
	t.Run("StatisticsEmpty", func(t *testing.T) { TestStatisticsEmpty(t, newStore(t)) })
}

// Run builds a pipeline run started at the given time.
func Run(id string, conclusion types.RunConclusion, startedAt time.Time) types.PipelineRun {
	ended := startedAt.Add(5 * time.Minute)
	return types.PipelineRun{
		ID:         id,
		Repository: "acme/shop",
		Workflow:   "CI",
		Branch:     "main",
		CommitSHA:  "0123456789abcdef0123456789abcdef01234567",
		Status:     types.RunCompleted,
		Conclusion: conclusion,
		StartedAt:  startedAt.UTC().Truncate(time.Millisecond),
		EndedAt:    &ended,
		UpdatedAt:  ended.UTC().Truncate(time.Millisecond),
	}
}

// Failure builds a failure record for runID.
func Failure(id, runID string, createdAt time.Time) types.FailureRecord {
	return types.FailureRecord{
		ID:        id,
		RunID:     runID,
		Category:  types.CategoryMissingDependency,
		Message:   "ModuleNotFoundError: No module named 'pandas'",
		Severity:  types.SeverityHigh,
		Metadata:  map[string]string{"package": "pandas"},
		CreatedAt: createdAt.UTC().Truncate(time.Millisecond),
	}
}

// Attempt builds a remediation attempt for a failure record.
func Attempt(id string, f types.FailureRecord, success bool, createdAt time.Time) types.RemediationAttempt {
	return types.RemediationAttempt{
		ID:              id,
		RunID:           f.RunID,
		FailureRecordID: f.ID,
		Strategy:        types.StrategyAddToManifest,
		Success:         success,
		Details:         "Added pandas to requirements.txt",
		Changes:         []string{"requirements.txt: +pandas"},
		Probability:     0.82,
		CreatedAt:       createdAt.UTC().Truncate(time.Millisecond),
	}
}

// TestRunUpsert verifies a second upsert replaces the first.
func TestRunUpsert(t *testing.T, s store.OutcomeStore) {
	ctx := context.Background()
	now := time.Now()

	run := Run("ct-upsert", "", now)
	run.Status = types.RunInProgress
	require.NoError(t, s.UpsertPipelineRun(ctx, run))

	run = Run("ct-upsert", types.ConclusionFailure, now)
	require.NoError(t, s.UpsertPipelineRun(ctx, run))

	h, err := s.GetRunHistory(ctx, "ct-upsert")
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, h.Run.Status)
	assert.Equal(t, types.ConclusionFailure, h.Run.Conclusion)
	assert.Equal(t, "acme/shop", h.Run.Repository)
	assert.Empty(t, h.Failures)
	assert.Empty(t, h.Attempts)

	assert.Error(t, s.UpsertPipelineRun(ctx, types.PipelineRun{}))
}

// TestHistoryNotFound verifies unknown runs report ErrNotFound.
func TestHistoryNotFound(t *testing.T, s store.OutcomeStore) {
	_, err := s.GetRunHistory(context.Background(), "ct-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// TestFailureThenAttempt verifies records and attempts come back with the run.
func TestFailureThenAttempt(t *testing.T, s store.OutcomeStore) {
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.UpsertPipelineRun(ctx, Run("ct-hist", types.ConclusionFailure, now)))
	f1 := Failure("ct-f1", "ct-hist", now)
	f2 := Failure("ct-f2", "ct-hist", now.Add(time.Second))
	require.NoError(t, s.CreateFailureRecord(ctx, f1))
	require.NoError(t, s.CreateFailureRecord(ctx, f2))
	require.NoError(t, s.CreateRemediationAttempt(ctx, Attempt("ct-a1", f1, true, now.Add(2*time.Second))))

	h, err := s.GetRunHistory(ctx, "ct-hist")
	require.NoError(t, err)
	require.Len(t, h.Failures, 2)
	assert.Equal(t, "ct-f1", h.Failures[0].ID)
	assert.Equal(t, "ct-f2", h.Failures[1].ID)
	assert.Equal(t, "pandas", h.Failures[0].Metadata["package"])
	assert.Equal(t, types.SeverityHigh, h.Failures[0].Severity)

	require.Len(t, h.Attempts, 1)
	a := h.Attempts[0]
	assert.Equal(t, "ct-f1", a.FailureRecordID)
	assert.True(t, a.Success)
	assert.Equal(t, []string{"requirements.txt: +pandas"}, a.Changes)
	assert.InDelta(t, 0.82, a.Probability, 1e-9)
}

// TestDuplicateFailure verifies failure records are never overwritten.
func TestDuplicateFailure(t *testing.T, s store.OutcomeStore) {
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.UpsertPipelineRun(ctx, Run("ct-dup", types.ConclusionFailure, now)))
	f := Failure("ct-dup-f", "ct-dup", now)
	require.NoError(t, s.CreateFailureRecord(ctx, f))

	f.Message = "changed"
	err := s.CreateFailureRecord(ctx, f)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	h, err := s.GetRunHistory(ctx, "ct-dup")
	require.NoError(t, err)
	require.Len(t, h.Failures, 1)
	assert.NotEqual(t, "changed", h.Failures[0].Message)
}

// TestAttemptRequiresFailure verifies an attempt cannot precede its record.
func TestAttemptRequiresFailure(t *testing.T, s store.OutcomeStore) {
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.UpsertPipelineRun(ctx, Run("ct-orphan", types.ConclusionFailure, now)))
	orphan := Attempt("ct-orphan-a", types.FailureRecord{ID: "ct-no-such-failure", RunID: "ct-orphan"}, true, now)

	err := s.CreateRemediationAttempt(ctx, orphan)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// TestStatistics verifies windowed counts and the success rate.
func TestStatistics(t *testing.T, s store.OutcomeStore) {
	ctx := context.Background()
	now := time.Now()
	old := now.Add(-40 * 24 * time.Hour)

	var fails []types.FailureRecord
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("ct-stat-%d", i)
		require.NoError(t, s.UpsertPipelineRun(ctx, Run(id, types.ConclusionFailure, now.Add(-time.Duration(i)*time.Hour))))
		f := Failure(id+"-f", id, now)
		require.NoError(t, s.CreateFailureRecord(ctx, f))
		fails = append(fails, f)
	}
	require.NoError(t, s.UpsertPipelineRun(ctx, Run("ct-stat-ok", types.ConclusionSuccess, now)))
	require.NoError(t, s.UpsertPipelineRun(ctx, Run("ct-stat-old", types.ConclusionFailure, old)))
	oldFailure := Failure("ct-stat-old-f", "ct-stat-old", old)
	require.NoError(t, s.CreateFailureRecord(ctx, oldFailure))

	require.NoError(t, s.CreateRemediationAttempt(ctx, Attempt("ct-stat-a0", fails[0], true, now)))
	require.NoError(t, s.CreateRemediationAttempt(ctx, Attempt("ct-stat-a1", fails[1], true, now)))
	require.NoError(t, s.CreateRemediationAttempt(ctx, Attempt("ct-stat-a2", fails[2], false, now)))
	require.NoError(t, s.CreateRemediationAttempt(ctx, Attempt("ct-stat-a3", oldFailure, false, old)))

	stats, err := s.GetAggregateStatistics(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 30, stats.WindowDays)
	assert.Equal(t, 3, stats.TotalFailures)
	assert.Equal(t, 3, stats.Attempted)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 66.67, stats.SuccessRate)

	stats, err = s.GetAggregateStatistics(ctx, 60)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalFailures)
	assert.Equal(t, 4, stats.Attempted)
	assert.Equal(t, 50.0, stats.SuccessRate)

	stats, err = s.GetAggregateStatistics(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultWindowDays, stats.WindowDays)
	assert.Equal(t, 3, stats.TotalFailures)
}

// TestStatisticsEmpty verifies an empty store reports a zero success rate.
func TestStatisticsEmpty(t *testing.T, s store.OutcomeStore) {
	stats, err := s.GetAggregateStatistics(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, types.AggregateStatistics{WindowDays: 7}, stats)
}
