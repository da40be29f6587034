package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dwsmith1983/pipemedic/internal/store"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// GetAggregateStatistics counts failed runs and attempts in the window.
func (s *Store) GetAggregateStatistics(ctx context.Context, windowDays int) (types.AggregateStatistics, error) {
	since := store.WindowStart(time.Now(), windowDays)

	var failures, attempted, succeeded int
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM pipeline_runs WHERE conclusion = $2 AND started_at >= $1),
			(SELECT COUNT(*) FROM remediation_attempts WHERE created_at >= $1),
			(SELECT COUNT(*) FROM remediation_attempts WHERE success AND created_at >= $1)
	`, since, string(types.ConclusionFailure)).Scan(&failures, &attempted, &succeeded)
	if err != nil {
		return types.AggregateStatistics{}, fmt.Errorf("aggregate statistics: %w", err)
	}
	return store.NewStatistics(windowDays, failures, attempted, succeeded), nil
}

// GetRunHistory returns a run with its records and attempts, oldest first.
func (s *Store) GetRunHistory(ctx context.Context, runID string) (*types.RunHistory, error) {
	h := &types.RunHistory{
		Failures: []types.FailureRecord{},
		Attempts: []types.RemediationAttempt{},
	}

	var status, conclusion string
	err := s.pool.QueryRow(ctx, `
		SELECT id, repository, workflow, branch, commit_sha, status, conclusion,
			started_at, ended_at, updated_at
		FROM pipeline_runs WHERE id = $1
	`, runID).Scan(&h.Run.ID, &h.Run.Repository, &h.Run.Workflow, &h.Run.Branch, &h.Run.CommitSHA,
		&status, &conclusion, &h.Run.StartedAt, &h.Run.EndedAt, &h.Run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	h.Run.Status = types.RunStatus(status)
	h.Run.Conclusion = types.RunConclusion(conclusion)

	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, category, message, stack_trace, severity, metadata, created_at
		FROM failure_records WHERE run_id = $1 ORDER BY created_at, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list failure records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f types.FailureRecord
		var category, severity string
		var metaJSON []byte
		if err := rows.Scan(&f.ID, &f.RunID, &category, &f.Message, &f.StackTrace, &severity, &metaJSON, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan failure record: %w", err)
		}
		f.Category = types.FailureCategory(category)
		f.Severity = types.Severity(severity)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &f.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal failure metadata: %w", err)
			}
		}
		h.Failures = append(h.Failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, run_id, failure_record_id, strategy, success, details, changes,
			probability, override, created_at
		FROM remediation_attempts WHERE run_id = $1 ORDER BY created_at, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list remediation attempts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a types.RemediationAttempt
		var strategy string
		var changesJSON []byte
		if err := rows.Scan(&a.ID, &a.RunID, &a.FailureRecordID, &strategy, &a.Success, &a.Details,
			&changesJSON, &a.Probability, &a.Override, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan remediation attempt: %w", err)
		}
		a.Strategy = types.StrategyID(strategy)
		if len(changesJSON) > 0 {
			if err := json.Unmarshal(changesJSON, &a.Changes); err != nil {
				return nil, fmt.Errorf("unmarshal attempt changes: %w", err)
			}
		}
		h.Attempts = append(h.Attempts, a)
	}
	return h, rows.Err()
}
