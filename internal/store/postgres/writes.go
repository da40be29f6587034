package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dwsmith1983/pipemedic/internal/store"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// Postgres error codes.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// UpsertPipelineRun inserts a run or updates its mutable columns.
func (s *Store) UpsertPipelineRun(ctx context.Context, run types.PipelineRun) error {
	if err := store.ValidateRun(run); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (id, repository, workflow, branch, commit_sha, status,
			conclusion, started_at, ended_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status     = EXCLUDED.status,
			conclusion = EXCLUDED.conclusion,
			commit_sha = EXCLUDED.commit_sha,
			ended_at   = EXCLUDED.ended_at,
			updated_at = EXCLUDED.updated_at
	`, run.ID, run.Repository, run.Workflow, run.Branch, run.CommitSHA, string(run.Status),
		string(run.Conclusion), run.StartedAt, run.EndedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", run.ID, err)
	}
	return nil
}

// CreateFailureRecord inserts a new failure record.
func (s *Store) CreateFailureRecord(ctx context.Context, rec types.FailureRecord) error {
	if err := store.ValidateFailureRecord(rec); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal failure metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO failure_records (id, run_id, category, message, stack_trace, severity, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.RunID, string(rec.Category), rec.Message, rec.StackTrace, string(rec.Severity),
		metaJSON, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create failure record %s: %w", rec.ID, mapError(err))
	}
	return nil
}

// CreateRemediationAttempt inserts a new attempt. The referenced failure
// record must already exist.
func (s *Store) CreateRemediationAttempt(ctx context.Context, a types.RemediationAttempt) error {
	if err := store.ValidateAttempt(a); err != nil {
		return err
	}
	changesJSON, err := json.Marshal(a.Changes)
	if err != nil {
		return fmt.Errorf("marshal attempt changes: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO remediation_attempts (id, run_id, failure_record_id, strategy, success,
			details, changes, probability, override, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.RunID, a.FailureRecordID, string(a.Strategy), a.Success, a.Details,
		changesJSON, a.Probability, a.Override, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create remediation attempt %s: %w", a.ID, mapError(err))
	}
	return nil
}

// mapError translates constraint violations into store sentinels.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", store.ErrAlreadyExists, pgErr.ConstraintName)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.ConstraintName)
	}
	return err
}
