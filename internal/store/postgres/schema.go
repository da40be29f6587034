// Package postgres implements a durable Postgres OutcomeStore.
package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
    id          TEXT PRIMARY KEY,
    repository  TEXT NOT NULL,
    workflow    TEXT NOT NULL,
    branch      TEXT NOT NULL DEFAULT '',
    commit_sha  TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    conclusion  TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ NOT NULL,
    ended_at    TIMESTAMPTZ,
    updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs (started_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_conclusion ON pipeline_runs (conclusion);

CREATE TABLE IF NOT EXISTS failure_records (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL REFERENCES pipeline_runs (id),
    category    TEXT NOT NULL,
    message     TEXT NOT NULL,
    stack_trace TEXT NOT NULL DEFAULT '',
    severity    TEXT NOT NULL,
    metadata    JSONB,
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failure_records_run_id ON failure_records (run_id);

CREATE TABLE IF NOT EXISTS remediation_attempts (
    id                TEXT PRIMARY KEY,
    run_id            TEXT NOT NULL,
    failure_record_id TEXT NOT NULL REFERENCES failure_records (id),
    strategy          TEXT NOT NULL,
    success           BOOLEAN NOT NULL,
    details           TEXT NOT NULL DEFAULT '',
    changes           JSONB,
    probability       DOUBLE PRECISION NOT NULL DEFAULT 0,
    override          BOOLEAN NOT NULL DEFAULT FALSE,
    created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_remediation_attempts_run_id ON remediation_attempts (run_id);
CREATE INDEX IF NOT EXISTS idx_remediation_attempts_created_at ON remediation_attempts (created_at);
`
