package store

import (
	"context"
	"fmt"
)

// schemaStatements is executed statement by statement because the pgx
// stdlib driver rejects multi-statement Exec calls. Migrations proper are
// out of scope; this bootstrap is idempotent and safe to run on every
// daemon start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_events (
		id              UUID PRIMARY KEY,
		idempotency_key TEXT NOT NULL UNIQUE,
		provider        TEXT NOT NULL,
		repo            TEXT NOT NULL,
		commit_sha      TEXT NOT NULL DEFAULT '',
		branch          TEXT NOT NULL DEFAULT '',
		run_id          TEXT NOT NULL,
		job_id          TEXT NOT NULL DEFAULT '',
		attempt         INTEGER NOT NULL DEFAULT 1,
		stage           TEXT NOT NULL DEFAULT '',
		failure_type    TEXT NOT NULL DEFAULT '',
		raw_payload     JSONB,
		status          TEXT NOT NULL DEFAULT 'pending',
		correlation_id  TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id          BIGSERIAL PRIMARY KEY,
		delivery_id TEXT NOT NULL UNIQUE,
		event_type  TEXT NOT NULL DEFAULT '',
		repository  TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT '',
		details     TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS fix_pipeline_runs (
		id                     UUID PRIMARY KEY,
		event_id               UUID NOT NULL UNIQUE,
		run_key                TEXT NOT NULL,
		repo                   TEXT NOT NULL,
		branch                 TEXT NOT NULL DEFAULT '',
		commit_sha             TEXT NOT NULL DEFAULT '',
		status                 TEXT NOT NULL DEFAULT 'created',
		adapter_name           TEXT NOT NULL DEFAULT '',
		attempt_count          INTEGER NOT NULL DEFAULT 0,
		retry_limit_snapshot   INTEGER NOT NULL DEFAULT 3,
		blocked_reason         TEXT NOT NULL DEFAULT '',
		error_message          TEXT NOT NULL DEFAULT '',
		automation_mode        TEXT NOT NULL DEFAULT 'auto_pr',
		manual_review_required BOOLEAN NOT NULL DEFAULT FALSE,
		last_pr_url            TEXT NOT NULL DEFAULT '',
		last_pr_number         INTEGER NOT NULL DEFAULT 0,
		last_pr_created_at     TIMESTAMPTZ,
		sbom_path              TEXT NOT NULL DEFAULT '',
		sbom_sha256            TEXT NOT NULL DEFAULT '',
		sbom_size_bytes        BIGINT NOT NULL DEFAULT 0,
		correlation_id         TEXT NOT NULL DEFAULT '',
		context                JSONB,
		detection              JSONB,
		rca                    JSONB,
		plan                   JSONB,
		plan_policy            JSONB,
		critic                 JSONB,
		issue_graph            JSONB,
		consensus              JSONB,
		patch_diff             JSONB,
		patch_stats            JSONB,
		patch_policy           JSONB,
		validation             JSONB,
		pr                     JSONB,
		merge                  JSONB,
		post_merge             JSONB,
		artifact               JSONB,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS fix_pipeline_runs_run_key_idx
		ON fix_pipeline_runs (run_key, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS fix_pipeline_runs_repo_idx
		ON fix_pipeline_runs (repo, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS github_app_installations (
		id              UUID PRIMARY KEY,
		user_id         TEXT NOT NULL,
		repo_id         TEXT NOT NULL,
		repo_full_name  TEXT NOT NULL,
		installation_id BIGINT NOT NULL UNIQUE,
		automation_mode TEXT NOT NULL DEFAULT 'auto_pr',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_id, repo_id)
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_jobs (
		id               BIGSERIAL PRIMARY KEY,
		queue            TEXT NOT NULL DEFAULT 'pipeline',
		task             TEXT NOT NULL,
		run_id           TEXT NOT NULL DEFAULT '',
		event_id         TEXT NOT NULL DEFAULT '',
		payload          JSONB,
		attempts         INTEGER NOT NULL DEFAULT 0,
		run_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
		lease_expires_at TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS pipeline_jobs_claim_idx
		ON pipeline_jobs (queue, run_at)`,
}

// EnsureSchema creates every table and index the service needs.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
