package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migrations are idempotent DDL statements executed in order at startup.
//
// The partial unique index on job_executions is the claim guard: inserting a
// pending execution while another pending or running one exists for the same
// job violates the index, which serializes concurrent claims inside Postgres.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS crawl_jobs (
		id UUID PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		spider_name VARCHAR(50) NOT NULL,
		start_urls TEXT[] NOT NULL,
		schedule_kind VARCHAR(20) NOT NULL DEFAULT 'manual',
		cron_expression VARCHAR(100),
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		next_run_at TIMESTAMPTZ,
		run_requested_at TIMESTAMPTZ,
		error_message TEXT,
		max_retries INT NOT NULL DEFAULT 3,
		retry_backoff_seconds INT NOT NULL DEFAULT 60,
		current_retry_count INT NOT NULL DEFAULT 0,
		config JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT crawl_jobs_cron_expression_chk
			CHECK ((schedule_kind = 'cron') = (cron_expression IS NOT NULL))
	)`,

	`CREATE INDEX IF NOT EXISTS crawl_jobs_next_run_idx
		ON crawl_jobs (next_run_at)
		WHERE schedule_kind = 'cron' AND next_run_at IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS job_executions (
		id UUID PRIMARY KEY,
		job_id UUID NOT NULL REFERENCES crawl_jobs(id) ON DELETE CASCADE,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		items_scraped INT NOT NULL DEFAULT 0,
		error_message TEXT,
		result JSONB NOT NULL DEFAULT '{}',
		retry_attempt INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS job_executions_active_idx
		ON job_executions (job_id)
		WHERE status IN ('pending', 'running')`,

	`CREATE INDEX IF NOT EXISTS job_executions_job_created_idx
		ON job_executions (job_id, created_at DESC)`,
}

// Migrate applies the schema to the connected database.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
