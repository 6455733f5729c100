package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/inmobiliario/crawlsched/internal/domain"
)

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("job not found")

// jobColumns is the column list shared by all job SELECT queries.
const jobColumns = `id, name, spider_name, start_urls, schedule_kind, cron_expression,
	       status, next_run_at, run_requested_at, error_message,
	       max_retries, retry_backoff_seconds, current_retry_count,
	       config, created_at, updated_at`

// JobRepository handles database operations for crawl jobs.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job into the database.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO crawl_jobs (
			id, name, spider_name, start_urls, schedule_kind, cron_expression,
			status, next_run_at, max_retries, retry_backoff_seconds, config
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		job.ID,
		job.Name,
		job.SpiderName,
		job.StartURLs,
		job.ScheduleKind,
		job.CronExpression,
		job.Status,
		job.NextRunAt,
		job.MaxRetries,
		job.RetryBackoffSeconds,
		&job.Config,
	).Scan(&job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM crawl_jobs WHERE id = $1`

	err := r.db.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// List retrieves all jobs with optional status filtering.
func (r *JobRepository) List(ctx context.Context, status string, limit, offset int) ([]*domain.Job, error) {
	var jobs []*domain.Job
	var query string
	var args []any

	if status != "" {
		query = `SELECT ` + jobColumns + `
			FROM crawl_jobs
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`
		args = []any{status, limit, offset}
	} else {
		query = `SELECT ` + jobColumns + `
			FROM crawl_jobs
			ORDER BY created_at DESC
			LIMIT $1 OFFSET $2`
		args = []any{limit, offset}
	}

	err := r.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	if jobs == nil {
		jobs = []*domain.Job{}
	}

	return jobs, nil
}

// Update updates an existing job.
func (r *JobRepository) Update(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE crawl_jobs
		SET name = $1, spider_name = $2, start_urls = $3, schedule_kind = $4,
		    cron_expression = $5, status = $6, next_run_at = $7,
		    run_requested_at = $8, error_message = $9,
		    max_retries = $10, retry_backoff_seconds = $11, current_retry_count = $12,
		    config = $13, updated_at = now()
		WHERE id = $14
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		job.Name,
		job.SpiderName,
		job.StartURLs,
		job.ScheduleKind,
		job.CronExpression,
		job.Status,
		job.NextRunAt,
		job.RunRequestedAt,
		job.ErrorMessage,
		job.MaxRetries,
		job.RetryBackoffSeconds,
		job.CurrentRetryCount,
		&job.Config,
		job.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return r.requireRow(result, job.ID)
}

// Delete removes a job from the database. Its executions cascade.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM crawl_jobs WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return r.requireRow(result, id)
}

// DueJobs returns the jobs eligible for dispatch at the given instant:
// cron jobs whose next_run_at has arrived, plus manual jobs with a pending
// run request. Ordered earliest-due first, lower id first on ties.
func (r *JobRepository) DueJobs(ctx context.Context, now time.Time) ([]*domain.Job, error) {
	var jobs []*domain.Job
	query := `SELECT ` + jobColumns + `
		FROM crawl_jobs
		WHERE status NOT IN ('running', 'disabled')
		  AND (
		        (schedule_kind = 'cron' AND next_run_at IS NOT NULL AND next_run_at <= $1)
		     OR (schedule_kind = 'manual' AND run_requested_at IS NOT NULL)
		  )
		ORDER BY next_run_at ASC NULLS LAST, id ASC`

	err := r.db.SelectContext(ctx, &jobs, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}

	if jobs == nil {
		jobs = []*domain.Job{}
	}

	return jobs, nil
}

// MarkDispatched records that a due job has been handed to the coordinator.
// It persists the recomputed next_run_at and clears any pending run request
// in one statement, before dispatch completes, so a slow coordinator cannot
// cause the job to be returned as due twice.
func (r *JobRepository) MarkDispatched(ctx context.Context, id string, nextRun *time.Time) error {
	query := `
		UPDATE crawl_jobs
		SET next_run_at = $1, run_requested_at = NULL, updated_at = now()
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, nextRun, id)
	if err != nil {
		return fmt.Errorf("failed to mark job dispatched: %w", err)
	}

	return r.requireRow(result, id)
}

// RequestRun records an external run-now request for a manual job.
func (r *JobRepository) RequestRun(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE crawl_jobs
		SET run_requested_at = $1, updated_at = now()
		WHERE id = $2 AND status NOT IN ('disabled')
	`

	result, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to request run: %w", err)
	}

	return r.requireRow(result, id)
}

// Disable marks a job disabled and nulls its next_run_at, recording the
// reason for operator attention. Used for unparseable cron expressions.
func (r *JobRepository) Disable(ctx context.Context, id, reason string) error {
	query := `
		UPDATE crawl_jobs
		SET status = 'disabled', next_run_at = NULL, error_message = $1, updated_at = now()
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, reason, id)
	if err != nil {
		return fmt.Errorf("failed to disable job: %w", err)
	}

	return r.requireRow(result, id)
}

// UpdateStatus sets only the job's status field.
func (r *JobRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE crawl_jobs SET status = $1, updated_at = now() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	return r.requireRow(result, id)
}

// RecordOutcome persists the result of a finished execution on the job:
// retry counter and error message, plus the outcome status. The status only
// replaces 'running' so an operator pause or disable applied mid-run wins
// over the worker's reset.
func (r *JobRepository) RecordOutcome(
	ctx context.Context,
	id string,
	status string,
	retryCount int,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_jobs
		SET status = CASE WHEN status = 'running' THEN $1 ELSE status END,
		    current_retry_count = $2, error_message = $3, updated_at = now()
		WHERE id = $4
	`

	result, err := r.db.ExecContext(ctx, query, status, retryCount, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to record job outcome: %w", err)
	}

	return r.requireRow(result, id)
}

// ReleaseIfRunning returns a running job to pending. A job in any other
// status is left untouched, so cancelling an execution of a job paused
// mid-run does not un-pause it.
func (r *JobRepository) ReleaseIfRunning(ctx context.Context, id string) error {
	query := `
		UPDATE crawl_jobs
		SET status = 'pending', updated_at = now()
		WHERE id = $1 AND status = 'running'
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}

	return nil
}

// Pause pauses a job so the scheduler skips it until resumed.
func (r *JobRepository) Pause(ctx context.Context, id string) error {
	query := `
		UPDATE crawl_jobs
		SET status = 'paused', updated_at = now()
		WHERE id = $1 AND status NOT IN ('running', 'disabled')
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to pause job: %w", err)
	}

	return r.requireRow(result, id)
}

// Resume returns a paused job to pending.
func (r *JobRepository) Resume(ctx context.Context, id string) error {
	query := `
		UPDATE crawl_jobs
		SET status = 'pending', updated_at = now()
		WHERE id = $1 AND status = 'paused'
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to resume job: %w", err)
	}

	return r.requireRow(result, id)
}

// Count returns the total number of jobs, optionally filtered by status.
func (r *JobRepository) Count(ctx context.Context, status string) (int, error) {
	var count int
	var query string
	var args []any

	if status != "" {
		query = `SELECT COUNT(*) FROM crawl_jobs WHERE status = $1`
		args = []any{status}
	} else {
		query = `SELECT COUNT(*) FROM crawl_jobs`
		args = []any{}
	}

	err := r.db.GetContext(ctx, &count, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	return count, nil
}

// CountByStatus returns job counts grouped by status.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM crawl_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", scanErr)
		}
		counts[status] = count
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", rowsErr)
	}

	return counts, nil
}

// requireRow converts a zero-rows-affected result into ErrJobNotFound.
func (r *JobRepository) requireRow(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	return nil
}
