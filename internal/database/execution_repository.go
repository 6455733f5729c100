package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/inmobiliario/crawlsched/internal/domain"
)

var (
	// ErrExecutionNotFound is returned when an execution id does not exist.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrDuplicateActiveExecution is returned by Claim when the job already
	// has a pending or running execution.
	ErrDuplicateActiveExecution = errors.New("job already has an active execution")
)

// uniqueViolation is the Postgres error code for unique constraint violations.
const uniqueViolation = "23505"

// executionColumns is the column list shared by all execution SELECT queries.
const executionColumns = `id, job_id, status, started_at, completed_at,
	       items_scraped, error_message, result, retry_attempt, created_at`

// ExecutionRepository handles database operations for job executions.
type ExecutionRepository struct {
	db *sqlx.DB
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sqlx.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Claim atomically creates a pending execution for a job. The partial unique
// index on active executions guarantees at most one claim wins per job; a
// losing claim gets ErrDuplicateActiveExecution.
func (r *ExecutionRepository) Claim(ctx context.Context, exec *domain.Execution) error {
	query := `
		INSERT INTO job_executions (id, job_id, status, retry_attempt, result)
		VALUES ($1, $2, 'pending', $3, $4)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		exec.ID,
		exec.JobID,
		exec.RetryAttempt,
		&exec.Result,
	).Scan(&exec.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("%w: job %s", ErrDuplicateActiveExecution, exec.JobID)
		}
		return fmt.Errorf("failed to claim execution: %w", err)
	}

	exec.Status = domain.ExecutionStatusPending
	return nil
}

// GetByID retrieves an execution by its ID.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*domain.Execution, error) {
	var exec domain.Execution
	query := `SELECT ` + executionColumns + ` FROM job_executions WHERE id = $1`

	err := r.db.GetContext(ctx, &exec, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return &exec, nil
}

// MarkRunning transitions a pending execution to running and stamps
// started_at. Returns false without error when the execution is no longer
// pending, so a cancel that raced ahead is not overwritten.
func (r *ExecutionRepository) MarkRunning(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	query := `
		UPDATE job_executions
		SET status = 'running', started_at = $1
		WHERE id = $2 AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, startedAt, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark execution running: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// MarkTerminal moves an active execution to a terminal status. Returns false
// without error when the execution is already terminal, which makes completion
// reports idempotent.
func (r *ExecutionRepository) MarkTerminal(
	ctx context.Context,
	id string,
	status string,
	completedAt time.Time,
	itemsScraped int,
	errMsg *string,
	result domain.JSONBMap,
) (bool, error) {
	query := `
		UPDATE job_executions
		SET status = $1, completed_at = $2,
		    items_scraped = GREATEST(items_scraped, $3),
		    error_message = $4, result = $5
		WHERE id = $6 AND status IN ('pending', 'running')
	`

	res, err := r.db.ExecContext(ctx, query, status, completedAt, itemsScraped, errMsg, &result, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark execution terminal: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// UpdateProgress raises the items_scraped counter on a running execution.
// GREATEST keeps the counter monotonic under out-of-order progress reports.
func (r *ExecutionRepository) UpdateProgress(ctx context.Context, id string, itemsScraped int) error {
	query := `
		UPDATE job_executions
		SET items_scraped = GREATEST(items_scraped, $1)
		WHERE id = $2 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query, itemsScraped, id)
	if err != nil {
		return fmt.Errorf("failed to update execution progress: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}

	return nil
}

// ListByJobID retrieves executions for a job, most recent first.
func (r *ExecutionRepository) ListByJobID(ctx context.Context, jobID string, limit, offset int) ([]*domain.Execution, error) {
	var executions []*domain.Execution
	query := `SELECT ` + executionColumns + `
		FROM job_executions
		WHERE job_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	err := r.db.SelectContext(ctx, &executions, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	if executions == nil {
		executions = []*domain.Execution{}
	}

	return executions, nil
}

// GetLatestByJobID retrieves the most recent execution for a job.
func (r *ExecutionRepository) GetLatestByJobID(ctx context.Context, jobID string) (*domain.Execution, error) {
	var exec domain.Execution
	query := `SELECT ` + executionColumns + `
		FROM job_executions
		WHERE job_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, &exec, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: job %s", ErrExecutionNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get latest execution: %w", err)
	}

	return &exec, nil
}

// ListActive retrieves all pending and running executions. Used on startup
// to resume supervision of executions that survived a restart.
func (r *ExecutionRepository) ListActive(ctx context.Context) ([]*domain.Execution, error) {
	var executions []*domain.Execution
	query := `SELECT ` + executionColumns + `
		FROM job_executions
		WHERE status IN ('pending', 'running')
		ORDER BY created_at ASC`

	err := r.db.SelectContext(ctx, &executions, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active executions: %w", err)
	}

	if executions == nil {
		executions = []*domain.Execution{}
	}

	return executions, nil
}

// GetStuck retrieves active executions abandoned before the given cutoff:
// running ones whose start predates it, and pending ones claimed before it
// that no worker ever picked up. Both hold the job's exclusivity claim, so
// both are candidates for failure by the stale-execution sweep.
func (r *ExecutionRepository) GetStuck(ctx context.Context, cutoff time.Time) ([]*domain.Execution, error) {
	var executions []*domain.Execution
	query := `SELECT ` + executionColumns + `
		FROM job_executions
		WHERE status IN ('pending', 'running')
		  AND COALESCE(started_at, created_at) < $1
		ORDER BY COALESCE(started_at, created_at) ASC`

	err := r.db.SelectContext(ctx, &executions, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck executions: %w", err)
	}

	if executions == nil {
		executions = []*domain.Execution{}
	}

	return executions, nil
}

// CountByJobID returns the number of executions for a job.
func (r *ExecutionRepository) CountByJobID(ctx context.Context, jobID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM job_executions WHERE job_id = $1`

	err := r.db.GetContext(ctx, &count, query, jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}

	return count, nil
}

// GetJobStats aggregates execution statistics for a single job.
func (r *ExecutionRepository) GetJobStats(ctx context.Context, jobID string) (*domain.JobStats, error) {
	var stats domain.JobStats
	query := `
		SELECT
			COUNT(*) AS total_executions,
			COUNT(*) FILTER (WHERE status = 'completed') AS successful_runs,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed_runs,
			COALESCE(SUM(items_scraped), 0) AS total_items_scraped,
			MAX(completed_at) AS last_execution_at
		FROM job_executions
		WHERE job_id = $1
	`

	err := r.db.GetContext(ctx, &stats, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}

	if stats.TotalExecutions > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRuns) / float64(stats.TotalExecutions)
	}

	return &stats, nil
}

// GetAggregateStats aggregates execution statistics across all jobs.
func (r *ExecutionRepository) GetAggregateStats(ctx context.Context) (*domain.AggregateStats, error) {
	var stats domain.AggregateStats
	query := `
		SELECT
			COUNT(*) AS total_executions,
			COUNT(*) FILTER (WHERE status = 'completed' AND completed_at >= CURRENT_DATE) AS completed_today,
			COUNT(*) FILTER (WHERE status = 'failed' AND completed_at >= CURRENT_DATE) AS failed_today
		FROM job_executions
	`

	err := r.db.GetContext(ctx, &stats, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregate stats: %w", err)
	}

	var completed, failed int64
	countQuery := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM job_executions
	`
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&completed, &failed); err != nil {
		return nil, fmt.Errorf("failed to get outcome counts: %w", err)
	}

	if stats.TotalExecutions > 0 {
		stats.SuccessRate = float64(completed) / float64(stats.TotalExecutions)
		stats.FailureRate = float64(failed) / float64(stats.TotalExecutions)
	}

	jobQuery := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE schedule_kind = 'cron' AND status NOT IN ('disabled'))
		FROM crawl_jobs
	`
	if err := r.db.QueryRowContext(ctx, jobQuery).Scan(&stats.ActiveJobs, &stats.ScheduledJobs); err != nil {
		return nil, fmt.Errorf("failed to get job counts: %w", err)
	}

	return &stats, nil
}
