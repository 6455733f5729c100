// Package domain provides domain models used across the application.
package domain

import (
	"time"
)

// Execution status values.
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusCancelled = "cancelled"
)

// Execution represents a single run of a job.
// This tracks the history of each job run with its outcome.
//
// Invariants: CompletedAt is set iff Status is terminal; StartedAt is never set
// for executions cancelled while still pending; StartedAt <= CompletedAt when
// both are present.
type Execution struct {
	// Identity
	ID    string `db:"id"     json:"id"`
	JobID string `db:"job_id" json:"job_id"`

	// Status
	Status string `db:"status" json:"status"` // pending, running, completed, failed, cancelled

	// Timing
	StartedAt   *time.Time `db:"started_at"   json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	// Results
	ItemsScraped int      `db:"items_scraped" json:"items_scraped"`
	ErrorMessage *string  `db:"error_message" json:"error_message,omitempty"`
	Result       JSONBMap `db:"result"        json:"result,omitempty"`

	// Retry tracking
	RetryAttempt int `db:"retry_attempt" json:"retry_attempt"` // 0 = first try, 1+ = retry

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// JobStats represents aggregate statistics for a job.
type JobStats struct {
	TotalExecutions   int        `db:"total_executions"    json:"total_executions"`
	SuccessfulRuns    int        `db:"successful_runs"     json:"successful_runs"`
	FailedRuns        int        `db:"failed_runs"         json:"failed_runs"`
	TotalItemsScraped int64      `db:"total_items_scraped" json:"total_items_scraped"`
	LastExecutionAt   *time.Time `db:"last_execution_at"   json:"last_execution_at"`
	NextScheduledAt   *time.Time `db:"-"                   json:"next_scheduled_at"`
	SuccessRate       float64    `db:"-"                   json:"success_rate"` // 0.0 to 1.0
}

// AggregateStats represents system-wide coordinator statistics.
type AggregateStats struct {
	TotalExecutions int64   `db:"total_executions" json:"total_executions"`
	SuccessRate     float64 `db:"-"                json:"success_rate"` // 0.0 to 1.0
	FailureRate     float64 `db:"-"                json:"failure_rate"` // 0.0 to 1.0
	ActiveJobs      int64   `db:"-"                json:"active_jobs"`
	ScheduledJobs   int64   `db:"-"                json:"scheduled_jobs"`
	CompletedToday  int64   `db:"completed_today"  json:"completed_today"`
	FailedToday     int64   `db:"failed_today"     json:"failed_today"`
}
