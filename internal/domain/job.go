// Package domain provides domain models used across the application.
package domain

import (
	"time"

	"github.com/lib/pq"
)

// ScheduleKind describes how a job's executions are triggered.
type ScheduleKind string

const (
	// ScheduleManual jobs run only when an external run request arrives.
	ScheduleManual ScheduleKind = "manual"
	// ScheduleCron jobs run on a cron expression.
	ScheduleCron ScheduleKind = "cron"
)

// IsValid returns true if the schedule kind is known.
func (k ScheduleKind) IsValid() bool {
	return k == ScheduleManual || k == ScheduleCron
}

// Job statuses.
const (
	JobStatusPending  = "pending"
	JobStatusRunning  = "running"
	JobStatusPaused   = "paused"
	JobStatusDisabled = "disabled"
)

// Job represents a persisted crawl job definition.
//
// Invariants: CronExpression is non-nil iff ScheduleKind is cron; NextRunAt is
// non-nil only when ScheduleKind is cron and Status is not disabled.
type Job struct {
	ID         string         `db:"id"          json:"id"`
	Name       string         `db:"name"        json:"name"`
	SpiderName string         `db:"spider_name" json:"spider_name"`
	StartURLs  pq.StringArray `db:"start_urls"  json:"start_urls"`

	// Scheduling
	ScheduleKind   ScheduleKind `db:"schedule_kind"    json:"schedule_kind"`
	CronExpression *string      `db:"cron_expression"  json:"cron_expression,omitempty"`
	NextRunAt      *time.Time   `db:"next_run_at"      json:"next_run_at,omitempty"`
	RunRequestedAt *time.Time   `db:"run_requested_at" json:"run_requested_at,omitempty"`

	// Status
	Status       string  `db:"status"        json:"status"`
	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`

	// Retry tracking
	MaxRetries          int `db:"max_retries"           json:"max_retries"`
	RetryBackoffSeconds int `db:"retry_backoff_seconds" json:"retry_backoff_seconds"`
	CurrentRetryCount   int `db:"current_retry_count"   json:"current_retry_count"`

	// Free-form spider configuration passed through to the engine.
	Config JSONBMap `db:"config" json:"config,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsCronScheduled returns true if the job runs on a cron expression.
func (j *Job) IsCronScheduled() bool {
	return j.ScheduleKind == ScheduleCron && j.CronExpression != nil
}

// HasPendingRunRequest returns true if an external run-now request is waiting.
func (j *Job) HasPendingRunRequest() bool {
	return j.RunRequestedAt != nil
}
