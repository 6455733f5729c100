package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionEvent is published on every execution state transition.
//
// Delivery is at-least-once: the payload is keyed by execution id plus status,
// so duplicate delivery of the same transition is harmless to subscribers.
type ExecutionEvent struct {
	EventID      uuid.UUID  `json:"event_id"`
	JobID        string     `json:"job_id"`
	ExecutionID  string     `json:"execution_id"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ItemsScraped int        `json:"items_scraped,omitempty"`
	Error        *string    `json:"error,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// NewExecutionEvent builds an event from an execution's current state.
func NewExecutionEvent(exec *Execution) *ExecutionEvent {
	return &ExecutionEvent{
		EventID:      uuid.New(),
		JobID:        exec.JobID,
		ExecutionID:  exec.ID,
		Status:       exec.Status,
		StartedAt:    exec.StartedAt,
		CompletedAt:  exec.CompletedAt,
		ItemsScraped: exec.ItemsScraped,
		Error:        exec.ErrorMessage,
		Timestamp:    time.Now().UTC(),
	}
}
