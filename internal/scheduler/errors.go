package scheduler

import (
	"fmt"
)

// InvalidScheduleError indicates a job carries a cron expression the parser
// rejects. The scheduler disables such jobs instead of retrying them forever.
type InvalidScheduleError struct {
	JobID      string
	Expression string
	Err        error
}

// Error implements the error interface.
func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid cron expression %q for job %s: %v", e.Expression, e.JobID, e.Err)
}

// Unwrap returns the underlying parse error.
func (e *InvalidScheduleError) Unwrap() error {
	return e.Err
}
