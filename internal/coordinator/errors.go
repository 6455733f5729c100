package coordinator

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Claim when the job already has an execution
// in pending or running state. The dispatch is skipped; this is not an
// operator-visible failure.
var ErrAlreadyRunning = errors.New("job already has an active execution")

// ErrExecutionTerminal is returned when an operation targets an execution that
// has already reached a terminal state.
var ErrExecutionTerminal = errors.New("execution already in terminal state")

// ErrInvalidJobConfig indicates the job's configuration cannot be dispatched.
// It is non-transient: the execution fails immediately without retry.
var ErrInvalidJobConfig = errors.New("invalid job configuration")

// ErrCancellationTimeout indicates the worker did not acknowledge a stop
// request within the grace period. The execution is still marked cancelled.
var ErrCancellationTimeout = errors.New("worker did not acknowledge cancellation")

// DispatchError wraps a failure to hand an execution to the spider engine.
// Transient dispatch errors are retried with backoff up to a bound; permanent
// ones fail the execution immediately.
type DispatchError struct {
	ExecutionID string
	Transient   bool
	Err         error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s dispatch error for execution %s: %v", kind, e.ExecutionID, e.Err)
}

// Unwrap returns the underlying error.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsTransientDispatch reports whether err is a dispatch error worth retrying.
func IsTransientDispatch(err error) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.Transient
}
