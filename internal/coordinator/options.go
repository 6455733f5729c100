package coordinator

import (
	"time"
)

// Option is a functional option for configuring the Coordinator.
type Option func(*Coordinator)

// WithMaxWorkers sets the number of concurrent execution workers.
// Default: 4
func WithMaxWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithQueueCapacity sets how many claimed executions may wait for a worker
// slot before dispatches are rejected as transient.
// Default: 64
func WithQueueCapacity(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.queueCapacity = n
		}
	}
}

// WithDispatchRetries sets how many times a transient dispatch failure is
// retried before the execution fails.
// Default: 3
func WithDispatchRetries(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.dispatchRetries = n
		}
	}
}

// WithDispatchBackoff sets the base backoff between transient dispatch
// retries. Each retry doubles it.
// Default: 2 seconds
func WithDispatchBackoff(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.dispatchBackoff = d
		}
	}
}

// WithCancellationGrace sets how long Cancel waits for a running worker to
// acknowledge a stop request.
// Default: 30 seconds
func WithCancellationGrace(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.cancellationGrace = d
		}
	}
}

// WithStaleThreshold sets how long a running execution may go without
// finishing before the stale sweep fails it.
// Default: 2 hours
func WithStaleThreshold(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.staleThreshold = d
		}
	}
}

// WithStaleSweepInterval sets how often the stale sweep runs.
// Default: 1 minute
func WithStaleSweepInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.staleSweepInterval = d
		}
	}
}
