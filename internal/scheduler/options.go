package scheduler

import (
	"time"
)

// Option is a functional option for configuring the Scheduler.
type Option func(*Scheduler)

// WithPollInterval sets how often the scheduler polls for due jobs.
// Default: 10 seconds
func WithPollInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithClock overrides the scheduler's time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}
