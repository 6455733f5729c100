package scheduler

import (
	"sync"
	"time"
)

// Metrics tracks scheduler poll counters.
type Metrics struct {
	mu sync.RWMutex

	LastPollTime    time.Time
	PollCount       int64
	DispatchedCount int64
	SkippedCount    int64
	DisabledCount   int64
}

// UpdateLastPoll records a completed poll.
func (m *Metrics) UpdateLastPoll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastPollTime = time.Now()
	m.PollCount++
}

// IncrementDispatched increments the dispatched job count.
func (m *Metrics) IncrementDispatched() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DispatchedCount++
}

// IncrementSkipped increments the count of due jobs skipped because an
// execution was already active.
func (m *Metrics) IncrementSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SkippedCount++
}

// IncrementDisabled increments the count of jobs disabled for bad schedules.
func (m *Metrics) IncrementDisabled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisabledCount++
}

// Snapshot returns a copy of the current metrics.
func (m *Metrics) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		LastPollTime:    m.LastPollTime,
		PollCount:       m.PollCount,
		DispatchedCount: m.DispatchedCount,
		SkippedCount:    m.SkippedCount,
		DisabledCount:   m.DisabledCount,
	}
}
