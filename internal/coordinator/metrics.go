package coordinator

import (
	"sync"
	"time"
)

// Metrics tracks coordinator execution counters.
type Metrics struct {
	mu sync.RWMutex

	RunningCount     int
	QueuedCount      int
	TotalExecutions  int64
	CompletedCount   int64
	FailedCount      int64
	CancelledCount   int64
	DispatchRetries  int64
	StaleFailures    int64
	LastDispatchTime time.Time
}

// IncrementRunning increments the running execution count.
func (m *Metrics) IncrementRunning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunningCount++
}

// DecrementRunning decrements the running execution count.
func (m *Metrics) DecrementRunning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RunningCount > 0 {
		m.RunningCount--
	}
}

// AddQueued adjusts the queued execution count by delta.
func (m *Metrics) AddQueued(delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueuedCount += delta
	if m.QueuedCount < 0 {
		m.QueuedCount = 0
	}
}

// IncrementCompleted increments the completed execution count.
func (m *Metrics) IncrementCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompletedCount++
	m.TotalExecutions++
}

// IncrementFailed increments the failed execution count.
func (m *Metrics) IncrementFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailedCount++
	m.TotalExecutions++
}

// IncrementCancelled increments the cancelled execution count.
func (m *Metrics) IncrementCancelled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelledCount++
	m.TotalExecutions++
}

// IncrementDispatchRetries increments the transient dispatch retry count.
func (m *Metrics) IncrementDispatchRetries() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DispatchRetries++
}

// AddStaleFailures adds to the stale execution failure count.
func (m *Metrics) AddStaleFailures(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StaleFailures += int64(count)
}

// UpdateLastDispatch records the time of the most recent dispatch.
func (m *Metrics) UpdateLastDispatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastDispatchTime = time.Now()
}

// Snapshot returns a copy of the current metrics.
func (m *Metrics) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		RunningCount:     m.RunningCount,
		QueuedCount:      m.QueuedCount,
		TotalExecutions:  m.TotalExecutions,
		CompletedCount:   m.CompletedCount,
		FailedCount:      m.FailedCount,
		CancelledCount:   m.CancelledCount,
		DispatchRetries:  m.DispatchRetries,
		StaleFailures:    m.StaleFailures,
		LastDispatchTime: m.LastDispatchTime,
	}
}
