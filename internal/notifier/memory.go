package notifier

import (
	"context"
	"sync"

	"github.com/inmobiliario/crawlsched/internal/domain"
)

// MemoryNotifier collects events in memory. Used in tests and when no
// Redis endpoint is configured.
type MemoryNotifier struct {
	mu     sync.Mutex
	events []*domain.ExecutionEvent
}

// NewMemoryNotifier creates an in-memory notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

// NotifyExecution records the event.
func (n *MemoryNotifier) NotifyExecution(_ context.Context, event *domain.ExecutionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// Events returns a copy of all recorded events.
func (n *MemoryNotifier) Events() []*domain.ExecutionEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*domain.ExecutionEvent, len(n.events))
	copy(out, n.events)
	return out
}

// Close is a no-op.
func (n *MemoryNotifier) Close() error {
	return nil
}

var _ Notifier = (*MemoryNotifier)(nil)
