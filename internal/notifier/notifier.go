// Package notifier publishes execution lifecycle events to downstream
// consumers (dashboards, alerting, data pipelines).
package notifier

import (
	"context"

	"github.com/inmobiliario/crawlsched/internal/domain"
)

// Notifier delivers execution events. Delivery is at-least-once; consumers
// deduplicate on the event's execution id and status.
type Notifier interface {
	NotifyExecution(ctx context.Context, event *domain.ExecutionEvent) error
	Close() error
}
