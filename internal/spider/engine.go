// Package spider dispatches crawl runs to a spider engine and reports
// their progress and outcome back to the caller.
package spider

import (
	"context"

	"github.com/inmobiliario/crawlsched/internal/domain"
)

// DispatchRequest carries everything an engine needs to start a crawl run.
type DispatchRequest struct {
	ExecutionID string
	JobID       string
	SpiderName  string
	StartURLs   []string
	Config      domain.JSONBMap
}

// Outcome is the final result of a finished crawl run.
type Outcome struct {
	ItemsScraped int
	Result       domain.JSONBMap
}

// ProgressFunc receives the cumulative items-scraped count while a run is
// in flight. Implementations must tolerate out-of-order calls.
type ProgressFunc func(itemsScraped int)

// Engine runs crawls. Run blocks until the crawl finishes or ctx is
// cancelled; cancellation must make a best-effort attempt to stop the
// underlying crawl before returning.
type Engine interface {
	Run(ctx context.Context, req DispatchRequest, progress ProgressFunc) (*Outcome, error)
}
