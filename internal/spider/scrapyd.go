package spider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inmobiliario/crawlsched/internal/domain"
	"github.com/inmobiliario/crawlsched/internal/logger"
)

// ErrEngineUnavailable indicates the engine could not be reached. Dispatch
// failures wrapping this error are transient and safe to retry.
var ErrEngineUnavailable = errors.New("spider engine unavailable")

const (
	defaultPollInterval = 5 * time.Second
	defaultStopTimeout  = 10 * time.Second
)

// ScrapydConfig configures the Scrapyd engine client.
type ScrapydConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Project      string        `yaml:"project"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
}

// ScrapydEngine dispatches crawls to a Scrapyd daemon over its HTTP API and
// polls it for completion.
type ScrapydEngine struct {
	cfg    ScrapydConfig
	client *http.Client
	logger logger.Logger
}

// NewScrapydEngine creates a Scrapyd-backed engine.
func NewScrapydEngine(cfg ScrapydConfig, log logger.Logger) *ScrapydEngine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	return &ScrapydEngine{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: log,
	}
}

type scheduleResponse struct {
	Status  string `json:"status"`
	JobID   string `json:"jobid"`
	Message string `json:"message"`
}

type listJobsResponse struct {
	Status   string       `json:"status"`
	Running  []scrapydJob `json:"running"`
	Finished []scrapydJob `json:"finished"`
	Pending  []scrapydJob `json:"pending"`
}

type scrapydJob struct {
	ID         string `json:"id"`
	ItemsCount int    `json:"items_count"`
}

// Run schedules the crawl on Scrapyd and polls until it finishes. ctx
// cancellation issues a cancel.json request and waits up to StopTimeout for
// the crawl to wind down.
func (e *ScrapydEngine) Run(ctx context.Context, req DispatchRequest, progress ProgressFunc) (*Outcome, error) {
	scrapydID, err := e.schedule(ctx, req)
	if err != nil {
		return nil, err
	}

	e.logger.Info("crawl scheduled on engine",
		logger.String("execution_id", req.ExecutionID),
		logger.String("spider", req.SpiderName),
		logger.String("engine_job_id", scrapydID))

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, e.stop(scrapydID, ctx.Err())
		case <-ticker.C:
			job, finished, pollErr := e.poll(ctx, scrapydID)
			if pollErr != nil {
				e.logger.Warn("engine poll failed",
					logger.String("engine_job_id", scrapydID),
					logger.Error(pollErr))
				continue
			}
			if job != nil && progress != nil {
				progress(job.ItemsCount)
			}
			if finished {
				items := 0
				if job != nil {
					items = job.ItemsCount
				}
				return &Outcome{
					ItemsScraped: items,
					Result:       domain.JSONBMap{"engine_job_id": scrapydID},
				}, nil
			}
		}
	}
}

func (e *ScrapydEngine) schedule(ctx context.Context, req DispatchRequest) (string, error) {
	form := url.Values{}
	form.Set("project", e.cfg.Project)
	form.Set("spider", req.SpiderName)
	form.Set("jobid", req.ExecutionID)
	form.Set("setting", "START_URLS="+strings.Join(req.StartURLs, ","))
	for key, value := range req.Config {
		form.Set(key, fmt.Sprintf("%v", value))
	}

	resp, err := e.postForm(ctx, "/schedule.json", form)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	var scheduled scheduleResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&scheduled); decodeErr != nil {
		return "", fmt.Errorf("failed to decode schedule response: %w", decodeErr)
	}

	if scheduled.Status != "ok" {
		return "", fmt.Errorf("engine rejected crawl: %s", scheduled.Message)
	}

	return scheduled.JobID, nil
}

// poll reports the job's current state. finished is true once the job shows
// up in Scrapyd's finished list, or disappears entirely.
func (e *ScrapydEngine) poll(ctx context.Context, scrapydID string) (*scrapydJob, bool, error) {
	endpoint := fmt.Sprintf("%s/listjobs.json?project=%s", e.cfg.BaseURL, url.QueryEscape(e.cfg.Project))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build poll request: %w", err)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	var listing listJobsResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&listing); decodeErr != nil {
		return nil, false, fmt.Errorf("failed to decode job listing: %w", decodeErr)
	}

	for i := range listing.Finished {
		if listing.Finished[i].ID == scrapydID {
			return &listing.Finished[i], true, nil
		}
	}
	for i := range listing.Running {
		if listing.Running[i].ID == scrapydID {
			return &listing.Running[i], false, nil
		}
	}
	for i := range listing.Pending {
		if listing.Pending[i].ID == scrapydID {
			return &listing.Pending[i], false, nil
		}
	}

	// Scrapyd prunes finished jobs after a while. Treat an unknown id as done.
	return nil, true, nil
}

// stop asks Scrapyd to cancel the crawl. The original ctx is already
// cancelled by the time this runs, so the cancel request gets its own.
func (e *ScrapydEngine) stop(scrapydID string, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.StopTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("project", e.cfg.Project)
	form.Set("job", scrapydID)

	resp, err := e.postForm(ctx, "/cancel.json", form)
	if err != nil {
		e.logger.Warn("failed to cancel crawl on engine",
			logger.String("engine_job_id", scrapydID),
			logger.Error(err))
		return cause
	}
	resp.Body.Close()

	return cause
}

func (e *ScrapydEngine) postForm(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		e.cfg.BaseURL+path,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		resp.Body.Close()
		return nil, fmt.Errorf("engine returned status %d", resp.StatusCode)
	}

	return resp, nil
}
