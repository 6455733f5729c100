// Package coordinator claims, supervises, and finishes job executions.
// It owns the per-job exclusivity guarantee and the execution state machine.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inmobiliario/crawlsched/internal/database"
	"github.com/inmobiliario/crawlsched/internal/domain"
	"github.com/inmobiliario/crawlsched/internal/logger"
	"github.com/inmobiliario/crawlsched/internal/notifier"
	"github.com/inmobiliario/crawlsched/internal/spider"
)

const (
	defaultMaxWorkers         = 4
	defaultQueueCapacity      = 64
	defaultDispatchRetries    = 3
	defaultDispatchBackoff    = 2 * time.Second
	defaultCancellationGrace  = 30 * time.Second
	defaultStaleThreshold     = 2 * time.Hour
	defaultStaleSweepInterval = 1 * time.Minute

	exponentialBackoffBase = 2
	maxRetryBackoff        = 1 * time.Hour
)

// activeRun tracks an execution a worker currently owns.
type activeRun struct {
	execution *domain.Execution
	job       *domain.Job
	cancel    context.CancelFunc
	done      chan struct{}
}

// runTask is a claimed execution waiting for a worker slot.
type runTask struct {
	job       *domain.Job
	execution *domain.Execution
}

// Coordinator runs claimed executions on a bounded worker pool and keeps the
// job and execution records in sync with what the spider engine reports.
type Coordinator struct {
	logger   logger.Logger
	jobRepo  database.JobRepositoryInterface
	execRepo database.ExecutionRepositoryInterface
	engine   spider.Engine
	notifier notifier.Notifier

	// Lifecycle control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Worker pool
	queue chan *runTask

	// Active executions, keyed by execution id. queued holds ids sitting on
	// the channel between enqueue and worker pickup; the stale sweep must not
	// touch either set.
	active   map[string]*activeRun
	queued   map[string]struct{}
	activeMu sync.RWMutex

	// Configuration
	maxWorkers         int
	queueCapacity      int
	dispatchRetries    int
	dispatchBackoff    time.Duration
	cancellationGrace  time.Duration
	staleThreshold     time.Duration
	staleSweepInterval time.Duration

	metrics *Metrics
}

// New creates a coordinator.
func New(
	log logger.Logger,
	jobRepo database.JobRepositoryInterface,
	execRepo database.ExecutionRepositoryInterface,
	engine spider.Engine,
	events notifier.Notifier,
	opts ...Option,
) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		logger:             log,
		jobRepo:            jobRepo,
		execRepo:           execRepo,
		engine:             engine,
		notifier:           events,
		ctx:                ctx,
		cancel:             cancel,
		active:             make(map[string]*activeRun),
		queued:             make(map[string]struct{}),
		maxWorkers:         defaultMaxWorkers,
		queueCapacity:      defaultQueueCapacity,
		dispatchRetries:    defaultDispatchRetries,
		dispatchBackoff:    defaultDispatchBackoff,
		cancellationGrace:  defaultCancellationGrace,
		staleThreshold:     defaultStaleThreshold,
		staleSweepInterval: defaultStaleSweepInterval,
		metrics:            &Metrics{},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.queue = make(chan *runTask, c.queueCapacity)

	return c
}

// Start launches the worker pool and the stale-execution sweep, then
// re-enqueues any pending executions that survived a restart.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info("Starting execution coordinator",
		logger.Int("max_workers", c.maxWorkers),
		logger.Int("queue_capacity", c.queueCapacity),
		logger.Duration("stale_threshold", c.staleThreshold),
	)

	for i := 0; i < c.maxWorkers; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	c.wg.Add(1)
	go c.sweepStale()

	if err := c.resumePending(ctx); err != nil {
		return fmt.Errorf("failed to resume pending executions: %w", err)
	}

	c.logger.Info("Execution coordinator started")
	return nil
}

// Stop cancels all active runs and waits for workers to drain.
func (c *Coordinator) Stop() error {
	c.logger.Info("Stopping execution coordinator")

	c.cancel()

	c.activeMu.Lock()
	for id, run := range c.active {
		c.logger.Info("Cancelling active execution", logger.String("execution_id", id))
		run.cancel()
	}
	c.activeMu.Unlock()

	c.wg.Wait()

	c.logger.Info("Execution coordinator stopped")
	return nil
}

// Dispatch claims an execution for the job and queues it for a worker.
// Returns ErrAlreadyRunning when the job already holds an active execution.
func (c *Coordinator) Dispatch(ctx context.Context, job *domain.Job) (*domain.Execution, error) {
	exec := &domain.Execution{
		ID:           uuid.New().String(),
		JobID:        job.ID,
		Status:       domain.ExecutionStatusPending,
		RetryAttempt: job.CurrentRetryCount,
	}

	if err := c.execRepo.Claim(ctx, exec); err != nil {
		if errors.Is(err, database.ErrDuplicateActiveExecution) {
			return nil, fmt.Errorf("%w: job %s", ErrAlreadyRunning, job.ID)
		}
		return nil, fmt.Errorf("failed to claim execution: %w", err)
	}

	c.metrics.UpdateLastDispatch()
	c.notifyTransition(exec)

	if err := c.enqueue(job, exec); err != nil {
		c.releaseClaim(ctx, exec, err)
		return nil, err
	}

	c.logger.Info("Execution claimed",
		logger.String("job_id", job.ID),
		logger.String("execution_id", exec.ID),
		logger.Int("retry_attempt", exec.RetryAttempt),
	)

	return exec, nil
}

// enqueue hands a claimed execution to the worker pool. A full queue is a
// transient condition: the caller rolls the claim back and may retry.
func (c *Coordinator) enqueue(job *domain.Job, exec *domain.Execution) error {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()

	select {
	case c.queue <- &runTask{job: job, execution: exec}:
		c.queued[exec.ID] = struct{}{}
		c.metrics.AddQueued(1)
		return nil
	default:
		return &DispatchError{
			ExecutionID: exec.ID,
			Transient:   true,
			Err:         errors.New("worker queue full"),
		}
	}
}

// releaseClaim cancels an execution that was claimed but never reached the
// worker pool. The claim must not stay pending: nothing would ever run it,
// and it would block every later dispatch for the job.
func (c *Coordinator) releaseClaim(ctx context.Context, exec *domain.Execution, cause error) {
	now := time.Now().UTC()
	errMsg := cause.Error()

	updated, err := c.execRepo.MarkTerminal(
		ctx, exec.ID, domain.ExecutionStatusCancelled, now, 0, &errMsg, nil,
	)
	if err != nil {
		c.logger.Error("Failed to release unqueued claim",
			logger.String("execution_id", exec.ID),
			logger.Error(err),
		)
		return
	}
	if !updated {
		return
	}

	exec.Status = domain.ExecutionStatusCancelled
	exec.CompletedAt = &now
	exec.ErrorMessage = &errMsg
	c.notifyTransition(exec)
}

// resumePending re-enqueues pending executions found at startup. Running
// executions without a worker are left to the stale sweep.
func (c *Coordinator) resumePending(ctx context.Context) error {
	executions, err := c.execRepo.ListActive(ctx)
	if err != nil {
		return err
	}

	resumed := 0
	for _, exec := range executions {
		if exec.Status != domain.ExecutionStatusPending {
			continue
		}

		job, jobErr := c.jobRepo.GetByID(ctx, exec.JobID)
		if jobErr != nil {
			c.logger.Error("Failed to load job for pending execution",
				logger.String("execution_id", exec.ID),
				logger.Error(jobErr),
			)
			continue
		}

		if enqErr := c.enqueue(job, exec); enqErr != nil {
			c.logger.Warn("Could not re-enqueue pending execution",
				logger.String("execution_id", exec.ID),
				logger.Error(enqErr),
			)
			continue
		}
		resumed++
	}

	if resumed > 0 {
		c.logger.Info("Resumed pending executions", logger.Int("count", resumed))
	}

	return nil
}

// worker consumes claimed executions and runs them to completion.
func (c *Coordinator) worker(id int) {
	defer c.wg.Done()

	c.logger.Debug("Worker started", logger.Int("worker_id", id))

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", logger.Int("worker_id", id))
			return
		case task := <-c.queue:
			c.activeMu.Lock()
			delete(c.queued, task.execution.ID)
			c.activeMu.Unlock()
			c.metrics.AddQueued(-1)
			c.runExecution(task)
		}
	}
}

// runExecution drives a single execution through the state machine.
func (c *Coordinator) runExecution(task *runTask) {
	job := task.job
	exec := task.execution

	now := time.Now().UTC()
	started, err := c.execRepo.MarkRunning(c.ctx, exec.ID, now)
	if err != nil {
		c.logger.Error("Failed to mark execution running",
			logger.String("execution_id", exec.ID),
			logger.Error(err),
		)
		return
	}
	if !started {
		// Cancelled while queued. Nothing to run.
		c.logger.Info("Skipping execution no longer pending",
			logger.String("execution_id", exec.ID),
		)
		return
	}

	exec.Status = domain.ExecutionStatusRunning
	exec.StartedAt = &now

	if statusErr := c.jobRepo.UpdateStatus(c.ctx, job.ID, domain.JobStatusRunning); statusErr != nil {
		c.logger.Error("Failed to update job status",
			logger.String("job_id", job.ID),
			logger.Error(statusErr),
		)
	}

	c.notifyTransition(exec)

	runCtx, cancelRun := context.WithCancel(c.ctx)
	run := &activeRun{
		execution: exec,
		job:       job,
		cancel:    cancelRun,
		done:      make(chan struct{}),
	}

	c.activeMu.Lock()
	c.active[exec.ID] = run
	c.activeMu.Unlock()

	c.metrics.IncrementRunning()

	defer func() {
		close(run.done)
		cancelRun()
		c.activeMu.Lock()
		delete(c.active, exec.ID)
		c.activeMu.Unlock()
		c.metrics.DecrementRunning()
	}()

	c.logger.Info("Executing crawl",
		logger.String("job_id", job.ID),
		logger.String("execution_id", exec.ID),
		logger.String("spider", job.SpiderName),
		logger.Int("retry_attempt", exec.RetryAttempt),
	)

	if len(job.StartURLs) == 0 || job.SpiderName == "" {
		c.handleFailure(run, fmt.Errorf("%w: spider name and start urls are required", ErrInvalidJobConfig))
		return
	}

	outcome, runErr := c.runWithRetry(runCtx, run)
	if runErr != nil {
		if runCtx.Err() != nil {
			// Cancelled or shut down. The canceller owns the terminal write.
			c.logger.Info("Execution run cancelled",
				logger.String("execution_id", exec.ID),
			)
			return
		}
		c.handleFailure(run, runErr)
		return
	}

	c.handleSuccess(run, outcome)
}

// runWithRetry runs the engine, retrying transient dispatch failures with
// exponential backoff.
func (c *Coordinator) runWithRetry(ctx context.Context, run *activeRun) (*spider.Outcome, error) {
	req := spider.DispatchRequest{
		ExecutionID: run.execution.ID,
		JobID:       run.job.ID,
		SpiderName:  run.job.SpiderName,
		StartURLs:   run.job.StartURLs,
		Config:      run.job.Config,
	}

	progress := func(items int) {
		c.reportProgress(run.execution.ID, items)
	}

	var lastErr error
	backoff := c.dispatchBackoff

	for attempt := 0; attempt <= c.dispatchRetries; attempt++ {
		if attempt > 0 {
			c.metrics.IncrementDispatchRetries()
			c.logger.Warn("Retrying dispatch after transient failure",
				logger.String("execution_id", run.execution.ID),
				logger.Int("attempt", attempt),
				logger.Duration("backoff", backoff),
				logger.Error(lastErr),
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= exponentialBackoffBase
		}

		outcome, err := c.engine.Run(ctx, req, progress)
		if err == nil {
			return outcome, nil
		}

		lastErr = err
		if !errors.Is(err, spider.ErrEngineUnavailable) && !IsTransientDispatch(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("dispatch retries exhausted: %w", lastErr)
}

// reportProgress persists an in-flight progress report. The repository keeps
// the counter monotonic, so late or duplicate reports are safe.
func (c *Coordinator) reportProgress(executionID string, itemsScraped int) {
	if err := c.execRepo.UpdateProgress(c.ctx, executionID, itemsScraped); err != nil {
		c.logger.Warn("Failed to record execution progress",
			logger.String("execution_id", executionID),
			logger.Error(err),
		)
	}
}

// handleSuccess finishes an execution as completed and resets the job.
func (c *Coordinator) handleSuccess(run *activeRun, outcome *spider.Outcome) {
	job := run.job
	exec := run.execution
	now := time.Now().UTC()

	if err := ValidateTransition(ExecutionState(exec.Status), StateCompleted); err != nil {
		c.logger.Warn("Refusing completion",
			logger.String("execution_id", exec.ID),
			logger.Error(err),
		)
		return
	}

	items := exec.ItemsScraped
	var result domain.JSONBMap
	if outcome != nil {
		items = outcome.ItemsScraped
		result = outcome.Result
	}

	updated, err := c.execRepo.MarkTerminal(
		c.ctx, exec.ID, domain.ExecutionStatusCompleted, now, items, nil, result,
	)
	if err != nil {
		c.logger.Error("Failed to complete execution",
			logger.String("execution_id", exec.ID),
			logger.Error(err),
		)
		return
	}
	if !updated {
		// A racing cancel won. Leave its terminal state alone.
		c.logger.Warn("Execution already terminal, ignoring completion",
			logger.String("execution_id", exec.ID),
		)
		return
	}

	exec.Status = domain.ExecutionStatusCompleted
	exec.CompletedAt = &now
	exec.ItemsScraped = items
	exec.Result = result

	// Targeted write: operator edits made while the execution ran (schedule,
	// config, pause) must not be clobbered by this worker's stale job copy.
	if err := c.jobRepo.RecordOutcome(c.ctx, job.ID, domain.JobStatusPending, 0, nil); err != nil {
		c.logger.Error("Failed to update job after completion",
			logger.String("job_id", job.ID),
			logger.Error(err),
		)
	}

	c.metrics.IncrementCompleted()
	c.notifyTransition(exec)

	c.logger.Info("Execution completed",
		logger.String("job_id", job.ID),
		logger.String("execution_id", exec.ID),
		logger.Int("items_scraped", items),
	)
}

// handleFailure finishes an execution as failed and schedules a retry when
// the job has attempts left.
func (c *Coordinator) handleFailure(run *activeRun, execErr error) {
	job := run.job
	exec := run.execution
	now := time.Now().UTC()
	errMsg := execErr.Error()

	if err := ValidateTransition(ExecutionState(exec.Status), StateFailed); err != nil {
		c.logger.Warn("Refusing failure report",
			logger.String("execution_id", exec.ID),
			logger.Error(err),
		)
		return
	}

	updated, err := c.execRepo.MarkTerminal(
		c.ctx, exec.ID, domain.ExecutionStatusFailed, now, exec.ItemsScraped, &errMsg, nil,
	)
	if err != nil {
		c.logger.Error("Failed to fail execution",
			logger.String("execution_id", exec.ID),
			logger.Error(err),
		)
		return
	}
	if !updated {
		c.logger.Warn("Execution already terminal, ignoring failure",
			logger.String("execution_id", exec.ID),
		)
		return
	}

	exec.Status = domain.ExecutionStatusFailed
	exec.CompletedAt = &now
	exec.ErrorMessage = &errMsg

	c.metrics.IncrementFailed()
	c.notifyTransition(exec)

	if job.CurrentRetryCount < job.MaxRetries {
		job.CurrentRetryCount++

		backoff := retryBackoff(job)
		c.logger.Info("Scheduling retry",
			logger.String("job_id", job.ID),
			logger.Int("retry_attempt", job.CurrentRetryCount),
			logger.Int("max_retries", job.MaxRetries),
			logger.Duration("backoff", backoff),
			logger.Error(execErr),
		)

		if updateErr := c.jobRepo.RecordOutcome(
			c.ctx, job.ID, domain.JobStatusPending, job.CurrentRetryCount, &errMsg,
		); updateErr != nil {
			c.logger.Error("Failed to update job for retry",
				logger.String("job_id", job.ID),
				logger.Error(updateErr),
			)
			return
		}

		c.scheduleRetry(job.ID, backoff)
		return
	}

	if updateErr := c.jobRepo.RecordOutcome(
		c.ctx, job.ID, domain.JobStatusPending, 0, &errMsg,
	); updateErr != nil {
		c.logger.Error("Failed to update job after failure",
			logger.String("job_id", job.ID),
			logger.Error(updateErr),
		)
	}

	c.logger.Error("Execution failed after all retries",
		logger.String("job_id", job.ID),
		logger.String("execution_id", exec.ID),
		logger.Int("retries", exec.RetryAttempt),
		logger.Error(execErr),
	)
}

// scheduleRetry claims a fresh execution for the job after the backoff
// elapses. Retries do not flow through the scheduler: a retry is a
// continuation of the failed run, not a new scheduled occurrence. The job
// is re-read at dispatch time so a pause or disable applied during the
// backoff is honored.
func (c *Coordinator) scheduleRetry(jobID string, backoff time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		job, err := c.jobRepo.GetByID(c.ctx, jobID)
		if err != nil {
			c.logger.Error("Failed to load job for retry",
				logger.String("job_id", jobID),
				logger.Error(err),
			)
			return
		}
		if job.Status == domain.JobStatusPaused || job.Status == domain.JobStatusDisabled {
			c.logger.Info("Skipping retry, job no longer schedulable",
				logger.String("job_id", jobID),
				logger.String("status", job.Status),
			)
			return
		}

		if _, err := c.Dispatch(c.ctx, job); err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				c.logger.Info("Skipping retry, job already active",
					logger.String("job_id", job.ID),
				)
				return
			}
			c.logger.Error("Failed to dispatch retry",
				logger.String("job_id", job.ID),
				logger.Error(err),
			)
		}
	}()
}

// retryBackoff computes the exponential backoff for the job's next retry.
func retryBackoff(job *domain.Job) time.Duration {
	base := time.Duration(job.RetryBackoffSeconds) * time.Second
	if base <= 0 {
		base = time.Second
	}

	backoff := base
	for i := 1; i < job.CurrentRetryCount; i++ {
		backoff *= exponentialBackoffBase
		if backoff >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}

	if backoff > maxRetryBackoff {
		backoff = maxRetryBackoff
	}
	return backoff
}

// Cancel stops an execution. Pending executions are cancelled in place and
// never start; running executions get a stop request and up to the grace
// period to wind down. Returns ErrExecutionTerminal if it already finished.
func (c *Coordinator) Cancel(ctx context.Context, executionID string) error {
	exec, err := c.execRepo.GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if !CanCancel(ExecutionState(exec.Status)) {
		return fmt.Errorf("%w: %s is %s", ErrExecutionTerminal, executionID, exec.Status)
	}

	now := time.Now().UTC()
	updated, err := c.execRepo.MarkTerminal(
		ctx, executionID, domain.ExecutionStatusCancelled, now, exec.ItemsScraped, nil, nil,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel execution: %w", err)
	}
	if !updated {
		return fmt.Errorf("%w: %s", ErrExecutionTerminal, executionID)
	}

	exec.Status = domain.ExecutionStatusCancelled
	exec.CompletedAt = &now

	c.metrics.IncrementCancelled()
	c.notifyTransition(exec)

	// Guarded release: only a running job goes back to pending, so a job
	// paused while this execution ran stays paused.
	if statusErr := c.jobRepo.ReleaseIfRunning(ctx, exec.JobID); statusErr != nil {
		c.logger.Error("Failed to reset job status after cancel",
			logger.String("job_id", exec.JobID),
			logger.Error(statusErr),
		)
	}

	c.activeMu.RLock()
	run, running := c.active[executionID]
	c.activeMu.RUnlock()

	if !running {
		c.logger.Info("Cancelled pending execution",
			logger.String("execution_id", executionID),
		)
		return nil
	}

	c.logger.Info("Cancelling running execution",
		logger.String("execution_id", executionID),
		logger.Duration("grace", c.cancellationGrace),
	)
	run.cancel()

	select {
	case <-run.done:
		return nil
	case <-time.After(c.cancellationGrace):
		return fmt.Errorf("%w: execution %s", ErrCancellationTimeout, executionID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sweepStale periodically fails running executions whose worker disappeared,
// releasing the job's exclusivity claim.
func (c *Coordinator) sweepStale() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.staleSweepInterval)
	defer ticker.Stop()

	c.logger.Info("Stale execution sweep started",
		logger.Duration("interval", c.staleSweepInterval),
	)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("Stale execution sweep stopping")
			return
		case <-ticker.C:
			c.failStaleExecutions()
		}
	}
}

func (c *Coordinator) failStaleExecutions() {
	cutoff := time.Now().UTC().Add(-c.staleThreshold)

	stuck, err := c.execRepo.GetStuck(c.ctx, cutoff)
	if err != nil {
		c.logger.Error("Failed to query stuck executions", logger.Error(err))
		return
	}

	failed := 0
	for _, exec := range stuck {
		if !IsActiveState(ExecutionState(exec.Status)) {
			continue
		}

		c.activeMu.RLock()
		_, running := c.active[exec.ID]
		_, waiting := c.queued[exec.ID]
		c.activeMu.RUnlock()
		if running || waiting {
			// Still supervised in this process. Long runs are not stale.
			continue
		}

		now := time.Now().UTC()
		errMsg := "execution abandoned: no worker picked it up before the stale threshold"
		updated, termErr := c.execRepo.MarkTerminal(
			c.ctx, exec.ID, domain.ExecutionStatusFailed, now, exec.ItemsScraped, &errMsg, nil,
		)
		if termErr != nil {
			c.logger.Error("Failed to fail stale execution",
				logger.String("execution_id", exec.ID),
				logger.Error(termErr),
			)
			continue
		}
		if !updated {
			continue
		}

		exec.Status = domain.ExecutionStatusFailed
		exec.CompletedAt = &now
		exec.ErrorMessage = &errMsg
		c.notifyTransition(exec)

		if statusErr := c.jobRepo.ReleaseIfRunning(c.ctx, exec.JobID); statusErr != nil {
			c.logger.Error("Failed to reset job status after stale failure",
				logger.String("job_id", exec.JobID),
				logger.Error(statusErr),
			)
		}
		failed++
	}

	if failed > 0 {
		c.metrics.AddStaleFailures(failed)
		c.logger.Warn("Failed stale executions", logger.Int("count", failed))
	}
}

// notifyTransition publishes the execution's current state. Notification
// failures are logged, never propagated: event delivery is best-effort from
// the coordinator's point of view.
func (c *Coordinator) notifyTransition(exec *domain.Execution) {
	if c.notifier == nil {
		return
	}

	event := domain.NewExecutionEvent(exec)
	if err := c.notifier.NotifyExecution(c.ctx, event); err != nil {
		c.logger.Warn("Failed to publish execution event",
			logger.String("execution_id", exec.ID),
			logger.String("status", exec.Status),
			logger.Error(err),
		)
	}
}

// GetMetrics returns a snapshot of current coordinator metrics.
func (c *Coordinator) GetMetrics() Metrics {
	return c.metrics.Snapshot()
}
