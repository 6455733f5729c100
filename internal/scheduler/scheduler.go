// Package scheduler decides when jobs become due and hands them to the
// execution coordinator. It owns cron evaluation and next-run bookkeeping.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/inmobiliario/crawlsched/internal/coordinator"
	"github.com/inmobiliario/crawlsched/internal/database"
	"github.com/inmobiliario/crawlsched/internal/domain"
	"github.com/inmobiliario/crawlsched/internal/logger"
)

const defaultPollInterval = 10 * time.Second

// Dispatcher is what the scheduler needs from the execution coordinator.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *domain.Job) (*domain.Execution, error)
}

// Scheduler polls for due jobs and dispatches them.
type Scheduler struct {
	logger     logger.Logger
	jobRepo    database.JobRepositoryInterface
	dispatcher Dispatcher

	// Lifecycle control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Configuration
	pollInterval time.Duration
	now          func() time.Time

	metrics *Metrics
}

// New creates a scheduler.
func New(
	log logger.Logger,
	jobRepo database.JobRepositoryInterface,
	dispatcher Dispatcher,
	opts ...Option,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		logger:       log,
		jobRepo:      jobRepo,
		dispatcher:   dispatcher,
		ctx:          ctx,
		cancel:       cancel,
		pollInterval: defaultPollInterval,
		now:          time.Now,
		metrics:      &Metrics{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start launches the poll loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler",
		logger.Duration("poll_interval", s.pollInterval),
	)

	s.wg.Add(1)
	go s.pollLoop()

	s.logger.Info("Scheduler started")
	return nil
}

// Stop stops the poll loop and waits for an in-flight poll to finish.
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// Sweep immediately so work that came due while the process was down
	// does not wait out a full poll interval.
	s.Poll(s.ctx)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Scheduler poll loop stopping")
			return
		case <-ticker.C:
			s.Poll(s.ctx)
		}
	}
}

// Poll runs one scheduling pass: find due jobs, recompute their next runs,
// and dispatch each to the coordinator. Exported so tests and the CLI can
// drive passes without the ticker.
func (s *Scheduler) Poll(ctx context.Context) {
	s.metrics.UpdateLastPoll()
	now := s.now().UTC()

	jobs, err := s.jobRepo.DueJobs(ctx, now)
	if err != nil {
		s.logger.Error("Failed to query due jobs", logger.Error(err))
		return
	}

	if len(jobs) > 0 {
		s.logger.Debug("Found due jobs", logger.Int("count", len(jobs)))
	}

	for _, job := range jobs {
		if err := s.dispatchDue(ctx, job, now); err != nil {
			s.logger.Error("Failed to dispatch due job",
				logger.String("job_id", job.ID),
				logger.Error(err),
			)
		}
	}
}

// dispatchDue advances a single due job. The next run is computed from the
// dispatch instant and persisted before the coordinator is invoked, so a
// slow or failed dispatch can never replay the same occurrence.
func (s *Scheduler) dispatchDue(ctx context.Context, job *domain.Job, now time.Time) error {
	nextRun, err := s.advance(ctx, job, now)
	if err != nil {
		return err
	}

	if markErr := s.jobRepo.MarkDispatched(ctx, job.ID, nextRun); markErr != nil {
		return fmt.Errorf("failed to persist next run: %w", markErr)
	}
	job.NextRunAt = nextRun
	job.RunRequestedAt = nil

	if _, dispatchErr := s.dispatcher.Dispatch(ctx, job); dispatchErr != nil {
		if errors.Is(dispatchErr, coordinator.ErrAlreadyRunning) {
			s.metrics.IncrementSkipped()
			s.logger.Debug("Due job already has an active execution",
				logger.String("job_id", job.ID),
			)
			return nil
		}
		return fmt.Errorf("dispatch failed: %w", dispatchErr)
	}

	s.metrics.IncrementDispatched()
	return nil
}

// advance computes the job's next activation after now. Manual jobs have
// none. A cron job with an unparseable expression is disabled on the spot.
func (s *Scheduler) advance(ctx context.Context, job *domain.Job, now time.Time) (*time.Time, error) {
	if !job.IsCronScheduled() {
		return nil, nil
	}

	next, err := NextRun(*job.CronExpression, now)
	if err != nil {
		schedErr := &InvalidScheduleError{
			JobID:      job.ID,
			Expression: *job.CronExpression,
			Err:        err,
		}

		s.metrics.IncrementDisabled()
		s.logger.Error("Disabling job with invalid schedule",
			logger.String("job_id", job.ID),
			logger.String("expression", *job.CronExpression),
			logger.Error(err),
		)

		if disableErr := s.jobRepo.Disable(ctx, job.ID, schedErr.Error()); disableErr != nil {
			return nil, fmt.Errorf("failed to disable job: %w", disableErr)
		}
		return nil, schedErr
	}

	return &next, nil
}

// GetMetrics returns a snapshot of current scheduler metrics.
func (s *Scheduler) GetMetrics() Metrics {
	return s.metrics.Snapshot()
}
