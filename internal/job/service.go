// Package job provides the job store service: validated CRUD over crawl
// jobs plus run requests and statistics.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/inmobiliario/crawlsched/internal/database"
	"github.com/inmobiliario/crawlsched/internal/domain"
	"github.com/inmobiliario/crawlsched/internal/logger"
	"github.com/inmobiliario/crawlsched/internal/scheduler"
)

// Validation errors.
var (
	ErrNameRequired        = errors.New("job name is required")
	ErrSpiderRequired      = errors.New("spider name is required")
	ErrStartURLsRequired   = errors.New("at least one start url is required")
	ErrCronRequired        = errors.New("cron jobs require a cron expression")
	ErrCronNotAllowed      = errors.New("manual jobs must not carry a cron expression")
	ErrUnknownScheduleKind = errors.New("unknown schedule kind")
	ErrNegativeRetries     = errors.New("max_retries must not be negative")
)

// Service implements job store operations on top of the repositories.
type Service struct {
	logger   logger.Logger
	jobRepo  database.JobRepositoryInterface
	execRepo database.ExecutionRepositoryInterface
	now      func() time.Time
}

// NewService creates a job service.
func NewService(
	log logger.Logger,
	jobRepo database.JobRepositoryInterface,
	execRepo database.ExecutionRepositoryInterface,
) *Service {
	return &Service{
		logger:   log,
		jobRepo:  jobRepo,
		execRepo: execRepo,
		now:      time.Now,
	}
}

// CreateInput carries the fields for a new job.
type CreateInput struct {
	Name                string
	SpiderName          string
	StartURLs           []string
	ScheduleKind        domain.ScheduleKind
	CronExpression      string
	MaxRetries          int
	RetryBackoffSeconds int
	Config              domain.JSONBMap
}

// Create validates the input and persists a new job. Cron jobs get their
// first next_run_at computed from the creation instant.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Job, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:                  uuid.New().String(),
		Name:                input.Name,
		SpiderName:          input.SpiderName,
		StartURLs:           pq.StringArray(input.StartURLs),
		ScheduleKind:        input.ScheduleKind,
		Status:              domain.JobStatusPending,
		MaxRetries:          input.MaxRetries,
		RetryBackoffSeconds: input.RetryBackoffSeconds,
		Config:              input.Config,
	}

	if input.ScheduleKind == domain.ScheduleCron {
		expr := input.CronExpression
		job.CronExpression = &expr

		next, err := scheduler.NextRun(expr, s.now().UTC())
		if err != nil {
			return nil, &scheduler.InvalidScheduleError{
				JobID:      job.ID,
				Expression: expr,
				Err:        err,
			}
		}
		job.NextRunAt = &next
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("Job created",
		logger.String("job_id", job.ID),
		logger.String("name", job.Name),
		logger.String("schedule_kind", string(job.ScheduleKind)),
	)

	return job, nil
}

func (s *Service) validate(input CreateInput) error {
	if input.Name == "" {
		return ErrNameRequired
	}
	if input.SpiderName == "" {
		return ErrSpiderRequired
	}
	if len(input.StartURLs) == 0 {
		return ErrStartURLsRequired
	}
	if !input.ScheduleKind.IsValid() {
		return fmt.Errorf("%w: %s", ErrUnknownScheduleKind, input.ScheduleKind)
	}
	if input.ScheduleKind == domain.ScheduleCron && input.CronExpression == "" {
		return ErrCronRequired
	}
	if input.ScheduleKind == domain.ScheduleManual && input.CronExpression != "" {
		return ErrCronNotAllowed
	}
	if input.MaxRetries < 0 {
		return ErrNegativeRetries
	}
	return nil
}

// Get retrieves a job.
func (s *Service) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.jobRepo.GetByID(ctx, id)
}

// List retrieves jobs, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*domain.Job, error) {
	return s.jobRepo.List(ctx, status, limit, offset)
}

// UpdateSchedule changes a job's cron expression and recomputes its next run.
func (s *Service) UpdateSchedule(ctx context.Context, id, expression string) (*domain.Job, error) {
	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if job.ScheduleKind != domain.ScheduleCron {
		return nil, fmt.Errorf("%w: job %s is manual", ErrCronNotAllowed, id)
	}

	next, err := scheduler.NextRun(expression, s.now().UTC())
	if err != nil {
		return nil, &scheduler.InvalidScheduleError{
			JobID:      id,
			Expression: expression,
			Err:        err,
		}
	}

	job.CronExpression = &expression
	job.NextRunAt = &next
	if job.Status == domain.JobStatusDisabled {
		// A valid schedule clears the disabled flag set by a bad one.
		job.Status = domain.JobStatusPending
		job.ErrorMessage = nil
	}

	if err := s.jobRepo.Update(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("Job schedule updated",
		logger.String("job_id", id),
		logger.String("cron_expression", expression),
		logger.Time("next_run_at", next),
	)

	return job, nil
}

// Delete removes a job and its execution history.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.jobRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Job deleted", logger.String("job_id", id))
	return nil
}

// RunNow records a run request. The scheduler picks it up on its next poll.
func (s *Service) RunNow(ctx context.Context, id string) error {
	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if job.Status == domain.JobStatusDisabled {
		return fmt.Errorf("job %s is disabled", id)
	}

	if err := s.jobRepo.RequestRun(ctx, id, s.now().UTC()); err != nil {
		return err
	}

	s.logger.Info("Run requested", logger.String("job_id", id))
	return nil
}

// Pause stops a job from being scheduled until resumed.
func (s *Service) Pause(ctx context.Context, id string) error {
	if err := s.jobRepo.Pause(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Job paused", logger.String("job_id", id))
	return nil
}

// Resume returns a paused job to the schedulable pool.
func (s *Service) Resume(ctx context.Context, id string) error {
	if err := s.jobRepo.Resume(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Job resumed", logger.String("job_id", id))
	return nil
}

// Executions lists a page of a job's execution history along with the total
// number of executions recorded for it.
func (s *Service) Executions(ctx context.Context, jobID string, limit, offset int) ([]*domain.Execution, int, error) {
	executions, err := s.execRepo.ListByJobID(ctx, jobID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.execRepo.CountByJobID(ctx, jobID)
	if err != nil {
		return nil, 0, err
	}

	return executions, total, nil
}

// LatestExecution returns a job's most recent execution, or nil when the job
// has never run.
func (s *Service) LatestExecution(ctx context.Context, jobID string) (*domain.Execution, error) {
	exec, err := s.execRepo.GetLatestByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, database.ErrExecutionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return exec, nil
}

// Stats aggregates a job's execution statistics.
func (s *Service) Stats(ctx context.Context, jobID string) (*domain.JobStats, error) {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	stats, err := s.execRepo.GetJobStats(ctx, jobID)
	if err != nil {
		return nil, err
	}

	stats.NextScheduledAt = job.NextRunAt
	return stats, nil
}

// AggregateStats aggregates statistics across all jobs.
func (s *Service) AggregateStats(ctx context.Context) (*domain.AggregateStats, error) {
	return s.execRepo.GetAggregateStats(ctx)
}
