package database

import (
	"context"
	"time"

	"github.com/inmobiliario/crawlsched/internal/domain"
)

// JobRepositoryInterface defines the contract for job persistence.
type JobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, status string, limit, offset int) ([]*domain.Job, error)
	Update(ctx context.Context, job *domain.Job) error
	Delete(ctx context.Context, id string) error
	DueJobs(ctx context.Context, now time.Time) ([]*domain.Job, error)
	MarkDispatched(ctx context.Context, id string, nextRun *time.Time) error
	RequestRun(ctx context.Context, id string, at time.Time) error
	Disable(ctx context.Context, id, reason string) error
	UpdateStatus(ctx context.Context, id, status string) error
	RecordOutcome(ctx context.Context, id, status string, retryCount int, errMsg *string) error
	ReleaseIfRunning(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Count(ctx context.Context, status string) (int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// ExecutionRepositoryInterface defines the contract for execution persistence.
type ExecutionRepositoryInterface interface {
	Claim(ctx context.Context, exec *domain.Execution) error
	GetByID(ctx context.Context, id string) (*domain.Execution, error)
	MarkRunning(ctx context.Context, id string, startedAt time.Time) (bool, error)
	MarkTerminal(
		ctx context.Context,
		id string,
		status string,
		completedAt time.Time,
		itemsScraped int,
		errMsg *string,
		result domain.JSONBMap,
	) (bool, error)
	UpdateProgress(ctx context.Context, id string, itemsScraped int) error
	ListByJobID(ctx context.Context, jobID string, limit, offset int) ([]*domain.Execution, error)
	GetLatestByJobID(ctx context.Context, jobID string) (*domain.Execution, error)
	ListActive(ctx context.Context) ([]*domain.Execution, error)
	GetStuck(ctx context.Context, cutoff time.Time) ([]*domain.Execution, error)
	CountByJobID(ctx context.Context, jobID string) (int, error)
	GetJobStats(ctx context.Context, jobID string) (*domain.JobStats, error)
	GetAggregateStats(ctx context.Context) (*domain.AggregateStats, error)
}

// Ensure concrete repositories satisfy their interfaces.
var (
	_ JobRepositoryInterface       = (*JobRepository)(nil)
	_ ExecutionRepositoryInterface = (*ExecutionRepository)(nil)
)
