package job_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/inmobiliario/crawlsched/internal/database"
	"github.com/inmobiliario/crawlsched/internal/domain"
	"github.com/inmobiliario/crawlsched/internal/job"
	"github.com/inmobiliario/crawlsched/internal/logger"
	"github.com/inmobiliario/crawlsched/internal/scheduler"
)

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemJobRepo(jobs ...*domain.Job) *memJobRepo {
	r := &memJobRepo{jobs: make(map[string]*domain.Job)}
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return r
}

func (r *memJobRepo) Create(_ context.Context, j *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j.CreatedAt = time.Now()
	j.UpdatedAt = j.CreatedAt
	r.jobs[j.ID] = j
	return nil
}

func (r *memJobRepo) GetByID(_ context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", database.ErrJobNotFound, id)
	}
	return j, nil
}

func (r *memJobRepo) List(_ context.Context, _ string, _, _ int) ([]*domain.Job, error) {
	return nil, nil
}

func (r *memJobRepo) Update(_ context.Context, j *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID]; !ok {
		return fmt.Errorf("%w: %s", database.ErrJobNotFound, j.ID)
	}
	r.jobs[j.ID] = j
	return nil
}

func (r *memJobRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", database.ErrJobNotFound, id)
	}
	delete(r.jobs, id)
	return nil
}

func (r *memJobRepo) DueJobs(_ context.Context, _ time.Time) ([]*domain.Job, error) {
	return nil, nil
}

func (r *memJobRepo) MarkDispatched(_ context.Context, _ string, _ *time.Time) error { return nil }

func (r *memJobRepo) RequestRun(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", database.ErrJobNotFound, id)
	}
	j.RunRequestedAt = &at
	return nil
}

func (r *memJobRepo) Disable(_ context.Context, _, _ string) error        { return nil }
func (r *memJobRepo) UpdateStatus(_ context.Context, _, _ string) error   { return nil }
func (r *memJobRepo) RecordOutcome(_ context.Context, _, _ string, _ int, _ *string) error {
	return nil
}
func (r *memJobRepo) ReleaseIfRunning(_ context.Context, _ string) error { return nil }
func (r *memJobRepo) Pause(_ context.Context, _ string) error             { return nil }
func (r *memJobRepo) Resume(_ context.Context, _ string) error            { return nil }
func (r *memJobRepo) Count(_ context.Context, _ string) (int, error)      { return 0, nil }
func (r *memJobRepo) CountByStatus(_ context.Context) (map[string]int, error) {
	return nil, nil
}

type memExecRepo struct {
	executions []*domain.Execution
}

func (memExecRepo) Claim(_ context.Context, _ *domain.Execution) error { return nil }
func (memExecRepo) GetByID(_ context.Context, _ string) (*domain.Execution, error) {
	return nil, nil
}
func (memExecRepo) MarkRunning(_ context.Context, _ string, _ time.Time) (bool, error) {
	return false, nil
}
func (memExecRepo) MarkTerminal(
	_ context.Context, _ string, _ string, _ time.Time, _ int, _ *string, _ domain.JSONBMap,
) (bool, error) {
	return false, nil
}
func (memExecRepo) UpdateProgress(_ context.Context, _ string, _ int) error { return nil }
func (r memExecRepo) ListByJobID(_ context.Context, jobID string, limit, offset int) ([]*domain.Execution, error) {
	var out []*domain.Execution
	for _, e := range r.executions {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
func (r memExecRepo) GetLatestByJobID(_ context.Context, jobID string) (*domain.Execution, error) {
	for i := len(r.executions) - 1; i >= 0; i-- {
		if r.executions[i].JobID == jobID {
			return r.executions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: job %s", database.ErrExecutionNotFound, jobID)
}
func (memExecRepo) ListActive(_ context.Context) ([]*domain.Execution, error) { return nil, nil }
func (memExecRepo) GetStuck(_ context.Context, _ time.Time) ([]*domain.Execution, error) {
	return nil, nil
}
func (r memExecRepo) CountByJobID(_ context.Context, jobID string) (int, error) {
	count := 0
	for _, e := range r.executions {
		if e.JobID == jobID {
			count++
		}
	}
	return count, nil
}
func (memExecRepo) GetJobStats(_ context.Context, _ string) (*domain.JobStats, error) {
	return &domain.JobStats{}, nil
}
func (memExecRepo) GetAggregateStats(_ context.Context) (*domain.AggregateStats, error) {
	return &domain.AggregateStats{}, nil
}

func newService(repo *memJobRepo) *job.Service {
	return job.NewService(logger.NewNop(), repo, memExecRepo{})
}

func TestService_Create_Validation(t *testing.T) {
	tests := []struct {
		name    string
		input   job.CreateInput
		wantErr error
	}{
		{
			name: "missing name",
			input: job.CreateInput{
				SpiderName:   "listings",
				StartURLs:    []string{"https://example.com"},
				ScheduleKind: domain.ScheduleManual,
			},
			wantErr: job.ErrNameRequired,
		},
		{
			name: "missing spider",
			input: job.CreateInput{
				Name:         "nightly",
				StartURLs:    []string{"https://example.com"},
				ScheduleKind: domain.ScheduleManual,
			},
			wantErr: job.ErrSpiderRequired,
		},
		{
			name: "missing start urls",
			input: job.CreateInput{
				Name:         "nightly",
				SpiderName:   "listings",
				ScheduleKind: domain.ScheduleManual,
			},
			wantErr: job.ErrStartURLsRequired,
		},
		{
			name: "cron job without expression",
			input: job.CreateInput{
				Name:         "nightly",
				SpiderName:   "listings",
				StartURLs:    []string{"https://example.com"},
				ScheduleKind: domain.ScheduleCron,
			},
			wantErr: job.ErrCronRequired,
		},
		{
			name: "manual job with expression",
			input: job.CreateInput{
				Name:           "nightly",
				SpiderName:     "listings",
				StartURLs:      []string{"https://example.com"},
				ScheduleKind:   domain.ScheduleManual,
				CronExpression: "0 0 * * *",
			},
			wantErr: job.ErrCronNotAllowed,
		},
		{
			name: "unknown schedule kind",
			input: job.CreateInput{
				Name:         "nightly",
				SpiderName:   "listings",
				StartURLs:    []string{"https://example.com"},
				ScheduleKind: domain.ScheduleKind("weekly"),
			},
			wantErr: job.ErrUnknownScheduleKind,
		},
		{
			name: "negative retries",
			input: job.CreateInput{
				Name:         "nightly",
				SpiderName:   "listings",
				StartURLs:    []string{"https://example.com"},
				ScheduleKind: domain.ScheduleManual,
				MaxRetries:   -1,
			},
			wantErr: job.ErrNegativeRetries,
		},
	}

	svc := newService(newMemJobRepo())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Create() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_Create_CronJobGetsNextRun(t *testing.T) {
	svc := newService(newMemJobRepo())

	created, err := svc.Create(context.Background(), job.CreateInput{
		Name:           "hourly-listings",
		SpiderName:     "listings",
		StartURLs:      []string{"https://example.com"},
		ScheduleKind:   domain.ScheduleCron,
		CronExpression: "0 * * * *",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if created.NextRunAt == nil {
		t.Fatal("expected next_run_at to be set for cron job")
	}
	if !created.NextRunAt.After(time.Now().Add(-time.Minute)) {
		t.Errorf("next_run_at = %s, want a future instant", created.NextRunAt)
	}
	if created.Status != domain.JobStatusPending {
		t.Errorf("status = %s, want pending", created.Status)
	}
}

func TestService_Create_InvalidCronRejected(t *testing.T) {
	svc := newService(newMemJobRepo())

	_, err := svc.Create(context.Background(), job.CreateInput{
		Name:           "broken",
		SpiderName:     "listings",
		StartURLs:      []string{"https://example.com"},
		ScheduleKind:   domain.ScheduleCron,
		CronExpression: "99 99 * * *",
	})

	var schedErr *scheduler.InvalidScheduleError
	if !errors.As(err, &schedErr) {
		t.Fatalf("Create() error = %v, want InvalidScheduleError", err)
	}
}

func TestService_Create_ManualJobHasNoNextRun(t *testing.T) {
	svc := newService(newMemJobRepo())

	created, err := svc.Create(context.Background(), job.CreateInput{
		Name:         "on-demand",
		SpiderName:   "detail",
		StartURLs:    []string{"https://example.com/d"},
		ScheduleKind: domain.ScheduleManual,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if created.NextRunAt != nil {
		t.Errorf("next_run_at = %v for manual job, want nil", created.NextRunAt)
	}
}

func TestService_UpdateSchedule_ReenablesDisabledJob(t *testing.T) {
	badExpr := "bad expr"
	reason := "invalid cron"
	existing := &domain.Job{
		ID:             "job-1",
		Name:           "hourly",
		SpiderName:     "listings",
		StartURLs:      []string{"https://example.com"},
		ScheduleKind:   domain.ScheduleCron,
		CronExpression: &badExpr,
		Status:         domain.JobStatusDisabled,
		ErrorMessage:   &reason,
	}

	svc := newService(newMemJobRepo(existing))

	updated, err := svc.UpdateSchedule(context.Background(), "job-1", "*/30 * * * *")
	if err != nil {
		t.Fatalf("UpdateSchedule() error = %v", err)
	}

	if updated.Status != domain.JobStatusPending {
		t.Errorf("status = %s, want pending after valid schedule", updated.Status)
	}
	if updated.ErrorMessage != nil {
		t.Errorf("error_message = %v, want nil", *updated.ErrorMessage)
	}
	if updated.NextRunAt == nil {
		t.Error("expected next_run_at to be recomputed")
	}
}

func TestService_RunNow_DisabledJobRejected(t *testing.T) {
	existing := &domain.Job{
		ID:           "job-1",
		Name:         "broken",
		SpiderName:   "listings",
		StartURLs:    []string{"https://example.com"},
		ScheduleKind: domain.ScheduleManual,
		Status:       domain.JobStatusDisabled,
	}

	svc := newService(newMemJobRepo(existing))

	if err := svc.RunNow(context.Background(), "job-1"); err == nil {
		t.Fatal("RunNow() on disabled job expected error, got nil")
	}
}

func TestService_RunNow_RecordsRequest(t *testing.T) {
	existing := &domain.Job{
		ID:           "job-1",
		Name:         "on-demand",
		SpiderName:   "detail",
		StartURLs:    []string{"https://example.com"},
		ScheduleKind: domain.ScheduleManual,
		Status:       domain.JobStatusPending,
	}

	repo := newMemJobRepo(existing)
	svc := newService(repo)

	if err := svc.RunNow(context.Background(), "job-1"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}

	stored, err := repo.GetByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.RunRequestedAt == nil {
		t.Error("expected run_requested_at to be recorded")
	}
}

func TestService_Executions_PaginatedWithTotal(t *testing.T) {
	existing := &domain.Job{ID: "job-1", Name: "listings", Status: domain.JobStatusPending}
	repo := newMemJobRepo(existing)

	execRepo := memExecRepo{executions: []*domain.Execution{
		{ID: "exec-1", JobID: "job-1", Status: domain.ExecutionStatusCompleted},
		{ID: "exec-2", JobID: "job-1", Status: domain.ExecutionStatusFailed},
		{ID: "exec-3", JobID: "job-1", Status: domain.ExecutionStatusCompleted},
		{ID: "exec-other", JobID: "job-2", Status: domain.ExecutionStatusCompleted},
	}}
	svc := job.NewService(logger.NewNop(), repo, execRepo)

	executions, total, err := svc.Executions(context.Background(), "job-1", 2, 1)
	if err != nil {
		t.Fatalf("Executions() error = %v", err)
	}
	if total != 3 {
		t.Errorf("Executions() total = %d, want 3", total)
	}
	if len(executions) != 2 || executions[0].ID != "exec-2" || executions[1].ID != "exec-3" {
		t.Errorf("Executions() page = %v, want exec-2 and exec-3", executions)
	}
}

func TestService_LatestExecution(t *testing.T) {
	existing := &domain.Job{ID: "job-1", Name: "listings", Status: domain.JobStatusPending}
	repo := newMemJobRepo(existing)

	svc := job.NewService(logger.NewNop(), repo, memExecRepo{})
	latest, err := svc.LatestExecution(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("LatestExecution() error = %v", err)
	}
	if latest != nil {
		t.Errorf("LatestExecution() = %v, want nil for a never-run job", latest)
	}

	execRepo := memExecRepo{executions: []*domain.Execution{
		{ID: "exec-1", JobID: "job-1", Status: domain.ExecutionStatusFailed},
		{ID: "exec-2", JobID: "job-1", Status: domain.ExecutionStatusCompleted},
	}}
	svc = job.NewService(logger.NewNop(), repo, execRepo)
	latest, err = svc.LatestExecution(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("LatestExecution() error = %v", err)
	}
	if latest == nil || latest.ID != "exec-2" {
		t.Errorf("LatestExecution() = %v, want exec-2", latest)
	}
}
