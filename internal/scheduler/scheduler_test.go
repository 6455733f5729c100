package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/inmobiliario/crawlsched/internal/coordinator"
	"github.com/inmobiliario/crawlsched/internal/domain"
	"github.com/inmobiliario/crawlsched/internal/logger"
	"github.com/inmobiliario/crawlsched/internal/scheduler"
)

// fakeJobRepo is an in-memory JobRepositoryInterface for scheduler tests.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job

	dispatched []dispatchRecord
	disabled   map[string]string
}

type dispatchRecord struct {
	jobID   string
	nextRun *time.Time
}

func newFakeJobRepo(jobs ...*domain.Job) *fakeJobRepo {
	r := &fakeJobRepo{
		jobs:     make(map[string]*domain.Job),
		disabled: make(map[string]string),
	}
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return r
}

func (r *fakeJobRepo) Create(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	return job, nil
}

func (r *fakeJobRepo) List(_ context.Context, _ string, _, _ int) ([]*domain.Job, error) {
	return nil, nil
}

func (r *fakeJobRepo) Update(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeJobRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

func (r *fakeJobRepo) DueJobs(_ context.Context, now time.Time) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*domain.Job
	for _, j := range r.jobs {
		if j.Status == domain.JobStatusRunning || j.Status == domain.JobStatusDisabled {
			continue
		}
		if j.ScheduleKind == domain.ScheduleCron && j.NextRunAt != nil && !j.NextRunAt.After(now) {
			due = append(due, j)
		}
		if j.ScheduleKind == domain.ScheduleManual && j.RunRequestedAt != nil {
			due = append(due, j)
		}
	}
	return due, nil
}

func (r *fakeJobRepo) MarkDispatched(_ context.Context, id string, nextRun *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	job.NextRunAt = nextRun
	job.RunRequestedAt = nil
	r.dispatched = append(r.dispatched, dispatchRecord{jobID: id, nextRun: nextRun})
	return nil
}

func (r *fakeJobRepo) RequestRun(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.RunRequestedAt = &at
	}
	return nil
}

func (r *fakeJobRepo) Disable(_ context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = domain.JobStatusDisabled
	job.NextRunAt = nil
	r.disabled[id] = reason
	return nil
}

func (r *fakeJobRepo) UpdateStatus(_ context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.Status = status
	}
	return nil
}

func (r *fakeJobRepo) RecordOutcome(_ context.Context, id, status string, retryCount int, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		if job.Status == domain.JobStatusRunning {
			job.Status = status
		}
		job.CurrentRetryCount = retryCount
		job.ErrorMessage = errMsg
	}
	return nil
}

func (r *fakeJobRepo) ReleaseIfRunning(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok && job.Status == domain.JobStatusRunning {
		job.Status = domain.JobStatusPending
	}
	return nil
}

func (r *fakeJobRepo) Pause(_ context.Context, id string) error {
	return r.UpdateStatus(context.Background(), id, domain.JobStatusPaused)
}

func (r *fakeJobRepo) Resume(_ context.Context, id string) error {
	return r.UpdateStatus(context.Background(), id, domain.JobStatusPending)
}

func (r *fakeJobRepo) Count(_ context.Context, _ string) (int, error) {
	return len(r.jobs), nil
}

func (r *fakeJobRepo) CountByStatus(_ context.Context) (map[string]int, error) {
	return nil, nil
}

// fakeDispatcher records dispatches.
type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	err        error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, job *domain.Job) (*domain.Execution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.dispatched = append(d.dispatched, job.ID)
	return &domain.Execution{ID: "exec-" + job.ID, JobID: job.ID}, nil
}

func (d *fakeDispatcher) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.dispatched))
	copy(out, d.dispatched)
	return out
}

func cronJob(id, expr string, nextRun time.Time) *domain.Job {
	return &domain.Job{
		ID:             id,
		Name:           id,
		SpiderName:     "listings",
		StartURLs:      []string{"https://example.com"},
		ScheduleKind:   domain.ScheduleCron,
		CronExpression: &expr,
		NextRunAt:      &nextRun,
		Status:         domain.JobStatusPending,
	}
}

func TestScheduler_Poll_DispatchesDueCronJob(t *testing.T) {
	// An hourly job due at 12:00, polled at 12:05. It runs once and its
	// next run is recomputed from the poll instant, not from 12:00.
	now := time.Date(2026, 8, 31, 12, 5, 0, 0, time.UTC)
	job := cronJob("job-1", "0 * * * *", time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))

	repo := newFakeJobRepo(job)
	dispatcher := &fakeDispatcher{}

	s := scheduler.New(
		logger.NewNop(),
		repo,
		dispatcher,
		scheduler.WithClock(func() time.Time { return now }),
	)

	s.Poll(context.Background())

	if calls := dispatcher.calls(); len(calls) != 1 || calls[0] != "job-1" {
		t.Fatalf("dispatched = %v, want [job-1]", calls)
	}

	wantNext := time.Date(2026, 8, 31, 13, 0, 0, 0, time.UTC)
	if job.NextRunAt == nil || !job.NextRunAt.Equal(wantNext) {
		t.Errorf("next_run_at = %v, want %s", job.NextRunAt, wantNext)
	}

	// A second poll at the same instant finds nothing due.
	s.Poll(context.Background())
	if calls := dispatcher.calls(); len(calls) != 1 {
		t.Errorf("dispatched = %v after second poll, want single dispatch", calls)
	}
}

func TestScheduler_Poll_MissedOccurrencesCollapse(t *testing.T) {
	// The service was down for three hours. Only one run triggers, and the
	// next run lands after the current instant.
	now := time.Date(2026, 8, 31, 15, 30, 0, 0, time.UTC)
	job := cronJob("job-1", "0 * * * *", time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))

	repo := newFakeJobRepo(job)
	dispatcher := &fakeDispatcher{}

	s := scheduler.New(
		logger.NewNop(),
		repo,
		dispatcher,
		scheduler.WithClock(func() time.Time { return now }),
	)

	s.Poll(context.Background())

	if calls := dispatcher.calls(); len(calls) != 1 {
		t.Fatalf("dispatched = %v, want exactly one run for missed occurrences", calls)
	}

	wantNext := time.Date(2026, 8, 31, 16, 0, 0, 0, time.UTC)
	if job.NextRunAt == nil || !job.NextRunAt.Equal(wantNext) {
		t.Errorf("next_run_at = %v, want %s", job.NextRunAt, wantNext)
	}
}

func TestScheduler_Poll_DispatchesManualRunRequest(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	requested := now.Add(-time.Minute)

	job := &domain.Job{
		ID:             "manual-1",
		Name:           "manual-1",
		SpiderName:     "detail",
		StartURLs:      []string{"https://example.com/d"},
		ScheduleKind:   domain.ScheduleManual,
		RunRequestedAt: &requested,
		Status:         domain.JobStatusPending,
	}

	repo := newFakeJobRepo(job)
	dispatcher := &fakeDispatcher{}

	s := scheduler.New(
		logger.NewNop(),
		repo,
		dispatcher,
		scheduler.WithClock(func() time.Time { return now }),
	)

	s.Poll(context.Background())

	if calls := dispatcher.calls(); len(calls) != 1 || calls[0] != "manual-1" {
		t.Fatalf("dispatched = %v, want [manual-1]", calls)
	}

	if job.RunRequestedAt != nil {
		t.Error("run_requested_at not cleared after dispatch")
	}
	if job.NextRunAt != nil {
		t.Errorf("next_run_at = %v for manual job, want nil", job.NextRunAt)
	}

	// The request is consumed; a second poll dispatches nothing.
	s.Poll(context.Background())
	if calls := dispatcher.calls(); len(calls) != 1 {
		t.Errorf("dispatched = %v after second poll, want single dispatch", calls)
	}
}

func TestScheduler_Poll_DisablesJobWithInvalidCron(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	job := cronJob("job-bad", "99 99 * * *", now.Add(-time.Minute))

	repo := newFakeJobRepo(job)
	dispatcher := &fakeDispatcher{}

	s := scheduler.New(
		logger.NewNop(),
		repo,
		dispatcher,
		scheduler.WithClock(func() time.Time { return now }),
	)

	s.Poll(context.Background())

	if calls := dispatcher.calls(); len(calls) != 0 {
		t.Fatalf("dispatched = %v, want none for invalid schedule", calls)
	}

	if job.Status != domain.JobStatusDisabled {
		t.Errorf("status = %s, want disabled", job.Status)
	}
	if job.NextRunAt != nil {
		t.Errorf("next_run_at = %v, want nil after disable", job.NextRunAt)
	}
	if _, ok := repo.disabled["job-bad"]; !ok {
		t.Error("expected disable reason to be recorded")
	}

	metrics := s.GetMetrics()
	if metrics.DisabledCount != 1 {
		t.Errorf("DisabledCount = %d, want 1", metrics.DisabledCount)
	}
}

func TestScheduler_Poll_SkipsActiveJob(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 5, 0, 0, time.UTC)
	job := cronJob("job-1", "0 * * * *", now.Add(-time.Minute))

	repo := newFakeJobRepo(job)
	dispatcher := &fakeDispatcher{err: coordinator.ErrAlreadyRunning}

	s := scheduler.New(
		logger.NewNop(),
		repo,
		dispatcher,
		scheduler.WithClock(func() time.Time { return now }),
	)

	s.Poll(context.Background())

	metrics := s.GetMetrics()
	if metrics.SkippedCount != 1 {
		t.Errorf("SkippedCount = %d, want 1", metrics.SkippedCount)
	}
	if metrics.DispatchedCount != 0 {
		t.Errorf("DispatchedCount = %d, want 0", metrics.DispatchedCount)
	}

	// The schedule still advanced; the occurrence is not replayed.
	if job.NextRunAt == nil || !job.NextRunAt.After(now) {
		t.Errorf("next_run_at = %v, want a future instant", job.NextRunAt)
	}
}
