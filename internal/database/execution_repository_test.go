package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/inmobiliario/crawlsched/internal/database"
	"github.com/inmobiliario/crawlsched/internal/domain"
)

func executionColumns() []string {
	return []string{
		"id", "job_id", "status", "started_at", "completed_at",
		"items_scraped", "error_message", "result", "retry_attempt", "created_at",
	}
}

func TestExecutionRepository_Claim(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewExecutionRepository(db)

	createdAt := time.Now()

	mock.ExpectQuery("INSERT INTO job_executions").
		WithArgs("exec-1", "job-1", 0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(createdAt))

	exec := &domain.Execution{
		ID:    "exec-1",
		JobID: "job-1",
	}

	if err := repo.Claim(context.Background(), exec); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	if exec.Status != domain.ExecutionStatusPending {
		t.Errorf("Claim() status = %s, want pending", exec.Status)
	}
	if exec.CreatedAt.IsZero() {
		t.Error("expected created_at to be populated")
	}
}

func TestExecutionRepository_Claim_ActiveExecutionExists(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewExecutionRepository(db)

	mock.ExpectQuery("INSERT INTO job_executions").
		WithArgs("exec-2", "job-1", 0, sqlmock.AnyArg()).
		WillReturnError(&pq.Error{
			Code:       "23505",
			Constraint: "job_executions_active_idx",
		})

	exec := &domain.Execution{
		ID:    "exec-2",
		JobID: "job-1",
	}

	err := repo.Claim(context.Background(), exec)
	if !errors.Is(err, database.ErrDuplicateActiveExecution) {
		t.Fatalf("Claim() error = %v, want ErrDuplicateActiveExecution", err)
	}
}

func TestExecutionRepository_MarkRunning(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewExecutionRepository(db)

	startedAt := time.Now()

	mock.ExpectExec("UPDATE job_executions").
		WithArgs(startedAt, "exec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	started, err := repo.MarkRunning(context.Background(), "exec-1", startedAt)
	if err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if !started {
		t.Error("MarkRunning() = false, want true")
	}
}

func TestExecutionRepository_MarkRunning_NoLongerPending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewExecutionRepository(db)

	startedAt := time.Now()

	// Cancelled while queued: the guard matches no rows.
	mock.ExpectExec("UPDATE job_executions").
		WithArgs(startedAt, "exec-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	started, err := repo.MarkRunning(context.Background(), "exec-1", startedAt)
	if err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if started {
		t.Error("MarkRunning() = true, want false for non-pending execution")
	}
}

func TestExecutionRepository_MarkTerminal_Idempotent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewExecutionRepository(db)

	completedAt := time.Now()

	mock.ExpectExec("UPDATE job_executions").
		WithArgs("completed", completedAt, 42, nil, sqlmock.AnyArg(), "exec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := repo.MarkTerminal(
		context.Background(), "exec-1", domain.ExecutionStatusCompleted, completedAt, 42, nil, nil,
	)
	if err != nil {
		t.Fatalf("MarkTerminal() error = %v", err)
	}
	if !updated {
		t.Fatal("MarkTerminal() = false, want true for first report")
	}

	// The second report matches no rows and is a no-op.
	mock.ExpectExec("UPDATE job_executions").
		WithArgs("completed", completedAt, 42, nil, sqlmock.AnyArg(), "exec-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err = repo.MarkTerminal(
		context.Background(), "exec-1", domain.ExecutionStatusCompleted, completedAt, 42, nil, nil,
	)
	if err != nil {
		t.Fatalf("MarkTerminal() second report error = %v", err)
	}
	if updated {
		t.Error("MarkTerminal() = true on duplicate report, want false")
	}
}

func TestExecutionRepository_UpdateProgress(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewExecutionRepository(db)

	mock.ExpectExec("UPDATE job_executions").
		WithArgs(120, "exec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateProgress(context.Background(), "exec-1", 120); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
}

func TestExecutionRepository_UpdateProgress_NotRunning(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewExecutionRepository(db)

	mock.ExpectExec("UPDATE job_executions").
		WithArgs(10, "exec-gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateProgress(context.Background(), "exec-gone", 10)
	if !errors.Is(err, database.ErrExecutionNotFound) {
		t.Fatalf("UpdateProgress() error = %v, want ErrExecutionNotFound", err)
	}
}

func TestExecutionRepository_GetStuck(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewExecutionRepository(db)

	cutoff := time.Now().Add(-2 * time.Hour)
	startedAt := cutoff.Add(-time.Hour)

	// One abandoned running execution and one pending claim that never
	// reached a worker. Both count as stuck.
	rows := sqlmock.NewRows(executionColumns()).
		AddRow("exec-1", "job-1", "pending", nil, nil, 0, nil, nil, 0, startedAt).
		AddRow("exec-2", "job-2", "running", &startedAt, nil, 0, nil, nil, 0, startedAt)

	mock.ExpectQuery(`SELECT (.+) FROM job_executions\s+WHERE status IN \('pending', 'running'\)`).
		WithArgs(cutoff).
		WillReturnRows(rows)

	stuck, err := repo.GetStuck(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("GetStuck() error = %v", err)
	}

	if len(stuck) != 2 || stuck[0].ID != "exec-1" || stuck[1].ID != "exec-2" {
		t.Errorf("GetStuck() = %v, want exec-1 and exec-2", stuck)
	}
}
