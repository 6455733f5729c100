// Package bootstrap wires configuration, storage, and services into a
// runnable application.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/inmobiliario/crawlsched/internal/config"
	"github.com/inmobiliario/crawlsched/internal/coordinator"
	"github.com/inmobiliario/crawlsched/internal/database"
	"github.com/inmobiliario/crawlsched/internal/job"
	"github.com/inmobiliario/crawlsched/internal/logger"
	"github.com/inmobiliario/crawlsched/internal/notifier"
	"github.com/inmobiliario/crawlsched/internal/scheduler"
	"github.com/inmobiliario/crawlsched/internal/spider"
)

// App holds the wired application components.
type App struct {
	Config      *config.Config
	Logger      logger.Logger
	DB          *sqlx.DB
	JobRepo     *database.JobRepository
	ExecRepo    *database.ExecutionRepository
	Notifier    notifier.Notifier
	Engine      spider.Engine
	Coordinator *coordinator.Coordinator
	Scheduler   *scheduler.Scheduler
	Jobs        *job.Service
}

// New builds the application from configuration.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	jobRepo := database.NewJobRepository(db)
	execRepo := database.NewExecutionRepository(db)

	var events notifier.Notifier
	if cfg.Redis.Address != "" {
		redisClient, redisErr := notifier.NewRedisClient(cfg.Redis)
		if redisErr != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", redisErr)
		}
		events = notifier.NewRedisNotifier(redisClient, log)
	} else {
		log.Warn("No Redis address configured, execution events stay in memory")
		events = notifier.NewMemoryNotifier()
	}

	engine := spider.NewScrapydEngine(cfg.Engine, log)

	coord := coordinator.New(
		log,
		jobRepo,
		execRepo,
		engine,
		events,
		coordinator.WithMaxWorkers(cfg.Coordinator.MaxWorkers),
		coordinator.WithQueueCapacity(cfg.Coordinator.QueueCapacity),
		coordinator.WithDispatchRetries(cfg.Coordinator.DispatchRetries),
		coordinator.WithDispatchBackoff(cfg.Coordinator.DispatchBackoff),
		coordinator.WithCancellationGrace(cfg.Coordinator.CancellationGrace),
		coordinator.WithStaleThreshold(cfg.Coordinator.StaleThreshold),
		coordinator.WithStaleSweepInterval(cfg.Coordinator.StaleSweep),
	)

	sched := scheduler.New(
		log,
		jobRepo,
		coord,
		scheduler.WithPollInterval(cfg.Scheduler.PollInterval),
	)

	return &App{
		Config:      cfg,
		Logger:      log,
		DB:          db,
		JobRepo:     jobRepo,
		ExecRepo:    execRepo,
		Notifier:    events,
		Engine:      engine,
		Coordinator: coord,
		Scheduler:   sched,
		Jobs:        job.NewService(log, jobRepo, execRepo),
	}, nil
}

// Start brings up the coordinator first so the scheduler never dispatches
// into a pool that is not accepting work.
func (a *App) Start(ctx context.Context) error {
	if err := a.Coordinator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Stop shuts components down in reverse order of startup.
func (a *App) Stop() {
	if err := a.Scheduler.Stop(); err != nil {
		a.Logger.Error("Scheduler shutdown failed", logger.Error(err))
	}
	if err := a.Coordinator.Stop(); err != nil {
		a.Logger.Error("Coordinator shutdown failed", logger.Error(err))
	}
	if err := a.Notifier.Close(); err != nil {
		a.Logger.Error("Notifier shutdown failed", logger.Error(err))
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("Database shutdown failed", logger.Error(err))
	}
	_ = a.Logger.Sync()
}
