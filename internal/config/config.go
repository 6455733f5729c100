// Package config loads service configuration from config files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/inmobiliario/crawlsched/internal/database"
	"github.com/inmobiliario/crawlsched/internal/logger"
	"github.com/inmobiliario/crawlsched/internal/notifier"
	"github.com/inmobiliario/crawlsched/internal/spider"
)

// Scheduling and execution defaults. Production safe.
const (
	DefaultPollInterval      = 10 * time.Second
	DefaultMaxWorkers        = 4
	DefaultQueueCapacity     = 64
	DefaultDispatchRetries   = 3
	DefaultDispatchBackoff   = 2 * time.Second
	DefaultCancellationGrace = 30 * time.Second
	DefaultStaleThreshold    = 2 * time.Hour
	DefaultStaleSweep        = 1 * time.Minute
)

// Config is the top-level service configuration.
type Config struct {
	App         AppConfig            `yaml:"app"`
	Logger      logger.Config        `yaml:"logger"`
	Database    database.Config      `yaml:"database"`
	Redis       notifier.RedisConfig `yaml:"redis"`
	Engine      spider.ScrapydConfig `yaml:"engine"`
	Scheduler   SchedulerConfig      `yaml:"scheduler"`
	Coordinator CoordinatorConfig    `yaml:"coordinator"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Debug       bool   `yaml:"debug"`
}

// SchedulerConfig holds scheduler settings.
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// CoordinatorConfig holds execution coordinator settings.
type CoordinatorConfig struct {
	MaxWorkers        int           `yaml:"max_workers"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	DispatchRetries   int           `yaml:"dispatch_retries"`
	DispatchBackoff   time.Duration `yaml:"dispatch_backoff"`
	CancellationGrace time.Duration `yaml:"cancellation_grace"`
	StaleThreshold    time.Duration `yaml:"stale_threshold"`
	StaleSweep        time.Duration `yaml:"stale_sweep_interval"`
}

// Initialize configures Viper from the environment and an optional config
// file. Must be called before Load.
func Initialize() error {
	// Ignore a missing .env file
	_ = godotenv.Load()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	// Ignore a missing config file; env vars and defaults suffice
	_ = viper.ReadInConfig()

	return nil
}

func setDefaults() {
	viper.SetDefault("app", map[string]any{
		"name":        "crawlsched",
		"environment": "production",
		"debug":       false,
	})

	viper.SetDefault("logger", map[string]any{
		"level":        "info",
		"development":  false,
		"output_paths": []string{"stdout"},
	})

	viper.SetDefault("database", map[string]any{
		"host":    "localhost",
		"port":    "5432",
		"user":    "postgres",
		"dbname":  "crawlsched",
		"sslmode": "disable",
	})

	viper.SetDefault("redis", map[string]any{
		"address": "localhost:6379",
		"db":      0,
	})

	viper.SetDefault("engine", map[string]any{
		"base_url":      "http://localhost:6800",
		"project":       "listings",
		"poll_interval": "5s",
		"stop_timeout":  "10s",
	})

	viper.SetDefault("scheduler", map[string]any{
		"poll_interval": DefaultPollInterval.String(),
	})

	viper.SetDefault("coordinator", map[string]any{
		"max_workers":          DefaultMaxWorkers,
		"queue_capacity":       DefaultQueueCapacity,
		"dispatch_retries":     DefaultDispatchRetries,
		"dispatch_backoff":     DefaultDispatchBackoff.String(),
		"cancellation_grace":   DefaultCancellationGrace.String(),
		"stale_threshold":      DefaultStaleThreshold.String(),
		"stale_sweep_interval": DefaultStaleSweep.String(),
	})
}

// Load builds the configuration from Viper's current state.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:        viper.GetString("app.name"),
			Environment: viper.GetString("app.environment"),
			Debug:       viper.GetBool("app.debug"),
		},
		Logger: logger.Config{
			Level:       viper.GetString("logger.level"),
			Development: viper.GetBool("logger.development"),
			OutputPaths: viper.GetStringSlice("logger.output_paths"),
		},
		Database: database.Config{
			Host:     viper.GetString("database.host"),
			Port:     viper.GetString("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.dbname"),
			SSLMode:  viper.GetString("database.sslmode"),
		},
		Redis: notifier.RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Engine: spider.ScrapydConfig{
			BaseURL:      viper.GetString("engine.base_url"),
			Project:      viper.GetString("engine.project"),
			PollInterval: viper.GetDuration("engine.poll_interval"),
			StopTimeout:  viper.GetDuration("engine.stop_timeout"),
		},
		Scheduler: SchedulerConfig{
			PollInterval: viper.GetDuration("scheduler.poll_interval"),
		},
		Coordinator: CoordinatorConfig{
			MaxWorkers:        viper.GetInt("coordinator.max_workers"),
			QueueCapacity:     viper.GetInt("coordinator.queue_capacity"),
			DispatchRetries:   viper.GetInt("coordinator.dispatch_retries"),
			DispatchBackoff:   viper.GetDuration("coordinator.dispatch_backoff"),
			CancellationGrace: viper.GetDuration("coordinator.cancellation_grace"),
			StaleThreshold:    viper.GetDuration("coordinator.stale_threshold"),
			StaleSweep:        viper.GetDuration("coordinator.stale_sweep_interval"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Database.DBName == "" {
		return errors.New("database.dbname is required")
	}
	if c.Engine.BaseURL == "" {
		return errors.New("engine.base_url is required")
	}
	if c.Engine.Project == "" {
		return errors.New("engine.project is required")
	}
	if c.Scheduler.PollInterval <= 0 {
		return errors.New("scheduler.poll_interval must be positive")
	}
	if c.Coordinator.MaxWorkers <= 0 {
		return errors.New("coordinator.max_workers must be positive")
	}
	return nil
}
