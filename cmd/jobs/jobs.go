// Package jobs implements job management commands: create, list, inspect,
// and control crawl jobs from the command line.
package jobs

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/inmobiliario/crawlsched/internal/bootstrap"
	"github.com/inmobiliario/crawlsched/internal/config"
	"github.com/inmobiliario/crawlsched/internal/domain"
	"github.com/inmobiliario/crawlsched/internal/job"
)

const defaultListLimit = 50

// newTable creates a table writer with the CLI's standard style.
func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

func formatTime(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return ts.Format(time.RFC3339)
}

// Command returns the jobs command with its subcommands.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage crawl jobs",
	}

	cmd.AddCommand(createCommand())
	cmd.AddCommand(listCommand())
	cmd.AddCommand(showCommand())
	cmd.AddCommand(runNowCommand())
	cmd.AddCommand(pauseCommand())
	cmd.AddCommand(resumeCommand())
	cmd.AddCommand(deleteCommand())
	cmd.AddCommand(statsCommand())
	cmd.AddCommand(executionsCommand())
	cmd.AddCommand(cancelCommand())

	return cmd
}

// withService loads configuration, wires the application, and runs fn with
// the job service.
func withService(ctx context.Context, fn func(context.Context, *bootstrap.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer app.DB.Close()

	return fn(ctx, app)
}

func createCommand() *cobra.Command {
	var (
		name         string
		spiderName   string
		startURLs    []string
		scheduleKind string
		cronExpr     string
		maxRetries   int
		retryBackoff int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a crawl job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				created, err := app.Jobs.Create(ctx, job.CreateInput{
					Name:                name,
					SpiderName:          spiderName,
					StartURLs:           startURLs,
					ScheduleKind:        domain.ScheduleKind(scheduleKind),
					CronExpression:      cronExpr,
					MaxRetries:          maxRetries,
					RetryBackoffSeconds: retryBackoff,
				})
				if err != nil {
					return err
				}

				fmt.Printf("Created job %s (%s)\n", created.ID, created.Name)
				if created.NextRunAt != nil {
					fmt.Printf("Next run: %s\n", created.NextRunAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "job name (required)")
	cmd.Flags().StringVar(&spiderName, "spider", "", "spider name (required)")
	cmd.Flags().StringSliceVar(&startURLs, "url", nil, "start URL (repeatable, required)")
	cmd.Flags().StringVar(&scheduleKind, "schedule", "manual", "schedule kind: manual or cron")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression (required for cron jobs)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retries after a failed execution")
	cmd.Flags().IntVar(&retryBackoff, "retry-backoff", 60, "base retry backoff in seconds")

	return cmd
}

func listCommand() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List crawl jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				found, err := app.Jobs.List(ctx, status, defaultListLimit, 0)
				if err != nil {
					return err
				}

				if len(found) == 0 {
					fmt.Println("No jobs found")
					return nil
				}

				t := newTable()
				t.AppendHeader(table.Row{"ID", "Name", "Spider", "Schedule", "Status", "Next Run"})
				for _, j := range found {
					t.AppendRow(table.Row{
						j.ID,
						j.Name,
						j.SpiderName,
						j.ScheduleKind,
						j.Status,
						formatTime(j.NextRunAt),
					})
				}
				t.Render()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				j, err := app.Jobs.Get(ctx, args[0])
				if err != nil {
					return err
				}

				fmt.Printf("ID:       %s\n", j.ID)
				fmt.Printf("Name:     %s\n", j.Name)
				fmt.Printf("Spider:   %s\n", j.SpiderName)
				fmt.Printf("URLs:     %s\n", strings.Join(j.StartURLs, ", "))
				fmt.Printf("Schedule: %s\n", j.ScheduleKind)
				if j.CronExpression != nil {
					fmt.Printf("Cron:     %s\n", *j.CronExpression)
				}
				fmt.Printf("Status:   %s\n", j.Status)
				if j.NextRunAt != nil {
					fmt.Printf("Next run: %s\n", j.NextRunAt.Format(time.RFC3339))
				}
				if j.ErrorMessage != nil {
					fmt.Printf("Error:    %s\n", *j.ErrorMessage)
				}

				latest, err := app.Jobs.LatestExecution(ctx, j.ID)
				if err != nil {
					return err
				}
				if latest != nil {
					fmt.Printf("Last execution: %s (%s, items=%d)\n",
						latest.ID, latest.Status, latest.ItemsScraped)
				}
				return nil
			})
		},
	}
}

func runNowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run-now <job-id>",
		Short: "Request an immediate run of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				if err := app.Jobs.RunNow(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Run requested for job %s\n", args[0])
				return nil
			})
		},
	}
}

func pauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <job-id>",
		Short: "Pause a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				if err := app.Jobs.Pause(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Paused job %s\n", args[0])
				return nil
			})
		},
	}
}

func resumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Resume a paused job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				if err := app.Jobs.Resume(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Resumed job %s\n", args[0])
				return nil
			})
		},
	}
}

func deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job and its execution history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				if err := app.Jobs.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted job %s\n", args[0])
				return nil
			})
		},
	}
}

func statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [job-id]",
		Short: "Show execution statistics for a job, or for all jobs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				if len(args) == 1 {
					stats, err := app.Jobs.Stats(ctx, args[0])
					if err != nil {
						return err
					}

					t := newTable()
					t.AppendRow(table.Row{"Executions", stats.TotalExecutions})
					t.AppendRow(table.Row{"Successful", stats.SuccessfulRuns})
					t.AppendRow(table.Row{"Failed", stats.FailedRuns})
					t.AppendRow(table.Row{"Items scraped", stats.TotalItemsScraped})
					t.AppendRow(table.Row{"Success rate", fmt.Sprintf("%.1f%%", stats.SuccessRate*100)})
					t.AppendRow(table.Row{"Last run", formatTime(stats.LastExecutionAt)})
					t.AppendRow(table.Row{"Next run", formatTime(stats.NextScheduledAt)})
					t.Render()
					return nil
				}

				stats, err := app.Jobs.AggregateStats(ctx)
				if err != nil {
					return err
				}

				t := newTable()
				t.AppendRow(table.Row{"Executions", stats.TotalExecutions})
				t.AppendRow(table.Row{"Success rate", fmt.Sprintf("%.1f%%", stats.SuccessRate*100)})
				t.AppendRow(table.Row{"Failure rate", fmt.Sprintf("%.1f%%", stats.FailureRate*100)})
				t.AppendRow(table.Row{"Active jobs", stats.ActiveJobs})
				t.AppendRow(table.Row{"Scheduled jobs", stats.ScheduledJobs})
				t.AppendRow(table.Row{"Completed today", stats.CompletedToday})
				t.AppendRow(table.Row{"Failed today", stats.FailedToday})
				t.Render()
				return nil
			})
		},
	}
}

func executionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "executions <job-id>",
		Short: "List a job's execution history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				executions, total, err := app.Jobs.Executions(ctx, args[0], defaultListLimit, 0)
				if err != nil {
					return err
				}

				if len(executions) == 0 {
					fmt.Println("No executions found")
					return nil
				}

				t := newTable()
				t.AppendHeader(table.Row{"ID", "Status", "Items", "Attempt", "Started", "Completed"})
				for _, e := range executions {
					t.AppendRow(table.Row{
						e.ID,
						e.Status,
						e.ItemsScraped,
						e.RetryAttempt,
						formatTime(e.StartedAt),
						formatTime(e.CompletedAt),
					})
				}
				t.Render()
				fmt.Printf("Showing %d of %d executions\n", len(executions), total)
				return nil
			})
		},
	}
}

func cancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel a pending or running execution",
		Long: `Cancel an execution. The record is marked cancelled immediately; the
service hosting the worker observes the terminal state and stops the
underlying crawl on a best-effort basis.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				if err := app.Coordinator.Cancel(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Cancelled execution %s\n", args[0])
				return nil
			})
		},
	}
}
