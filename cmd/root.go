// Package cmd implements the command-line interface for the crawl job
// scheduler service.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inmobiliario/crawlsched/cmd/jobs"
	"github.com/inmobiliario/crawlsched/cmd/migrate"
	"github.com/inmobiliario/crawlsched/cmd/run"
	"github.com/inmobiliario/crawlsched/internal/config"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "crawlsched",
		Short: "Crawl job scheduling and execution coordinator",
		Long: `crawlsched schedules real-estate crawl jobs and coordinates their
executions against a spider engine. Jobs run on cron schedules or on
demand; every run is recorded with its outcome.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"config file (default is ./config.yaml or ./config/config.yaml)",
	)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crawlsched version %s\n", "1.0.0")
		},
	})

	rootCmd.AddCommand(run.Command())
	rootCmd.AddCommand(migrate.Command())
	rootCmd.AddCommand(jobs.Command())
}
