// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/naka-gawa/clone-traffic/internal/config"
	"github.com/naka-gawa/clone-traffic/internal/gateway"
	"github.com/naka-gawa/clone-traffic/internal/logging"
	"github.com/naka-gawa/clone-traffic/internal/metrics"
	"github.com/naka-gawa/clone-traffic/internal/scheduler"
	"github.com/naka-gawa/clone-traffic/internal/store"
	"github.com/naka-gawa/clone-traffic/internal/usecase"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "clone-traffic [config]",
	Short: "Records GitHub clone traffic into a local SQLite database.",
	Long: `clone-traffic fetches the daily clone counters of every repository listed
in the configuration file (default: config.json) and merges them into a local
SQLite database. Re-running never loses or double-counts a day: each stored
counter only ever grows to the largest value GitHub has reported.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         runCollect,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.Flags().String("schedule", "", "Cron expression; when set, keep running and collect on every tick")
	rootCmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this file after each run")
}

func runCollect(cmd *cobra.Command, args []string) error {
	path := config.DefaultPath
	if len(args) == 1 {
		path = args[0]
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	schedule, _ := cmd.Flags().GetString("schedule")
	metricsFile, _ := cmd.Flags().GetString("metrics-file")

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if schedule != "" {
		if err := scheduler.Validate(schedule); err != nil {
			return err
		}
	}

	logger := logging.New(verbose, cfg.LogFile)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", cfg.DBPath, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	}()
	if err := st.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to set up database %s: %w", cfg.DBPath, err)
	}

	fetcher, err := gateway.NewGitHubGateway(cfg.Token, gateway.Options{
		BaseURL:          cfg.APIURL,
		UserAgent:        cfg.UserAgent,
		Timeout:          cfg.RequestTimeout,
		RateLimitMaxWait: cfg.RateLimitMaxWait,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create GitHub gateway: %w", err)
	}

	m := metrics.New()
	collector := usecase.NewCollector(fetcher, st, m, logger)
	targets := cfg.Targets()

	runOnce := func(ctx context.Context) {
		summary := collector.Run(ctx, targets)
		m.RunFinished()
		fmt.Fprintf(cmd.OutOrStdout(), "%d new downloads\n", summary.NewDownloads)
		if metricsFile != "" {
			if err := m.WriteTextfile(metricsFile); err != nil {
				logger.Error("failed to write metrics", zap.Error(err))
			}
		}
	}

	if schedule == "" {
		runOnce(ctx)
		return nil
	}
	return scheduler.Run(ctx, schedule, runOnce, logger)
}
