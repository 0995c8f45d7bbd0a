package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"helios-hq/saturn/pkg/cli"
	"helios-hq/saturn/pkg/config"
	"helios-hq/saturn/pkg/governor"
	"helios-hq/saturn/pkg/telemetry/logging"
)

var runFlags struct {
	logLevel string
	watch    bool
	dryRun   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the governor",
	Long: `Start the governor with the specified configuration.

The process serves Prometheus metrics, runs the retention scheduler
when a schedule is configured, and optionally watches the config file
to hot-reload budget policies.

Examples:
  # Start with default config
  saturn run

  # Start with custom config and policy hot-reload
  saturn run --config /etc/saturn/config.yaml --watch

  # Validate config without starting
  saturn run --dry-run`,
	RunE: runGovernor,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", false, "reload policies when the config file changes")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runGovernor(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("Saturn v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)

	gov, err := governor.New(cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer gov.Close()
	fmt.Printf("✓ Governor initialized (%d providers)\n", len(gov.Providers()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 2)

	var metricsSrv *http.Server
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Telemetry.Metrics.Path, gov.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:              cfg.Telemetry.Metrics.ListenAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics server starting",
				"address", cfg.Telemetry.Metrics.ListenAddress,
				"path", cfg.Telemetry.Metrics.Path,
			)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s%s\n",
			cfg.Telemetry.Metrics.ListenAddress, cfg.Telemetry.Metrics.Path)
	}

	if err := gov.StartRetention(ctx); err != nil {
		logger.Warn("failed to start retention scheduler", "error", err)
	}

	var watcher *config.Watcher
	if runFlags.watch {
		watcher, err = config.NewWatcher(cfgFile, logger)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		go func() {
			err := watcher.Watch(ctx, func() error {
				next, err := config.LoadWithEnvOverrides(cfgFile)
				if err != nil {
					return err
				}
				return gov.Reload(next)
			})
			if err != nil {
				errChan <- fmt.Errorf("config watcher: %w", err)
			}
		}()
		fmt.Println("✓ Config watcher started")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := cli.WaitForShutdown()
	select {
	case err := <-errChan:
		return cli.NewCommandError("run", err)
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal %s, shutting down gracefully...\n", sig)
		cancel()

		if watcher != nil {
			if err := watcher.Stop(); err != nil {
				logger.Error("failed to stop config watcher", "error", err)
			}
		}
		if metricsSrv != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown failed", "error", err)
			}
		}

		fmt.Println("✓ Governor stopped")
		return nil
	}
}
