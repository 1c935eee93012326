package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"difffuzz/internal/archive"
	"difffuzz/internal/config"
	"difffuzz/internal/driver"
	"difffuzz/internal/lane"
	"difffuzz/internal/logging"
	"difffuzz/internal/observ"
	"difffuzz/internal/outcome"
	"difffuzz/internal/progress"
	"difffuzz/internal/tools"
	"difffuzz/internal/ui"
)

// logFileName is where logs go while the dashboard owns the terminal.
const logFileName = "difffuzz.log"

func init() {
	f := rootCmd.Flags()
	f.IntP("jobs", "j", 0, "number of executions in flight (default: GOMAXPROCS)")
	f.String("progress", "auto", "progress display (auto|log|dashboard)")
	f.Int("limit", 0, "stop after this many tasks (0: run until interrupted)")
	f.Duration("timeout", 0, "wall-clock bound for one target execution (default from config: 60s)")
	f.Bool("no-shrink", false, "archive crashing inputs without shrinking them")
	f.Bool("timings", false, "print per-phase timings on exit")
}

func runFuzz(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd, args)
	if err != nil {
		return err
	}
	mode, err := readProgressMode(cfg.Run.Progress)
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return fmt.Errorf("failed to get limit flag: %w", err)
	}
	showTimings, err := cmd.Flags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}

	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// The dashboard puts the terminal in raw mode, so ctrl+c arrives as a key
	// press and cancels through here instead of SIGINT.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, tracer, cleanupTrace, err := setupTracing(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanupTrace()

	if err := os.MkdirAll(cfg.Run.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	arch, err := archive.Open(cfg.Run.FailDir, cfg.Run.Ext)
	if err != nil {
		return err
	}

	jobs := effectiveJobs(cfg)
	var fallbackReason string
	reporter := progress.Select(mode, cmd.OutOrStdout(), progress.SelectConfig{
		LogInterval: cfg.Run.LogEvery,
		Dashboard:   dashboardFactory(cfg, jobs, cancel),
		OnFallback:  func(reason string) { fallbackReason = reason },
	})
	_, dashboard := reporter.(*ui.Dashboard)

	logger, err := newLogger(cmd, cfg, dashboard)
	if err != nil {
		reporter.Finalize()
		return err
	}
	defer func() { _ = logger.Sync() }()
	if fallbackReason != "" && mode == progress.ModeDashboard {
		logger.Warn("dashboard unavailable, falling back to log output", zap.String("reason", fallbackReason))
	}

	var timings *observ.Timer
	if showTimings {
		timings = observ.NewTimer()
	}
	runners := buildLanes(cfg, jobs, arch, logger, timings)

	logger.Info("starting",
		zap.String("target", cfg.Target.Path),
		zap.Int("jobs", jobs),
		zap.Duration("timeout", cfg.Target.Timeout.Duration),
		zap.String("fail_dir", arch.Dir()),
		zap.String("run_id", arch.RunID()),
		zap.Bool("shrink", cfg.Shrink.Enabled),
		zap.String("config", cfg.Source),
	)

	sched := driver.New(runners, reporter, driver.Options{
		Limit:   limit,
		FirstID: arch.MaxTaskID() + 1,
		Logger:  logger,
	})
	runErr := sched.Run(ctx)
	if err := arch.Flush(); err != nil {
		logger.Error("failed to write archive index", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		dumpTrace(cmd, tracer)
		return runErr
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "tasks: %d, crashes: %d, timeouts: %d (archive: %s)\n",
		sched.Issued(), arch.Count(outcome.Crash), arch.Count(outcome.Timeout), arch.Dir())
	if timings != nil {
		fmt.Fprint(out, timings.Summary())
	}
	return nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config, dashboard bool) (*zap.Logger, error) {
	levelStr, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}
	path, err := cmd.Flags().GetString("log-file")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-file flag: %w", err)
	}
	if path == "" && dashboard {
		path = filepath.Join(cfg.Run.WorkDir, logFileName)
	}
	return logging.New(level, path)
}

func dashboardFactory(cfg *config.Config, jobs int, interrupt func()) progress.DashboardFactory {
	return func(out *os.File, width, _ int) (progress.Reporter, error) {
		d, err := ui.StartDashboard(out, ui.DashboardConfig{
			Title:        filepath.Base(cfg.Target.Path),
			Lanes:        jobs,
			RefreshEvery: cfg.Run.RefreshEvery,
			Width:        width,
			OnInterrupt:  interrupt,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

func buildLanes(cfg *config.Config, jobs int, arch *archive.Archive, logger *zap.Logger, timings *observ.Timer) []driver.Runner {
	lcfg := lane.Config{
		WorkDir:   cfg.Run.WorkDir,
		Ext:       cfg.Run.Ext,
		SeedBytes: cfg.Generator.SeedBytes,
		Generator: &tools.Generator{
			Command: cfg.Generator.Command,
			Flags:   cfg.Generator.Flags,
			Timeout: cfg.Generator.Timeout.Duration,
		},
		Target: &tools.Target{
			Path:    cfg.Target.Path,
			Timeout: cfg.Target.Timeout.Duration,
		},
		Archive: arch,
		Logger:  logger,
		Timings: timings,
	}
	if cfg.Shrink.Enabled {
		lcfg.Shrinker = &tools.Shrinker{
			Command: cfg.Shrink.Command,
			Target:  cfg.Target.Path,
			Timeout: cfg.Shrink.Timeout.Duration,
		}
	}
	runners := make([]driver.Runner, jobs)
	for i := range runners {
		runners[i] = lane.New(i, lcfg)
	}
	return runners
}
