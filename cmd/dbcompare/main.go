// Package main provides the CLI entry point for dbcompare, which runs the
// same experiments against MongoDB and PostgreSQL and compares schema
// flexibility, CRUD performance and data integrity.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/dbcompare/backend"
	"github.com/weiihann/dbcompare/config"
	"github.com/weiihann/dbcompare/harness"
	"github.com/weiihann/dbcompare/report"
)

const (
	connectTimeout = 30 * time.Second
	closeTimeout   = 10 * time.Second
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(logger, level)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("comparison failed", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	return &cobra.Command{
		Use:   "dbcompare",
		Short: "Compare MongoDB and PostgreSQL on the same workload",
		Long: `dbcompare runs identical experiments against MongoDB and PostgreSQL,
times every operation and reports which database wins on schema
flexibility, CRUD performance and data integrity.

Connection settings are read from the environment, optionally seeded
from a .env file in the working directory.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runComparison(cmd.Context(), logger, level)
		},
	}
}

func runComparison(ctx context.Context, logger *slog.Logger, level *slog.LevelVar) error {
	cfg, err := config.Load(config.DefaultEnvFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level.Set(cfg.LogLevel)

	// One plan for both backends so they see identical data.
	plan := harness.Plan(harness.PlanConfig{Sizes: cfg.Sizes, Seed: cfg.Seed})

	logger.InfoContext(ctx, "starting comparison",
		slog.Any("sizes", cfg.Sizes),
		slog.Int64("seed", cfg.Seed),
		slog.Int("experiments", len(plan)),
		slog.String("output_dir", cfg.OutputDir),
	)

	runs := make([]report.BackendRun, 0, len(harness.Backends()))
	reachable := 0

	for _, id := range harness.Backends() {
		run := runBackend(ctx, logger, cfg, plan, id)
		if run.Err == nil {
			reachable++
		}

		runs = append(runs, run)
	}

	rep := report.Compare(runs)

	path, err := report.SaveJSON(cfg.OutputDir, rep)
	if err != nil {
		return fmt.Errorf("save results: %w", err)
	}

	logger.InfoContext(ctx, "results written", slog.String("path", path))

	if err := report.Generate(os.Stdout, rep); err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	charts, err := report.RenderCharts(cfg.OutputDir, rep)
	if err != nil {
		logger.WarnContext(ctx, "chart rendering failed", slog.Any("error", err))
	}

	logger.InfoContext(ctx, "charts written", slog.Any("paths", charts))

	if reachable == 0 {
		return errors.New("no backend reachable")
	}

	logger.InfoContext(ctx, "comparison complete",
		slog.String(string(harness.SchemaFlexibility), rep.SchemaFlexibility.Winner),
		slog.String(string(harness.Performance), rep.Performance.Winner),
		slog.String(string(harness.DataIntegrity), rep.DataIntegrity.Winner),
	)

	return nil
}

// runBackend runs the whole plan against one backend. An unreachable
// backend is reported in the returned run rather than as an error so the
// other backend still runs.
func runBackend(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	plan []harness.Experiment,
	id harness.Backend,
) report.BackendRun {
	log := logger.With(slog.String("backend", string(id)))

	openCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	store, err := backend.Open(openCtx, cfg, id)
	cancel()

	if err != nil {
		log.ErrorContext(ctx, "backend unreachable", slog.Any("error", err))

		return report.BackendRun{Backend: id, Err: err}
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()

		if err := store.Close(closeCtx); err != nil {
			log.WarnContext(ctx, "close failed", slog.Any("error", err))
		}
	}()

	results := harness.NewRunner(store, logger).Run(ctx, harness.RunConfig{Timeout: cfg.Timeout}, plan)

	return report.BackendRun{Backend: id, Results: results}
}
