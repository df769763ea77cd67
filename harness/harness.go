package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RunConfig holds parameters for one backend run.
type RunConfig struct {
	// Timeout bounds the whole run. Zero means no deadline.
	Timeout time.Duration
}

// Runner executes the plan against a single Store.
type Runner struct {
	Store  Store
	Timer  *Timer
	Logger *slog.Logger
}

// NewRunner creates a Runner for store.
func NewRunner(store Store, logger *slog.Logger) *Runner {
	return &Runner{
		Store:  store,
		Timer:  NewTimer(),
		Logger: logger.With(slog.String("backend", string(store.Backend()))),
	}
}

// Run executes every experiment of plan in order and returns one result
// per experiment. A failing experiment never stops the run. When the
// connection is lost the remaining experiments are recorded with the
// connection error instead of being run.
func (r *Runner) Run(ctx context.Context, cfg RunConfig, plan []Experiment) []ExperimentResult {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	results := make([]ExperimentResult, 0, len(plan))

	var lost error

	for _, exp := range plan {
		if lost != nil {
			results = append(results, newResult(exp, r.Store.Backend(), nil, nil, lost))

			continue
		}

		result, err := r.runOne(ctx, exp)
		results = append(results, result)

		if err == nil {
			continue
		}

		if pingErr := r.Store.Ping(ctx); pingErr != nil {
			lost = fmt.Errorf("connection lost: %w", &ConnectionError{Backend: r.Store.Backend(), Err: pingErr})

			r.Logger.ErrorContext(ctx, "backend unreachable, skipping remaining experiments",
				slog.String("experiment", exp.Name),
				slog.String("error", pingErr.Error()),
			)
		}
	}

	return results
}

func (r *Runner) runOne(ctx context.Context, exp Experiment) (result ExperimentResult, err error) {
	logger := r.Logger.With(slog.String("experiment", exp.Name))
	rec := newRecorder(ctx, r.Timer)

	logger.InfoContext(ctx, "starting experiment", slog.String("objective", string(exp.Objective)))

	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			err = &ExperimentError{Experiment: exp.Name, Err: fmt.Errorf("panic: %v", p)}
		}

		if cleanupErr := r.Store.Reset(ctx); cleanupErr != nil {
			logger.WarnContext(ctx, "cleanup failed", slog.String("error", cleanupErr.Error()))

			if err == nil {
				err = &ExperimentError{Experiment: exp.Name, Err: fmt.Errorf("cleanup: %w", cleanupErr)}
			}
		}

		result = newResult(exp, r.Store.Backend(), rec.Timings(), rec.checks, err)
		r.logResult(ctx, logger, result, time.Since(start))
	}()

	if resetErr := r.Store.Reset(ctx); resetErr != nil {
		return result, &ExperimentError{Experiment: exp.Name, Err: fmt.Errorf("reset: %w", resetErr)}
	}

	if scriptErr := exp.Script(ctx, r.Store, rec); scriptErr != nil {
		var expErr *ExperimentError
		if errors.As(scriptErr, &expErr) {
			return result, scriptErr
		}

		return result, &ExperimentError{Experiment: exp.Name, Err: scriptErr}
	}

	return result, nil
}

func (r *Runner) logResult(ctx context.Context, logger *slog.Logger, result ExperimentResult, wall time.Duration) {
	attrs := []any{
		slog.Int("operations", result.Summary.Operations),
		slog.Int("succeeded", result.Summary.Succeeded),
		slog.Int("rejected", result.Summary.Rejected),
		slog.Int("failed", result.Summary.Failed),
		slog.Duration("wall_time", wall),
	}

	if result.Error != "" {
		logger.ErrorContext(ctx, "experiment failed", append(attrs, slog.String("error", result.Error))...)

		return
	}

	for _, op := range result.Operations {
		if op.Outcome == OutcomeFailed {
			logger.WarnContext(ctx, "operation failed",
				slog.String("kind", string(op.Kind)),
				slog.String("label", op.Label),
				slog.String("reason", op.Reason),
			)
		}
	}

	logger.InfoContext(ctx, "experiment finished", attrs...)
}
