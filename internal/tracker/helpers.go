package tracker

import (
	"context"
	"errors"
	"fmt"
)

// EnsureExperiment creates the experiment if needed and makes it active.
// An existing experiment is not an error.
func EnsureExperiment(ctx context.Context, c Client, name string) error {
	if _, err := c.CreateExperiment(ctx, name); err != nil && !errors.Is(err, ErrExperimentExists) {
		return fmt.Errorf("create experiment %q: %w", name, err)
	}
	if err := c.SetExperiment(ctx, name); err != nil {
		return fmt.Errorf("set experiment %q: %w", name, err)
	}
	return nil
}

// WithRun starts a run, calls fn and ends the run FINISHED when fn returns
// nil, FAILED otherwise. A panic in fn ends the run FAILED and re-panics.
// The run id is returned even when fn fails.
func WithRun(ctx context.Context, c Client, name string, fn func(Run) error) (runID string, err error) {
	run, err := c.StartRun(ctx, name)
	if err != nil {
		return "", fmt.Errorf("start run %q: %w", name, err)
	}
	runID = run.ID()

	// End uses a context that outlives cancellation so the status lands.
	endCtx := context.WithoutCancel(ctx)
	defer func() {
		if p := recover(); p != nil {
			_ = run.End(endCtx, StatusFailed)
			panic(p)
		}
	}()

	if err = fn(run); err != nil {
		if endErr := run.End(endCtx, StatusFailed); endErr != nil {
			err = errors.Join(err, fmt.Errorf("end run %s: %w", runID, endErr))
		}
		return runID, err
	}
	if err := run.End(endCtx, StatusFinished); err != nil {
		return runID, fmt.Errorf("end run %s: %w", runID, err)
	}
	return runID, nil
}
