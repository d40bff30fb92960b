package pipeline

import (
	"context"
	"fmt"

	"github.com/banshee-data/modelpipe/internal/dataset"
	"github.com/banshee-data/modelpipe/internal/model"
	"github.com/banshee-data/modelpipe/internal/monitoring"
	"github.com/banshee-data/modelpipe/internal/tracker"
)

var finalLogf = monitoring.Component("finalizer")

// Finalizer retrains the selected family on the entire table.
type Finalizer struct {
	Tracker       tracker.Client
	Registry      *model.Registry
	Experiment    string
	PipelineRunID string
}

// RunName is the tracking run name for the final model of family.
func (f *Finalizer) RunName(family string) string {
	return family + "_" + f.PipelineRunID + "_best"
}

// Finalize fits best.Family with best.Params merged over the family
// defaults, without a hold-out split, and logs the merged params and the
// model artifact. It returns the final run id.
func (f *Finalizer) Finalize(ctx context.Context, best BestCandidate, table *dataset.Table) (string, error) {
	spec, err := f.Registry.Lookup(best.Family)
	if err != nil {
		return "", &PreconditionError{Family: best.Family, Err: err}
	}
	if err := table.Validate(); err != nil {
		return "", &PreconditionError{Family: best.Family, Err: err}
	}
	merged := model.Merge(spec.Defaults, best.Params)
	finalLogf("%s: retraining on %d rows with %s", best.Family, table.Rows(), merged.Describe())

	if err := tracker.EnsureExperiment(ctx, f.Tracker, f.Experiment); err != nil {
		return "", &TrainingError{Family: best.Family, Err: err}
	}
	runID, err := tracker.WithRun(ctx, f.Tracker, f.RunName(best.Family), func(run tracker.Run) error {
		est, err := spec.New(merged)
		if err != nil {
			return fmt.Errorf("build %s: %w", best.Family, err)
		}
		if err := est.Fit(ctx, table.Features, table.Labels); err != nil {
			return fmt.Errorf("fit %s: %w", best.Family, err)
		}
		params := merged.Encode("")
		params["estimator"] = best.Family
		params["candidate_run_id"] = best.RunID
		if err := run.LogParams(ctx, params); err != nil {
			return fmt.Errorf("log params: %w", err)
		}
		data, err := model.Marshal(best.Family, est)
		if err != nil {
			return err
		}
		if err := run.LogArtifact(ctx, model.ArtifactPath, data); err != nil {
			return fmt.Errorf("log artifact %s: %w", model.ArtifactPath, err)
		}
		return nil
	})
	if err != nil {
		return "", &TrainingError{Family: best.Family, Err: err}
	}
	finalLogf("%s: final run %s finished", best.Family, runID)
	return runID, nil
}
