package pipeline

import (
	"context"

	"github.com/banshee-data/modelpipe/internal/monitoring"
	"github.com/banshee-data/modelpipe/internal/tracker"
)

// DefaultModelName is the registered model the pipeline publishes to.
const DefaultModelName = "census_pred"

var registerLogf = monitoring.Component("registrar")

// Registrar publishes a final run's model and moves it to a stage.
type Registrar struct {
	Tracker         tracker.Client
	ModelName       string
	Stage           string
	ArchiveExisting bool
}

// ModelURI is the artifact reference registered for runID.
func ModelURI(runID string) string {
	return tracker.RunsURI(runID, "model")
}

// Register creates a new version of the model from runID and transitions
// it to the configured stage. Neither step is retried.
func (r *Registrar) Register(ctx context.Context, runID string) (tracker.ModelVersion, error) {
	mv, err := r.Tracker.RegisterModel(ctx, ModelURI(runID), r.ModelName)
	if err != nil {
		return tracker.ModelVersion{}, &RegistryError{Op: "register", Err: err}
	}
	registerLogf("registered %s version %d from run %s", mv.Name, mv.Version, runID)

	var opts []tracker.TransitionOption
	if r.ArchiveExisting {
		opts = append(opts, tracker.ArchiveExisting())
	}
	if err := r.Tracker.TransitionStage(ctx, mv.Name, mv.Version, r.Stage, opts...); err != nil {
		return mv, &RegistryError{Op: "transition", Err: err}
	}
	mv.Stage = r.Stage
	registerLogf("%s version %d moved to %s", mv.Name, mv.Version, r.Stage)
	return mv, nil
}
