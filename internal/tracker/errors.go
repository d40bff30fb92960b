package tracker

import "errors"

var (
	// ErrExperimentExists is returned by CreateExperiment for a name already
	// in use. Callers creating an experiment idempotently discard it.
	ErrExperimentExists = errors.New("experiment already exists")
	// ErrExperimentNotFound is returned when no experiment has the name.
	ErrExperimentNotFound = errors.New("experiment not found")
	// ErrNoActiveExperiment is returned by StartRun before SetExperiment.
	ErrNoActiveExperiment = errors.New("no active experiment")
	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunEnded is returned when logging to a terminated run.
	ErrRunEnded = errors.New("run already ended")
	// ErrParamConflict is returned when a param is logged twice with
	// different values.
	ErrParamConflict = errors.New("param already logged with a different value")
	// ErrMissingMetric is returned when a run lacks a required metric.
	ErrMissingMetric = errors.New("metric missing from run")
	// ErrArtifactNotFound is returned when a referenced artifact is absent.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrRegisteredModelExists is returned when creating a registered model
	// whose name is taken. RegisterModel discards it.
	ErrRegisteredModelExists = errors.New("registered model already exists")
	// ErrModelVersionExists is returned when a model version collides.
	ErrModelVersionExists = errors.New("model version already exists")
	// ErrModelVersionNotFound is returned for an unknown name/version.
	ErrModelVersionNotFound = errors.New("model version not found")
	// ErrInvalidStage is returned for a stage outside the lifecycle set.
	ErrInvalidStage = errors.New("invalid model stage")
	// ErrInvalidURI is returned for an artifact URI that is not runs:/<id>/<path>.
	ErrInvalidURI = errors.New("invalid artifact uri")
)
