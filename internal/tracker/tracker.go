// Package tracker defines the experiment-tracking interface the pipeline
// stages depend on: experiments, runs with params, metrics and artifacts,
// and a model registry with lifecycle stages.
//
// Two backends implement Client: sqlitestore keeps everything in a local
// SQLite database plus an artifact directory, and mlflow talks to an
// MLflow tracking server over REST.
package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
	StatusFailed   RunStatus = "FAILED"
	StatusKilled   RunStatus = "KILLED"
)

// Terminal reports whether s ends a run.
func (s RunStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusKilled
}

// Model registry stages.
const (
	StageNone       = "None"
	StageStaging    = "Staging"
	StageProduction = "Production"
	StageArchived   = "Archived"
)

// ValidStage reports whether stage is one of the registry stages.
func ValidStage(stage string) bool {
	switch stage {
	case StageNone, StageStaging, StageProduction, StageArchived:
		return true
	}
	return false
}

// RunInfo describes a run.
type RunInfo struct {
	RunID        string
	ExperimentID string
	Name         string
	Status       RunStatus
	StartTime    time.Time
	EndTime      time.Time
	ArtifactURI  string
}

// RunRecord is a run with everything logged to it.
type RunRecord struct {
	RunInfo
	Params  map[string]string
	Metrics map[string]float64
}

// Metric returns the named metric or ErrMissingMetric.
func (r *RunRecord) Metric(name string) (float64, error) {
	v, ok := r.Metrics[name]
	if !ok {
		return 0, fmt.Errorf("run %s: %w: %s", r.RunID, ErrMissingMetric, name)
	}
	return v, nil
}

// ModelVersion is one registered version of a model.
type ModelVersion struct {
	Name        string
	Version     int
	Source      string
	RunID       string
	Stage       string
	CreatedTime time.Time
}

// Run is an open tracking run. End must be called on every exit path and
// is idempotent.
type Run interface {
	ID() string
	LogParams(ctx context.Context, params map[string]string) error
	LogMetrics(ctx context.Context, metrics map[string]float64) error
	LogArtifact(ctx context.Context, path string, data []byte) error
	End(ctx context.Context, status RunStatus) error
}

// Client is an experiment tracker. Implementations are safe for concurrent
// use; SetExperiment affects only runs started after it.
type Client interface {
	CreateExperiment(ctx context.Context, name string) (string, error)
	SetExperiment(ctx context.Context, name string) error
	StartRun(ctx context.Context, runName string) (Run, error)
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	RegisterModel(ctx context.Context, artifactURI, modelName string) (ModelVersion, error)
	TransitionStage(ctx context.Context, name string, version int, stage string, opts ...TransitionOption) error
}

// TransitionOptions tune TransitionStage.
type TransitionOptions struct {
	// ArchiveExisting moves other versions in the target stage to Archived.
	ArchiveExisting bool
}

// TransitionOption sets a TransitionOptions field.
type TransitionOption func(*TransitionOptions)

// ArchiveExisting archives other versions already in the target stage.
func ArchiveExisting() TransitionOption {
	return func(o *TransitionOptions) { o.ArchiveExisting = true }
}

// ApplyTransitionOptions folds opts into a TransitionOptions.
func ApplyTransitionOptions(opts []TransitionOption) TransitionOptions {
	var o TransitionOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RunsURI builds the runs:/<run_id>/<path> URI for a run artifact.
func RunsURI(runID, path string) string {
	return "runs:/" + runID + "/" + strings.TrimPrefix(path, "/")
}

// ParseRunsURI splits a runs:/<run_id>/<path> URI.
func ParseRunsURI(uri string) (runID, path string, err error) {
	rest, ok := strings.CutPrefix(uri, "runs:/")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	runID, path, ok = strings.Cut(rest, "/")
	if !ok || runID == "" || path == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return runID, path, nil
}
