package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/modelpipe/internal/dataset"
	"github.com/banshee-data/modelpipe/internal/fsutil"
	"github.com/banshee-data/modelpipe/internal/model"
	"github.com/banshee-data/modelpipe/internal/monitoring"
	"github.com/banshee-data/modelpipe/internal/report"
	"github.com/banshee-data/modelpipe/internal/tracker"
)

var orchLogf = monitoring.Component("pipeline")

// State is a pipeline lifecycle step.
type State string

const (
	StatePrepared   State = "Prepared"
	StateTrained    State = "Trained"
	StateSelected   State = "Selected"
	StateFinalized  State = "Finalized"
	StateRegistered State = "Registered"
	StateFailed     State = "Failed"
)

// Options wires an Orchestrator.
type Options struct {
	Tracker    tracker.Client
	Families   []model.Spec
	Experiment string

	// ModelName defaults to DefaultModelName and Stage to Staging.
	ModelName       string
	Stage           string
	ArchiveExisting bool

	Trainer TrainerConfig

	// PipelineRunID tags every run name. A random id is used when empty.
	PipelineRunID string

	// ReportPath, when set, receives the HTML comparison page through FS.
	ReportPath string
	FS         fsutil.FileSystem
}

// Outcome records what one execution produced.
type Outcome struct {
	PipelineRunID string
	Results       []TrainingResult
	Best          BestCandidate
	FinalRunID    string
	Version       tracker.ModelVersion
	States        []State
}

// Orchestrator runs the train, select, finalize and register stages.
type Orchestrator struct {
	runID      string
	families   []model.Spec
	reportPath string
	fs         fsutil.FileSystem

	trainer   *Trainer
	selector  *Selector
	finalizer *Finalizer
	registrar *Registrar
}

// NewPipelineRunID returns a short random identifier.
func NewPipelineRunID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// New validates o and builds the stages around one shared tracker client.
func New(o Options) (*Orchestrator, error) {
	if o.Tracker == nil {
		return nil, errors.New("pipeline: tracker is required")
	}
	if o.Experiment == "" {
		return nil, errors.New("pipeline: experiment name is required")
	}
	if len(o.Families) == 0 {
		return nil, errors.New("pipeline: at least one model family is required")
	}
	registry := model.NewRegistry()
	for _, spec := range o.Families {
		if err := registry.Register(spec); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}
	if o.ModelName == "" {
		o.ModelName = DefaultModelName
	}
	if o.Stage == "" {
		o.Stage = tracker.StageStaging
	}
	if !tracker.ValidStage(o.Stage) {
		return nil, fmt.Errorf("pipeline: %w: %q", tracker.ErrInvalidStage, o.Stage)
	}
	if o.PipelineRunID == "" {
		o.PipelineRunID = NewPipelineRunID()
	}
	if o.FS == nil {
		o.FS = fsutil.OSFileSystem{}
	}

	return &Orchestrator{
		runID:      o.PipelineRunID,
		families:   append([]model.Spec(nil), o.Families...),
		reportPath: o.ReportPath,
		fs:         o.FS,
		trainer: &Trainer{
			Tracker:       o.Tracker,
			Experiment:    o.Experiment,
			PipelineRunID: o.PipelineRunID,
			Config:        o.Trainer,
		},
		selector: &Selector{Tracker: o.Tracker},
		finalizer: &Finalizer{
			Tracker:       o.Tracker,
			Registry:      registry,
			Experiment:    o.Experiment,
			PipelineRunID: o.PipelineRunID,
		},
		registrar: &Registrar{
			Tracker:         o.Tracker,
			ModelName:       o.ModelName,
			Stage:           o.Stage,
			ArchiveExisting: o.ArchiveExisting,
		},
	}, nil
}

// PipelineRunID is the id embedded in every run name of this execution.
func (o *Orchestrator) PipelineRunID() string { return o.runID }

func (o *Orchestrator) transition(out *Outcome, s State) {
	out.States = append(out.States, s)
	orchLogf("%s: %s", o.runID, s)
}

func (o *Orchestrator) fail(out *Outcome, err error) (Outcome, error) {
	o.transition(out, StateFailed)
	return *out, err
}

// RunSource loads the table from src once and runs the pipeline on it.
func (o *Orchestrator) RunSource(ctx context.Context, src dataset.Source) (Outcome, error) {
	table, err := src.Load(ctx)
	if err != nil {
		out := Outcome{PipelineRunID: o.runID}
		return o.fail(&out, fmt.Errorf("load data: %w", err))
	}
	return o.Run(ctx, table)
}

// Run executes every stage on table. One goroutine trains each family and
// selection waits for all of them; if any branch failed the pipeline stops
// with the branch errors joined. Later stage errors also stop it. Nothing is
// retried.
func (o *Orchestrator) Run(ctx context.Context, table *dataset.Table) (Outcome, error) {
	out := Outcome{PipelineRunID: o.runID}
	o.transition(&out, StatePrepared)

	if err := o.checkPreconditions(table); err != nil {
		return o.fail(&out, err)
	}
	results, err := o.trainAll(ctx, table)
	if err != nil {
		return o.fail(&out, err)
	}
	out.Results = results
	o.transition(&out, StateTrained)

	best, err := o.selector.Select(ctx, results)
	if err != nil {
		return o.fail(&out, fmt.Errorf("select: %w", err))
	}
	out.Best = best
	o.transition(&out, StateSelected)

	if o.reportPath != "" {
		if err := report.Write(o.fs, o.reportPath, o.comparison(best)); err != nil {
			orchLogf("%s: comparison report not written: %v", o.runID, err)
		} else {
			orchLogf("%s: comparison report written to %s", o.runID, o.reportPath)
		}
	}

	finalRunID, err := o.finalizer.Finalize(ctx, best, table)
	if err != nil {
		return o.fail(&out, fmt.Errorf("finalize: %w", err))
	}
	out.FinalRunID = finalRunID
	o.transition(&out, StateFinalized)

	mv, err := o.registrar.Register(ctx, finalRunID)
	if err != nil {
		return o.fail(&out, err)
	}
	out.Version = mv
	o.transition(&out, StateRegistered)
	return out, nil
}

// checkPreconditions validates the table and every family's search space
// so that no branch starts training when any of them would be rejected.
func (o *Orchestrator) checkPreconditions(table *dataset.Table) error {
	tableErr := table.Validate()
	var errs []error
	for _, spec := range o.families {
		if tableErr != nil {
			errs = append(errs, &PreconditionError{Family: spec.Family, Err: tableErr})
			continue
		}
		if err := spec.Space.Validate(); err != nil {
			errs = append(errs, &PreconditionError{Family: spec.Family, Err: err})
		}
	}
	return errors.Join(errs...)
}

// trainAll fans out one trainer per family and joins on all of them.
func (o *Orchestrator) trainAll(ctx context.Context, table *dataset.Table) ([]TrainingResult, error) {
	results := make([]TrainingResult, len(o.families))
	errs := make([]error, len(o.families))

	var wg sync.WaitGroup
	for i, spec := range o.families {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					errs[i] = &TrainingError{Family: spec.Family, Err: fmt.Errorf("panic: %v", p)}
				}
			}()
			results[i], errs[i] = o.trainer.Train(ctx, spec, table)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return results, nil
}

func (o *Orchestrator) comparison(best BestCandidate) report.Comparison {
	c := report.Comparison{PipelineRunID: o.runID, WinnerRunID: best.RunID}
	for _, cand := range best.Candidates {
		c.Candidates = append(c.Candidates, report.Candidate(cand))
	}
	return c
}
