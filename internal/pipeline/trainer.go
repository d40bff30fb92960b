// Package pipeline trains one candidate run per model family, selects the
// best by held-out AUC, retrains it on all data and registers the result.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/banshee-data/modelpipe/internal/dataset"
	"github.com/banshee-data/modelpipe/internal/metrics"
	"github.com/banshee-data/modelpipe/internal/model"
	"github.com/banshee-data/modelpipe/internal/monitoring"
	"github.com/banshee-data/modelpipe/internal/tracker"
)

// Scoring names accepted for cross-validation.
const (
	ScoringAccuracy = "accuracy"
	ScoringROCAUC   = "roc_auc"
)

// Artifact paths written by every candidate run.
const (
	ReportArtifact   = "classification_report.json"
	ROCPlotArtifact  = "roc_curve.png"
	ROCCurveArtifact = "roc_curve.json"
)

// Metric holding the winning mean cross-validation score.
const BestCVScoreName = "best_cv_score"

var trainLogf = monitoring.Component("trainer")

// TrainerConfig controls the split, the search and the final fit.
type TrainerConfig struct {
	TestSize            float64
	Seed                uint64
	Folds               int
	Scoring             string
	Workers             int
	EarlyStoppingRounds int
	ValidationFraction  float64
}

// DefaultTrainerConfig returns an 80/20 split with seed 55, five folds
// scored on accuracy and one worker per CPU.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		TestSize:            0.2,
		Seed:                55,
		Folds:               5,
		Scoring:             ScoringAccuracy,
		Workers:             runtime.NumCPU(),
		EarlyStoppingRounds: 5,
		ValidationFraction:  0.1,
	}
}

// TrainingResult identifies the candidate run produced for one family.
type TrainingResult struct {
	RunID  string
	Family string
}

// Trainer grid-searches one family and records the tuned candidate as a
// tracking run. A Trainer holds no per-call state and may train several
// families concurrently.
type Trainer struct {
	Tracker       tracker.Client
	Experiment    string
	PipelineRunID string
	Config        TrainerConfig
}

// RunName is the tracking run name for a family's candidate.
func (t *Trainer) RunName(family string) string {
	return family + "_" + t.PipelineRunID
}

// Train runs the full candidate procedure for spec on table. Input problems
// are reported as *PreconditionError before any run is started; anything
// after that is a *TrainingError and the run ends FAILED.
func (t *Trainer) Train(ctx context.Context, spec model.Spec, table *dataset.Table) (TrainingResult, error) {
	if err := table.Validate(); err != nil {
		return TrainingResult{}, &PreconditionError{Family: spec.Family, Err: err}
	}
	if err := spec.Space.Validate(); err != nil {
		return TrainingResult{}, &PreconditionError{Family: spec.Family, Err: err}
	}
	if err := tracker.EnsureExperiment(ctx, t.Tracker, t.Experiment); err != nil {
		return TrainingResult{}, &TrainingError{Family: spec.Family, Err: err}
	}

	runID, err := tracker.WithRun(ctx, t.Tracker, t.RunName(spec.Family), func(run tracker.Run) error {
		return t.train(ctx, run, spec, table)
	})
	if err != nil {
		return TrainingResult{}, &TrainingError{Family: spec.Family, Err: err}
	}
	trainLogf("%s: candidate run %s finished", spec.Family, runID)
	return TrainingResult{RunID: runID, Family: spec.Family}, nil
}

func (t *Trainer) train(ctx context.Context, run tracker.Run, spec model.Spec, table *dataset.Table) error {
	cfg := t.Config
	trainIdx, testIdx, err := dataset.StratifiedSplit(table.Labels, cfg.TestSize, cfg.Seed)
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}
	train, test := table.Subset(trainIdx), table.Subset(testIdx)
	trainLogf("%s: %d train rows, %d test rows, %d candidates",
		spec.Family, train.Rows(), test.Rows(), spec.Space.Size())

	best, cvScore, err := t.search(ctx, spec, train)
	if err != nil {
		return err
	}
	trainLogf("%s: best %s (cv %s %.4f)", spec.Family, best.Describe(), cfg.Scoring, cvScore)

	est, err := t.fitFinal(ctx, spec, best, train)
	if err != nil {
		return err
	}

	eval, err := metrics.Evaluate(test.Labels, est.PredictProba(test.Features))
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	trainLogf("%s: test auc %.4f accuracy %.4f", spec.Family, eval.AUC, eval.Accuracy)

	params := est.Params().Encode("")
	params["param_grid"] = spec.Space.String()
	params["cv"] = strconv.Itoa(cfg.Folds)
	params["scoring"] = cfg.Scoring
	params["test_size"] = model.EncodeValue(cfg.TestSize)
	params["random_state"] = strconv.FormatUint(cfg.Seed, 10)
	params["estimator"] = spec.Family
	for k, v := range best.Encode("best_") {
		params[k] = v
	}
	if err := run.LogParams(ctx, params); err != nil {
		return fmt.Errorf("log params: %w", err)
	}

	values := eval.Metrics()
	values[BestCVScoreName] = cvScore
	if g, ok := est.(*model.GBDT); ok && g.BestIteration > 0 {
		values["best_iteration"] = float64(g.BestIteration)
	}
	if err := run.LogMetrics(ctx, values); err != nil {
		return fmt.Errorf("log metrics: %w", err)
	}

	return logEvaluationArtifacts(ctx, run, spec.Family, est, eval)
}

func logEvaluationArtifacts(ctx context.Context, run tracker.Run, family string, est model.Estimator, eval *metrics.Evaluation) error {
	modelJSON, err := model.Marshal(family, est)
	if err != nil {
		return err
	}
	report, err := json.MarshalIndent(eval.Report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	curve, err := json.Marshal(eval.ROC)
	if err != nil {
		return fmt.Errorf("marshal roc curve: %w", err)
	}
	plot, err := metrics.PlotROC(eval.ROC, fmt.Sprintf("%s ROC (AUC %.3f)", family, eval.AUC))
	if err != nil {
		return err
	}

	for _, a := range []struct {
		path string
		data []byte
	}{
		{model.ArtifactPath, modelJSON},
		{ReportArtifact, report},
		{ROCCurveArtifact, curve},
		{ROCPlotArtifact, plot},
	} {
		if err := run.LogArtifact(ctx, a.path, a.data); err != nil {
			return fmt.Errorf("log artifact %s: %w", a.path, err)
		}
	}
	return nil
}

// fold is one cross-validation split materialised as tables.
type fold struct {
	train, test *dataset.Table
}

// search scores every grid point with stratified k-fold cross-validation on
// a bounded pool of workers. Scores are stored by grid index and the first
// maximum wins, so scheduling never changes the outcome.
func (t *Trainer) search(ctx context.Context, spec model.Spec, train *dataset.Table) (model.Params, float64, error) {
	cfg := t.Config
	idx, err := dataset.StratifiedKFold(train.Labels, dataset.AllRows(train.Rows()), cfg.Folds, cfg.Seed)
	if err != nil {
		return nil, 0, fmt.Errorf("cross-validation folds: %w", err)
	}
	folds := make([]fold, len(idx))
	for i, f := range idx {
		folds[i] = fold{train: train.Subset(f.Train), test: train.Subset(f.Test)}
	}

	grid := spec.Space.Grid()
	scores := make([]float64, len(grid))
	errs := make([]error, len(grid))

	jobs := make(chan int, len(grid))
	for i := range grid {
		jobs <- i
	}
	close(jobs)

	workers := max(1, min(cfg.Workers, len(grid)))
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for i := range jobs {
				scores[i], errs[i] = t.crossValidate(ctx, spec, grid[i], folds)
			}
		}()
	}
	wg.Wait()

	best := -1
	for i := range grid {
		if errs[i] != nil {
			return nil, 0, fmt.Errorf("candidate %s: %w", grid[i].Describe(), errs[i])
		}
		if best < 0 || scores[i] > scores[best] {
			best = i
		}
	}
	return grid[best], scores[best], nil
}

func (t *Trainer) crossValidate(ctx context.Context, spec model.Spec, p model.Params, folds []fold) (float64, error) {
	var sum float64
	for _, f := range folds {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		est, err := spec.Build(p)
		if err != nil {
			return 0, err
		}
		if err := est.Fit(ctx, f.train.Features, f.train.Labels); err != nil {
			return 0, err
		}
		s, err := score(t.Config.Scoring, f.test.Labels, est.PredictProba(f.test.Features))
		if err != nil {
			return 0, err
		}
		sum += s
	}
	return sum / float64(len(folds)), nil
}

func score(scoring string, y, proba []float64) (float64, error) {
	switch scoring {
	case ScoringROCAUC:
		return metrics.AUC(y, proba)
	case ScoringAccuracy, "":
		return metrics.Accuracy(y, metrics.Predict(proba))
	default:
		return 0, fmt.Errorf("unknown scoring %q", scoring)
	}
}

// fitFinal retrains the winning configuration on the whole train partition.
// Boosting families hold out a stratified validation slice for early
// stopping.
func (t *Trainer) fitFinal(ctx context.Context, spec model.Spec, best model.Params, train *dataset.Table) (model.Estimator, error) {
	cfg := t.Config
	est, err := spec.Build(best)
	if err != nil {
		return nil, err
	}
	es, ok := est.(model.EarlyStopper)
	if !ok || cfg.EarlyStoppingRounds <= 0 || cfg.ValidationFraction <= 0 {
		if err := est.Fit(ctx, train.Features, train.Labels); err != nil {
			return nil, fmt.Errorf("fit: %w", err)
		}
		return est, nil
	}

	fitIdx, valIdx, err := dataset.StratifiedSplit(train.Labels, cfg.ValidationFraction, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("validation split: %w", err)
	}
	fit, val := train.Subset(fitIdx), train.Subset(valIdx)
	if err := es.FitWithValidation(ctx, fit.Features, fit.Labels, val.Features, val.Labels, cfg.EarlyStoppingRounds); err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	return est, nil
}
