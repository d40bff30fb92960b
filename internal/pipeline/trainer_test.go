package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/modelpipe/internal/dataset"
	"github.com/banshee-data/modelpipe/internal/metrics"
	"github.com/banshee-data/modelpipe/internal/model"
	"github.com/banshee-data/modelpipe/internal/monitoring"
	"github.com/banshee-data/modelpipe/internal/testutil"
	"github.com/banshee-data/modelpipe/internal/tracker"
	"github.com/banshee-data/modelpipe/internal/tracker/trackertest"
)

func quietLogs(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })
}

// Small grids keep the cross-validation loops fast.
func smallLogistic() model.Spec {
	return model.LogisticSpec().WithSpace(model.SearchSpace{
		"C":      {0.1, 1.0},
		"solver": {"lbfgs"},
	})
}

func smallGBDT() model.Spec {
	return model.GBDTSpec().WithSpace(model.SearchSpace{
		"max_depth":    {2},
		"n_estimators": {10, 20},
	})
}

func testTrainer(c tracker.Client) *Trainer {
	cfg := DefaultTrainerConfig()
	cfg.Workers = 2
	return &Trainer{Tracker: c, Experiment: "census", PipelineRunID: "p1", Config: cfg}
}

func TestTrain_LogsCandidateRun(t *testing.T) {
	quietLogs(t)
	m := trackertest.New()
	table := testutil.BlobTable(t, 200, 3, 2.5, 7)

	res, err := testTrainer(m).Train(context.Background(), smallLogistic(), table)
	require.NoError(t, err)
	assert.Equal(t, model.FamilyLogistic, res.Family)

	rec, err := m.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "logistic_regression_p1", rec.Name)
	assert.Equal(t, tracker.StatusFinished, rec.Status)

	for _, k := range []string{"param_grid", "cv", "scoring", "test_size", "random_state", "estimator", "best_C", "best_solver", "penalty", "max_iter"} {
		assert.Contains(t, rec.Params, k)
	}
	assert.Equal(t, "5", rec.Params["cv"])
	assert.Equal(t, "0.2", rec.Params["test_size"])
	assert.Equal(t, "55", rec.Params["random_state"])
	assert.Equal(t, "500", rec.Params["max_iter"], "family defaults apply during the search")

	auc, err := rec.Metric(metrics.AUCName)
	require.NoError(t, err)
	assert.Greater(t, auc, 0.9)
	for _, k := range []string{metrics.AccuracyName, BestCVScoreName, "true_positives", "precision", "recall", "f1_score"} {
		assert.Contains(t, rec.Metrics, k)
	}

	assert.Equal(t, []string{ReportArtifact, model.ArtifactPath, ROCCurveArtifact, ROCPlotArtifact}, m.Artifacts(res.RunID))

	data, ok := m.Artifact(res.RunID, model.ArtifactPath)
	require.True(t, ok)
	est, family, err := model.Load(data)
	require.NoError(t, err)
	assert.Equal(t, model.FamilyLogistic, family)
	assert.Len(t, est.PredictProba(table.Features), table.Rows())

	data, _ = m.Artifact(res.RunID, ReportArtifact)
	var report metrics.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Contains(t, report.Classes, "1")
}

func TestTrain_Reproducible(t *testing.T) {
	quietLogs(t)
	table := testutil.BlobTable(t, 160, 2, 1.0, 3)

	var aucs []float64
	for range 2 {
		m := trackertest.New()
		res, err := testTrainer(m).Train(context.Background(), smallGBDT(), table)
		require.NoError(t, err)
		rec, err := m.GetRun(context.Background(), res.RunID)
		require.NoError(t, err)
		aucs = append(aucs, rec.Metrics[metrics.AUCName])
		assert.Contains(t, rec.Params, "best_n_estimators")
		assert.Equal(t, "binary", rec.Params["objective"])
	}
	assert.Equal(t, aucs[0], aucs[1])
}

func TestTrain_ROCScoring(t *testing.T) {
	quietLogs(t)
	m := trackertest.New()
	tr := testTrainer(m)
	tr.Config.Scoring = ScoringROCAUC

	res, err := tr.Train(context.Background(), smallLogistic(), testutil.BlobTable(t, 120, 2, 2.0, 5))
	require.NoError(t, err)
	rec, _ := m.GetRun(context.Background(), res.RunID)
	assert.Equal(t, ScoringROCAUC, rec.Params["scoring"])
}

func TestTrain_Preconditions(t *testing.T) {
	quietLogs(t)
	good := testutil.BlobTable(t, 40, 2, 2.0, 1)
	oneClass, err := dataset.New([]string{"a"}, "label", [][]float64{{1}, {2}, {3}}, []float64{1, 1, 1})
	require.NoError(t, err)
	noLabel := &dataset.Table{Columns: good.Columns, Features: good.Features}

	tests := []struct {
		name    string
		spec    model.Spec
		table   *dataset.Table
		wantErr error
	}{
		{"single class", smallLogistic(), oneClass, dataset.ErrNonBinaryLabel},
		{"missing label", smallLogistic(), noLabel, dataset.ErrMissingLabel},
		{"empty space", smallLogistic().WithSpace(model.SearchSpace{}), good, model.ErrEmptySearchSpace},
		{"empty candidates", smallLogistic().WithSpace(model.SearchSpace{"C": {}}), good, model.ErrEmptySearchSpace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := trackertest.New()
			_, err := testTrainer(m).Train(context.Background(), tt.spec, tt.table)
			var pe *PreconditionError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, model.FamilyLogistic, pe.Family)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, m.Runs(), "no run is started")
		})
	}
}

func TestTrain_FailureEndsRunFailed(t *testing.T) {
	quietLogs(t)
	m := trackertest.New()
	spec := smallLogistic().WithSpace(model.SearchSpace{"penalty": {"l1"}})

	_, err := testTrainer(m).Train(context.Background(), spec, testutil.BlobTable(t, 60, 2, 2.0, 2))
	var te *TrainingError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, model.FamilyLogistic, te.Family)

	runs := m.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, tracker.StatusFailed, runs[0].Status)
}

func TestTrain_Cancelled(t *testing.T) {
	quietLogs(t)
	m := trackertest.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testTrainer(m).Train(ctx, smallGBDT(), testutil.BlobTable(t, 60, 2, 2.0, 2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrain_ExperimentAlreadyExists(t *testing.T) {
	quietLogs(t)
	m := trackertest.New()
	_, err := m.CreateExperiment(context.Background(), "census")
	require.NoError(t, err)

	_, err = testTrainer(m).Train(context.Background(), smallLogistic(), testutil.BlobTable(t, 80, 2, 2.0, 4))
	assert.NoError(t, err)
}

func TestSearch_FirstMaximumWins(t *testing.T) {
	quietLogs(t)
	// Every candidate of a separable problem scores a perfect accuracy, so
	// the first grid point must win regardless of worker scheduling.
	table := testutil.BlobTable(t, 100, 2, 20, 9)
	spec := smallLogistic().WithSpace(model.SearchSpace{"C": {1.0, 10.0, 100.0}, "solver": {"lbfgs", "gd"}})
	tr := testTrainer(trackertest.New())
	tr.Config.Workers = 4

	best, score, err := tr.search(context.Background(), spec, table)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, spec.Space.Grid()[0], best)
}
