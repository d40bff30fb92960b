package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/modelpipe/internal/model"
	"github.com/banshee-data/modelpipe/internal/testutil"
	"github.com/banshee-data/modelpipe/internal/tracker"
	"github.com/banshee-data/modelpipe/internal/tracker/trackertest"
)

func testFinalizer(c tracker.Client) *Finalizer {
	return &Finalizer{Tracker: c, Registry: model.DefaultRegistry(), Experiment: "census", PipelineRunID: "p1"}
}

func TestFinalize_ScenarioC_MergesOverDefaults(t *testing.T) {
	quietLogs(t)
	m := trackertest.New()
	table := testutil.BlobTable(t, 80, 2, 2.0, 11)
	best := BestCandidate{Family: model.FamilyGBDT, RunID: "cand", Params: model.Params{"max_depth": 3, "lr": 0.05}}

	runID, err := testFinalizer(m).Finalize(context.Background(), best, table)
	require.NoError(t, err)

	rec, err := m.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, "gbdt_p1_best", rec.Name)
	assert.Equal(t, tracker.StatusFinished, rec.Status)
	assert.Equal(t, "3", rec.Params["max_depth"])
	assert.Equal(t, "0.05", rec.Params["lr"])
	assert.Equal(t, "binary", rec.Params["objective"])
	assert.Equal(t, "auc,binary_logloss", rec.Params["metric"])
	assert.Equal(t, "gbdt", rec.Params["boosting_type"])
	assert.Empty(t, rec.Metrics, "final runs carry no evaluation metrics")

	data, ok := m.Artifact(runID, model.ArtifactPath)
	require.True(t, ok)
	est, _, err := model.Load(data)
	require.NoError(t, err)
	assert.Equal(t, 3, est.Params()["max_depth"])
}

func TestFinalize_PassesTunedParamsToLogistic(t *testing.T) {
	quietLogs(t)
	m := trackertest.New()
	best := BestCandidate{Family: model.FamilyLogistic, Params: model.Params{"C": 10.0, "solver": "gd"}}

	runID, err := testFinalizer(m).Finalize(context.Background(), best, testutil.BlobTable(t, 60, 2, 2.0, 3))
	require.NoError(t, err)

	data, _ := m.Artifact(runID, model.ArtifactPath)
	est, _, err := model.Load(data)
	require.NoError(t, err)
	p := est.Params()
	assert.Equal(t, 10.0, p["C"])
	assert.Equal(t, "gd", p["solver"])
	assert.Equal(t, 500, p["max_iter"])
}

func TestFinalize_Errors(t *testing.T) {
	quietLogs(t)
	m := trackertest.New()
	table := testutil.BlobTable(t, 40, 2, 2.0, 3)

	_, err := testFinalizer(m).Finalize(context.Background(), BestCandidate{Family: "svm"}, table)
	var pe *PreconditionError
	require.True(t, errors.As(err, &pe), "unknown family: %v", err)
	assert.Equal(t, "svm", pe.Family)
	assert.Empty(t, m.Runs())

	_, err = testFinalizer(m).Finalize(context.Background(),
		BestCandidate{Family: model.FamilyGBDT, Params: model.Params{"max_depth": 0}}, table)
	var te *TrainingError
	require.True(t, errors.As(err, &te))
	runs := m.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, tracker.StatusFailed, runs[0].Status)
}
