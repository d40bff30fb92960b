package tracker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/modelpipe/internal/tracker"
	"github.com/banshee-data/modelpipe/internal/tracker/trackertest"
)

func TestEnsureExperiment_Idempotent(t *testing.T) {
	ctx := context.Background()
	c := trackertest.New()

	require.NoError(t, tracker.EnsureExperiment(ctx, c, "census"))
	require.NoError(t, tracker.EnsureExperiment(ctx, c, "census"))

	_, err := c.CreateExperiment(ctx, "census")
	assert.True(t, errors.Is(err, tracker.ErrExperimentExists))
}

func TestWithRun_Statuses(t *testing.T) {
	ctx := context.Background()
	c := trackertest.New()
	require.NoError(t, tracker.EnsureExperiment(ctx, c, "exp"))

	okID, err := tracker.WithRun(ctx, c, "ok", func(r tracker.Run) error {
		return r.LogMetrics(ctx, map[string]float64{"accuracy": 0.9})
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	failID, err := tracker.WithRun(ctx, c, "fail", func(tracker.Run) error { return boom })
	assert.True(t, errors.Is(err, boom))
	assert.NotEmpty(t, failID)

	var panicID string
	func() {
		defer func() { assert.NotNil(t, recover()) }()
		_, _ = tracker.WithRun(ctx, c, "panic", func(r tracker.Run) error {
			panicID = r.ID()
			panic("bad")
		})
	}()

	for id, want := range map[string]tracker.RunStatus{
		okID:    tracker.StatusFinished,
		failID:  tracker.StatusFailed,
		panicID: tracker.StatusFailed,
	} {
		rec, err := c.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, rec.Status, rec.Name)
	}
}

func TestWithRun_CancelledContextStillEnds(t *testing.T) {
	c := trackertest.New()
	require.NoError(t, tracker.EnsureExperiment(context.Background(), c, "exp"))

	ctx, cancel := context.WithCancel(context.Background())
	id, err := tracker.WithRun(ctx, c, "cancelled", func(tracker.Run) error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)

	rec, err := c.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusFailed, rec.Status)
}

func TestParseRunsURI(t *testing.T) {
	tests := []struct {
		uri      string
		wantRun  string
		wantPath string
		wantErr  bool
	}{
		{"runs:/abc/model", "abc", "model", false},
		{"runs:/abc/model/model.json", "abc", "model/model.json", false},
		{"runs:/abc", "", "", true},
		{"runs://model", "", "", true},
		{"s3://bucket/model", "", "", true},
	}
	for _, tt := range tests {
		run, path, err := tracker.ParseRunsURI(tt.uri)
		if tt.wantErr {
			assert.ErrorIs(t, err, tracker.ErrInvalidURI, tt.uri)
			continue
		}
		require.NoError(t, err, tt.uri)
		assert.Equal(t, tt.wantRun, run)
		assert.Equal(t, tt.wantPath, path)
	}
	assert.Equal(t, "runs:/abc/model", tracker.RunsURI("abc", "/model"))
}

func TestRunRecord_Metric(t *testing.T) {
	rec := &tracker.RunRecord{
		RunInfo: tracker.RunInfo{RunID: "r1"},
		Metrics: map[string]float64{"accuracy": 0.8},
	}
	v, err := rec.Metric("accuracy")
	require.NoError(t, err)
	assert.Equal(t, 0.8, v)

	_, err = rec.Metric("test_auc_score")
	assert.ErrorIs(t, err, tracker.ErrMissingMetric)
}

func TestValidStage(t *testing.T) {
	for _, s := range []string{"None", "Staging", "Production", "Archived"} {
		assert.True(t, tracker.ValidStage(s), s)
	}
	assert.False(t, tracker.ValidStage("staging"))
	assert.False(t, tracker.ValidStage(""))
}
