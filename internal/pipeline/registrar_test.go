package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/modelpipe/internal/model"
	"github.com/banshee-data/modelpipe/internal/tracker"
	"github.com/banshee-data/modelpipe/internal/tracker/trackertest"
)

func runWithModel(t *testing.T, m *trackertest.Memory) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, tracker.EnsureExperiment(ctx, m, "census"))
	id, err := tracker.WithRun(ctx, m, "final", func(r tracker.Run) error {
		return r.LogArtifact(ctx, model.ArtifactPath, []byte("{}"))
	})
	require.NoError(t, err)
	return id
}

func TestRegister(t *testing.T) {
	quietLogs(t)
	m := trackertest.New()
	r := &Registrar{Tracker: m, ModelName: DefaultModelName, Stage: tracker.StageStaging}

	first, err := r.Register(context.Background(), runWithModel(t, m))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, tracker.StageStaging, first.Stage)

	r.ArchiveExisting = true
	second, err := r.Register(context.Background(), runWithModel(t, m))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	vs := m.Versions(DefaultModelName)
	require.Len(t, vs, 2)
	assert.Equal(t, tracker.StageArchived, vs[0].Stage)
	assert.Equal(t, tracker.StageStaging, vs[1].Stage)
	assert.Equal(t, "runs:/"+second.RunID+"/model", vs[1].Source)
}

func TestRegister_Failures(t *testing.T) {
	quietLogs(t)

	t.Run("registration rejected", func(t *testing.T) {
		m := trackertest.New()
		m.RegisterErr = tracker.ErrModelVersionExists
		_, err := (&Registrar{Tracker: m, ModelName: "m", Stage: tracker.StageStaging}).Register(context.Background(), "run")
		var re *RegistryError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, "register", re.Op)
		assert.ErrorIs(t, err, tracker.ErrModelVersionExists)
	})

	t.Run("missing artifact", func(t *testing.T) {
		m := trackertest.New()
		require.NoError(t, tracker.EnsureExperiment(context.Background(), m, "census"))
		id := m.AddRun("empty", nil, nil)
		_, err := (&Registrar{Tracker: m, ModelName: "m", Stage: tracker.StageStaging}).Register(context.Background(), id)
		assert.ErrorIs(t, err, tracker.ErrArtifactNotFound)
	})

	t.Run("transition rejected", func(t *testing.T) {
		m := trackertest.New()
		_, err := (&Registrar{Tracker: m, ModelName: "m", Stage: "Canary"}).Register(context.Background(), runWithModel(t, m))
		var re *RegistryError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, "transition", re.Op)
		assert.ErrorIs(t, err, tracker.ErrInvalidStage)
	})
}
