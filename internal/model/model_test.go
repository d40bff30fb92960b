package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/modelpipe/internal/testutil"
)

func blobs(t *testing.T, n, d int, sep float64, seed uint64) (*mat.Dense, []float64) {
	t.Helper()
	rows, labels := testutil.Blobs(n, d, sep, seed)
	X := mat.NewDense(n, d, nil)
	for i, r := range rows {
		X.SetRow(i, r)
	}
	return X, labels
}

func accuracy(p, y []float64) float64 {
	var ok int
	for i := range p {
		pred := 0.0
		if p[i] >= 0.5 {
			pred = 1
		}
		if pred == y[i] {
			ok++
		}
	}
	return float64(ok) / float64(len(y))
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, []string{FamilyGBDT, FamilyLogistic}, reg.Families())

	_, err := reg.Lookup("svm")
	assert.Error(t, err)

	assert.Error(t, reg.Register(LogisticSpec()), "duplicate family")
	assert.Error(t, reg.Register(Spec{}), "unnamed family")
}

func TestSpec_BuildMergesDefaults(t *testing.T) {
	spec := GBDTSpec()
	e, err := spec.Build(Params{"max_depth": 3, "lr": 0.05})
	require.NoError(t, err)

	p := e.Params()
	assert.Equal(t, 3, p["max_depth"])
	assert.Equal(t, "binary", p["objective"])
	assert.Equal(t, "auc,binary_logloss", p["metric"])
	assert.Equal(t, "gbdt", p["boosting_type"])

	e, err = LogisticSpec().Build(nil)
	require.NoError(t, err)
	assert.Equal(t, 500, e.Params()["max_iter"])
}

func TestLogistic_Fit(t *testing.T) {
	X, y := blobs(t, 200, 4, 2.5, 1)
	for _, solver := range []string{"lbfgs", "gd"} {
		for _, penalty := range []string{"l2", "none"} {
			t.Run(solver+"/"+penalty, func(t *testing.T) {
				m, err := NewLogistic(Params{"solver": solver, "penalty": penalty, "max_iter": 300})
				require.NoError(t, err)
				require.NoError(t, m.Fit(context.Background(), X, y))
				assert.Len(t, m.Weights, 4)
				assert.Greater(t, accuracy(m.PredictProba(X), y), 0.9)
			})
		}
	}
}

func TestLogistic_InvalidParams(t *testing.T) {
	tests := []Params{
		{"penalty": "l1"},
		{"solver": "newton"},
		{"C": 0.0},
		{"C": "big"},
		{"max_iter": 0},
		{"tol": -1.0},
	}
	for _, p := range tests {
		if _, err := NewLogistic(p); err == nil {
			t.Errorf("NewLogistic(%s) succeeded, want error", p.Describe())
		}
	}
}

func TestLogistic_UnfittedPredictsZero(t *testing.T) {
	m, err := NewLogistic(nil)
	require.NoError(t, err)
	X, _ := blobs(t, 4, 2, 1, 1)
	assert.Equal(t, []float64{0, 0, 0, 0}, m.PredictProba(X))
}

func TestGBDT_Fit(t *testing.T) {
	X, y := blobs(t, 200, 4, 2.5, 2)
	m, err := NewGBDT(Params{"n_estimators": 50, "max_depth": 2, "learning_rate": 0.1})
	require.NoError(t, err)
	require.NoError(t, m.Fit(context.Background(), X, y))
	assert.Len(t, m.Trees, 50)
	assert.Greater(t, accuracy(m.PredictProba(X), y), 0.9)
}

func TestGBDT_EarlyStopping(t *testing.T) {
	// Labels carry no signal, so the validation loss stops improving early.
	X, y := blobs(t, 200, 4, 0, 3)
	Xval, yval := blobs(t, 100, 4, 0, 4)
	m, err := NewGBDT(Params{"n_estimators": 300, "max_depth": 3, "learning_rate": 0.3})
	require.NoError(t, err)
	require.NoError(t, m.FitWithValidation(context.Background(), X, y, Xval, yval, 5))

	assert.Less(t, len(m.Trees), 300)
	assert.Equal(t, m.BestIteration, len(m.Trees))
}

func TestGBDT_InvalidParams(t *testing.T) {
	tests := []Params{
		{"objective": "regression"},
		{"boosting_type": "dart"},
		{"metric": "auc,rmse"},
		{"n_estimators": 0},
		{"learning_rate": 0.0},
		{"max_depth": 0},
		{"min_samples_leaf": 0},
		{"lambda": -1.0},
		{"max_depth": 2.5},
	}
	for _, p := range tests {
		if _, err := NewGBDT(p); err == nil {
			t.Errorf("NewGBDT(%s) succeeded, want error", p.Describe())
		}
	}
}

func TestFit_Cancelled(t *testing.T) {
	X, y := blobs(t, 50, 2, 2, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lr, _ := NewLogistic(nil)
	assert.True(t, errors.Is(lr.Fit(ctx, X, y), context.Canceled))
	gb, _ := NewGBDT(nil)
	assert.True(t, errors.Is(gb.Fit(ctx, X, y), context.Canceled))
}

func TestFit_ShapeMismatch(t *testing.T) {
	X, y := blobs(t, 10, 2, 2, 6)
	lr, _ := NewLogistic(nil)
	assert.Error(t, lr.Fit(context.Background(), X, y[:5]))
	gb, _ := NewGBDT(nil)
	assert.Error(t, gb.Fit(context.Background(), X, y[:5]))
}

func TestArtifact_RoundTrip(t *testing.T) {
	X, y := blobs(t, 120, 3, 2, 7)
	ctx := context.Background()

	lr, err := NewLogistic(Params{"C": 10.0})
	require.NoError(t, err)
	require.NoError(t, lr.Fit(ctx, X, y))
	gb, err := NewGBDT(Params{"n_estimators": 20})
	require.NoError(t, err)
	require.NoError(t, gb.Fit(ctx, X, y))

	for family, e := range map[string]Estimator{FamilyLogistic: lr, FamilyGBDT: gb} {
		data, err := Marshal(family, e)
		require.NoError(t, err)
		loaded, gotFamily, err := Load(data)
		require.NoError(t, err)
		assert.Equal(t, family, gotFamily)
		assert.InDeltaSlice(t, e.PredictProba(X), loaded.PredictProba(X), 1e-12)
	}
}

func TestLoad_Errors(t *testing.T) {
	_, _, err := Load([]byte("{"))
	assert.Error(t, err)
	_, _, err = Load([]byte(`{"format":1,"family":"svm","model":{}}`))
	assert.Error(t, err)
	_, _, err = Load([]byte(`{"format":2,"family":"gbdt","model":{}}`))
	assert.Error(t, err)
}
