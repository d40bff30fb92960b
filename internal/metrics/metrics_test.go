package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAUC(t *testing.T) {
	tests := []struct {
		name   string
		y      []float64
		scores []float64
		want   float64
	}{
		{"gonum example", []float64{1, 0, 1, 0}, []float64{0.1, 0.35, 0.4, 0.8}, 0.25},
		{"perfect", []float64{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9}, 1},
		{"inverted", []float64{1, 1, 0, 0}, []float64{0.1, 0.2, 0.8, 0.9}, 0},
		{"all tied", []float64{0, 1, 0, 1}, []float64{0.5, 0.5, 0.5, 0.5}, 0.5},
		{"mixed with tie", []float64{0, 1, 1, 0, 1, 0}, []float64{0.3, 0.6, 0.3, 0.2, 0.9, 0.7}, 6.5 / 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AUC(tt.y, tt.scores)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestAUC_DoesNotReorderInput(t *testing.T) {
	scores := []float64{0.9, 0.1, 0.5}
	_, err := AUC([]float64{1, 0, 1}, scores)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.1, 0.5}, scores)
}

func TestAUC_Errors(t *testing.T) {
	_, err := AUC([]float64{1, 1}, []float64{0.2, 0.3})
	assert.True(t, errors.Is(err, ErrSingleClass))

	_, err = AUC([]float64{1, 0}, []float64{0.2})
	assert.True(t, errors.Is(err, ErrLength))

	_, err = AUC(nil, nil)
	assert.Error(t, err)
}

func TestConfusionAndReport(t *testing.T) {
	y := []float64{0, 0, 0, 1, 1, 1, 1, 0}
	proba := []float64{0.1, 0.6, 0.2, 0.9, 0.7, 0.3, 0.8, 0.4}
	pred := Predict(proba)
	assert.Equal(t, []float64{0, 1, 0, 1, 1, 0, 1, 0}, pred)

	c, err := NewConfusion(y, pred)
	require.NoError(t, err)
	assert.Equal(t, Confusion{TN: 3, FP: 1, FN: 1, TP: 3}, c)

	r := NewReport(c)
	assert.InDelta(t, 0.75, r.Accuracy, 1e-12)
	assert.InDelta(t, 0.75, r.Classes["1"].Precision, 1e-12)
	assert.InDelta(t, 0.75, r.Classes["1"].Recall, 1e-12)
	assert.InDelta(t, 0.75, r.Classes["0"].F1, 1e-12)
	assert.Equal(t, 4, r.Classes["0"].Support)
	assert.Equal(t, 8, r.MacroAvg.Support)
	assert.InDelta(t, 0.75, r.WeightedAvg.F1, 1e-12)
}

func TestReport_NoPositivePredictions(t *testing.T) {
	r := NewReport(Confusion{TN: 5, FN: 2})
	assert.Equal(t, 0.0, r.Classes["1"].Precision)
	assert.Equal(t, 0.0, r.Classes["1"].F1)
}

func TestEvaluate(t *testing.T) {
	y := []float64{0, 0, 1, 1}
	proba := []float64{0.2, 0.7, 0.6, 0.9}
	ev, err := Evaluate(y, proba)
	require.NoError(t, err)

	m := ev.Metrics()
	assert.InDelta(t, 0.75, m[AUCName], 1e-12)
	assert.InDelta(t, 0.75, m[AccuracyName], 1e-12)
	for _, k := range []string{"true_negatives", "false_positives", "false_negatives", "true_positives", "precision", "recall", "f1_score", "log_loss"} {
		assert.Contains(t, m, k)
	}
	assert.Equal(t, 1.0, m["false_positives"])
}

func TestLogLoss(t *testing.T) {
	got, err := LogLoss([]float64{1, 0}, []float64{1, 0})
	require.NoError(t, err)
	assert.Less(t, got, 1e-10)

	got, err = LogLoss([]float64{1}, []float64{0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.6931471805599453, got, 1e-12)
}

func TestROCCurve_JSON(t *testing.T) {
	c, err := ROC([]float64{0, 1}, []float64{0.3, 0.6})
	require.NoError(t, err)
	b, err := json.Marshal(c)
	require.NoError(t, err)

	var out struct {
		FPR        []float64  `json:"fpr"`
		TPR        []float64  `json:"tpr"`
		Thresholds []*float64 `json:"thresholds"`
	}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, c.FPR, out.FPR)
	assert.Len(t, out.Thresholds, len(c.Thresholds))
}

func TestPlotROC(t *testing.T) {
	c, err := ROC([]float64{0, 1, 0, 1}, []float64{0.1, 0.4, 0.35, 0.8})
	require.NoError(t, err)
	png, err := PlotROC(c, "gbdt")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")), "not a PNG")

	_, err = PlotROC(ROCCurve{}, "empty")
	assert.Error(t, err)
}
