// Package metrics evaluates binary classifiers: ROC/AUC, accuracy, the
// confusion matrix and a per-class classification report.
package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Metric names shared with the tracker.
const (
	AUCName      = "test_auc_score"
	AccuracyName = "accuracy"
)

// Threshold is the probability above which a prediction is positive.
const Threshold = 0.5

var (
	// ErrSingleClass is returned when AUC is undefined because only one
	// class is present.
	ErrSingleClass = errors.New("only one class present in labels")
	// ErrLength is returned for mismatched label and score slices.
	ErrLength = errors.New("labels and scores differ in length")
)

func check(y, scores []float64) error {
	if len(y) != len(scores) {
		return fmt.Errorf("%w: %d vs %d", ErrLength, len(y), len(scores))
	}
	if len(y) == 0 {
		return fmt.Errorf("no samples")
	}
	return nil
}

// ROCCurve holds the points of a receiver operating characteristic with
// thresholds in decreasing order.
type ROCCurve struct {
	FPR        []float64
	TPR        []float64
	Thresholds []float64
}

// MarshalJSON writes non-finite thresholds as null.
func (c ROCCurve) MarshalJSON() ([]byte, error) {
	th := make([]*float64, len(c.Thresholds))
	for i := range c.Thresholds {
		if v := c.Thresholds[i]; !math.IsInf(v, 0) && !math.IsNaN(v) {
			th[i] = &v
		}
	}
	return json.Marshal(struct {
		FPR        []float64  `json:"fpr"`
		TPR        []float64  `json:"tpr"`
		Thresholds []*float64 `json:"thresholds"`
	}{c.FPR, c.TPR, th})
}

// ROC computes the ROC curve for 0/1 labels y and positive-class scores.
func ROC(y, scores []float64) (ROCCurve, error) {
	if err := check(y, scores); err != nil {
		return ROCCurve{}, err
	}
	s := append([]float64(nil), scores...)
	classes := make([]bool, len(y))
	var pos int
	for i, v := range y {
		classes[i] = v == 1
		if classes[i] {
			pos++
		}
	}
	if pos == 0 || pos == len(y) {
		return ROCCurve{}, ErrSingleClass
	}
	stat.SortWeightedLabeled(s, classes, nil)
	tpr, fpr, thresh := stat.ROC(nil, s, classes, nil)
	return ROCCurve{FPR: fpr, TPR: tpr, Thresholds: thresh}, nil
}

// AUC is the area under the curve.
func (c ROCCurve) AUC() float64 {
	return integrate.Trapezoidal(c.FPR, c.TPR)
}

// AUC computes the ROC AUC of scores against 0/1 labels.
func AUC(y, scores []float64) (float64, error) {
	c, err := ROC(y, scores)
	if err != nil {
		return 0, err
	}
	return c.AUC(), nil
}

// Predict thresholds probabilities into 0/1 classes.
func Predict(proba []float64) []float64 {
	out := make([]float64, len(proba))
	for i, p := range proba {
		if p > Threshold {
			out[i] = 1
		}
	}
	return out
}

// Accuracy is the fraction of predictions equal to the label.
func Accuracy(y, pred []float64) (float64, error) {
	if err := check(y, pred); err != nil {
		return 0, err
	}
	var ok int
	for i := range y {
		if y[i] == pred[i] {
			ok++
		}
	}
	return float64(ok) / float64(len(y)), nil
}

// LogLoss is the mean binary cross entropy of probabilities.
func LogLoss(y, proba []float64) (float64, error) {
	if err := check(y, proba); err != nil {
		return 0, err
	}
	const eps = 1e-15
	var sum float64
	for i, p := range proba {
		p = math.Min(math.Max(p, eps), 1-eps)
		sum -= y[i]*math.Log(p) + (1-y[i])*math.Log(1-p)
	}
	return sum / float64(len(y)), nil
}

// Confusion is a binary confusion matrix with class 1 as positive.
type Confusion struct {
	TN int `json:"true_negatives"`
	FP int `json:"false_positives"`
	FN int `json:"false_negatives"`
	TP int `json:"true_positives"`
}

// NewConfusion counts predictions against labels.
func NewConfusion(y, pred []float64) (Confusion, error) {
	var c Confusion
	if err := check(y, pred); err != nil {
		return c, err
	}
	for i := range y {
		switch {
		case y[i] == 1 && pred[i] == 1:
			c.TP++
		case y[i] == 1:
			c.FN++
		case pred[i] == 1:
			c.FP++
		default:
			c.TN++
		}
	}
	return c, nil
}
