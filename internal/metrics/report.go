package metrics

import "math"

// ClassScores are the per-class figures of a classification report.
type ClassScores struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// Report mirrors the usual text classification report layout, keyed by
// class label and average name.
type Report struct {
	Classes     map[string]ClassScores `json:"classes"`
	Accuracy    float64                `json:"accuracy"`
	MacroAvg    ClassScores            `json:"macro avg"`
	WeightedAvg ClassScores            `json:"weighted avg"`
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func f1(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// NewReport derives the classification report from a confusion matrix.
// Undefined precision or recall is reported as 0.
func NewReport(c Confusion) Report {
	negP, negR := ratio(c.TN, c.TN+c.FN), ratio(c.TN, c.TN+c.FP)
	posP, posR := ratio(c.TP, c.TP+c.FP), ratio(c.TP, c.TP+c.FN)
	neg := ClassScores{Precision: negP, Recall: negR, F1: f1(negP, negR), Support: c.TN + c.FP}
	pos := ClassScores{Precision: posP, Recall: posR, F1: f1(posP, posR), Support: c.TP + c.FN}
	total := neg.Support + pos.Support

	wn, wp := ratio(neg.Support, total), ratio(pos.Support, total)
	return Report{
		Classes:  map[string]ClassScores{"0": neg, "1": pos},
		Accuracy: ratio(c.TN+c.TP, total),
		MacroAvg: ClassScores{
			Precision: (neg.Precision + pos.Precision) / 2,
			Recall:    (neg.Recall + pos.Recall) / 2,
			F1:        (neg.F1 + pos.F1) / 2,
			Support:   total,
		},
		WeightedAvg: ClassScores{
			Precision: wn*neg.Precision + wp*pos.Precision,
			Recall:    wn*neg.Recall + wp*pos.Recall,
			F1:        wn*neg.F1 + wp*pos.F1,
			Support:   total,
		},
	}
}

// Evaluation bundles everything computed on a held-out partition.
type Evaluation struct {
	AUC       float64
	Accuracy  float64
	LogLoss   float64
	Confusion Confusion
	Report    Report
	ROC       ROCCurve
}

// Evaluate scores positive-class probabilities against 0/1 labels.
func Evaluate(y, proba []float64) (*Evaluation, error) {
	roc, err := ROC(y, proba)
	if err != nil {
		return nil, err
	}
	pred := Predict(proba)
	acc, err := Accuracy(y, pred)
	if err != nil {
		return nil, err
	}
	ll, err := LogLoss(y, proba)
	if err != nil {
		return nil, err
	}
	conf, err := NewConfusion(y, pred)
	if err != nil {
		return nil, err
	}
	return &Evaluation{
		AUC:       roc.AUC(),
		Accuracy:  acc,
		LogLoss:   ll,
		Confusion: conf,
		Report:    NewReport(conf),
		ROC:       roc,
	}, nil
}

// Metrics flattens the evaluation into tracker metric names. Precision,
// recall and f1 are those of the positive class.
func (e *Evaluation) Metrics() map[string]float64 {
	pos := e.Report.Classes["1"]
	m := map[string]float64{
		AUCName:           e.AUC,
		AccuracyName:      e.Accuracy,
		"log_loss":        e.LogLoss,
		"true_negatives":  float64(e.Confusion.TN),
		"false_positives": float64(e.Confusion.FP),
		"false_negatives": float64(e.Confusion.FN),
		"true_positives":  float64(e.Confusion.TP),
		"precision":       pos.Precision,
		"recall":          pos.Recall,
		"f1_score":        pos.F1,
	}
	for k, v := range m {
		if math.IsNaN(v) {
			delete(m, k)
		}
	}
	return m
}
