package pipeline

import (
	"context"
	"sort"

	"github.com/banshee-data/modelpipe/internal/metrics"
	"github.com/banshee-data/modelpipe/internal/model"
	"github.com/banshee-data/modelpipe/internal/monitoring"
	"github.com/banshee-data/modelpipe/internal/tracker"
)

var selectLogf = monitoring.Component("selector")

// Candidate is one compared run's held-out scores.
type Candidate struct {
	Family   string
	RunID    string
	AUC      float64
	Accuracy float64
}

// BestCandidate is the winning run with its recovered hyperparameters.
// Candidates lists every compared run in comparison order.
type BestCandidate struct {
	Family     string
	RunID      string
	Params     model.Params
	AUC        float64
	Accuracy   float64
	Candidates []Candidate
}

// Selector picks the best candidate run by test AUC, then accuracy.
type Selector struct {
	Tracker tracker.Client
}

// Better reports whether c beats best: a strictly higher AUC wins, an equal
// AUC falls back to strictly higher accuracy. Full ties keep best.
func Better(c, best Candidate) bool {
	if c.AUC != best.AUC {
		return c.AUC > best.AUC
	}
	return c.Accuracy > best.Accuracy
}

// Select compares the candidate runs. Results are ordered by run id first so
// the winner does not depend on the order branches finished in.
func (s *Selector) Select(ctx context.Context, results []TrainingResult) (BestCandidate, error) {
	if len(results) == 0 {
		return BestCandidate{}, ErrNoCandidates
	}
	ordered := append([]TrainingResult(nil), results...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].RunID < ordered[j].RunID })

	compared := make([]Candidate, 0, len(ordered))
	records := make([]*tracker.RunRecord, 0, len(ordered))
	for _, r := range ordered {
		rec, err := s.Tracker.GetRun(ctx, r.RunID)
		if err != nil {
			return BestCandidate{}, &SelectionError{RunID: r.RunID, Err: err}
		}
		auc, err := rec.Metric(metrics.AUCName)
		if err != nil {
			return BestCandidate{}, &SelectionError{RunID: r.RunID, Err: err}
		}
		acc, err := rec.Metric(metrics.AccuracyName)
		if err != nil {
			return BestCandidate{}, &SelectionError{RunID: r.RunID, Err: err}
		}
		selectLogf("%s run %s: auc %.4f accuracy %.4f", r.Family, r.RunID, auc, acc)
		compared = append(compared, Candidate{Family: r.Family, RunID: r.RunID, AUC: auc, Accuracy: acc})
		records = append(records, rec)
	}

	// Scores are non-negative, so starting from the first candidate is the
	// same as starting from {0, 0}.
	win := 0
	for i := 1; i < len(compared); i++ {
		if Better(compared[i], compared[win]) {
			win = i
		}
	}
	best := compared[win]

	params, err := RecoverParams(records[win].Params)
	if err != nil {
		return BestCandidate{}, &SelectionError{RunID: best.RunID, Err: err}
	}
	selectLogf("best: %s run %s (auc %.4f accuracy %.4f) %s",
		best.Family, best.RunID, best.AUC, best.Accuracy, params.Describe())
	return BestCandidate{
		Family:     best.Family,
		RunID:      best.RunID,
		Params:     params,
		AUC:        best.AUC,
		Accuracy:   best.Accuracy,
		Candidates: compared,
	}, nil
}
