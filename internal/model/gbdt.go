package model

import (
	"context"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// GBDTConfig holds the boosted tree hyperparameters.
type GBDTConfig struct {
	Objective      string  `json:"objective"`
	Metric         string  `json:"metric"`
	BoostingType   string  `json:"boosting_type"`
	NEstimators    int     `json:"n_estimators"`
	LearningRate   float64 `json:"learning_rate"`
	MaxDepth       int     `json:"max_depth"`
	MinSamplesLeaf int     `json:"min_samples_leaf"`
	Lambda         float64 `json:"lambda"`
}

// GBDTSpec returns the gradient boosted trees family.
func GBDTSpec() Spec {
	return Spec{
		Family: FamilyGBDT,
		Space: SearchSpace{
			"max_depth":     {2, 3},
			"learning_rate": {0.05, 0.1},
			"n_estimators":  {50, 100},
		},
		Defaults: Params{
			"objective":     "binary",
			"metric":        "auc,binary_logloss",
			"boosting_type": "gbdt",
		},
		New: func(p Params) (Estimator, error) {
			return NewGBDT(p)
		},
	}
}

// GBDT is a gradient boosted ensemble of regression trees on the logistic
// loss.
type GBDT struct {
	Config        GBDTConfig `json:"config"`
	Init          float64    `json:"init_score"`
	Trees         []Tree     `json:"trees"`
	BestIteration int        `json:"best_iteration,omitempty"`
}

// NewGBDT builds an unfitted ensemble from p. Unknown keys are ignored.
func NewGBDT(p Params) (*GBDT, error) {
	cfg := GBDTConfig{
		Objective:      "binary",
		Metric:         "binary_logloss",
		BoostingType:   "gbdt",
		NEstimators:    100,
		LearningRate:   0.1,
		MaxDepth:       3,
		MinSamplesLeaf: 1,
		Lambda:         1.0,
	}
	var err error
	if cfg.Objective, err = p.String("objective", cfg.Objective); err != nil {
		return nil, err
	}
	if cfg.Metric, err = p.String("metric", cfg.Metric); err != nil {
		return nil, err
	}
	if cfg.BoostingType, err = p.String("boosting_type", cfg.BoostingType); err != nil {
		return nil, err
	}
	if cfg.NEstimators, err = p.Int("n_estimators", cfg.NEstimators); err != nil {
		return nil, err
	}
	if cfg.LearningRate, err = p.Float("learning_rate", cfg.LearningRate); err != nil {
		return nil, err
	}
	if cfg.MaxDepth, err = p.Int("max_depth", cfg.MaxDepth); err != nil {
		return nil, err
	}
	if cfg.MinSamplesLeaf, err = p.Int("min_samples_leaf", cfg.MinSamplesLeaf); err != nil {
		return nil, err
	}
	if cfg.Lambda, err = p.Float("lambda", cfg.Lambda); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &GBDT{Config: cfg}, nil
}

func (c GBDTConfig) validate() error {
	if c.Objective != "binary" {
		return fmt.Errorf("gbdt: unsupported objective %q", c.Objective)
	}
	if c.BoostingType != "gbdt" {
		return fmt.Errorf("gbdt: unsupported boosting_type %q", c.BoostingType)
	}
	for _, m := range strings.Split(c.Metric, ",") {
		switch strings.TrimSpace(m) {
		case "auc", "binary_logloss":
		default:
			return fmt.Errorf("gbdt: unsupported metric %q", m)
		}
	}
	if c.NEstimators < 1 {
		return fmt.Errorf("gbdt: n_estimators must be >= 1, got %d", c.NEstimators)
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("gbdt: learning_rate must be in (0, 1], got %v", c.LearningRate)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("gbdt: max_depth must be >= 1, got %d", c.MaxDepth)
	}
	if c.MinSamplesLeaf < 1 {
		return fmt.Errorf("gbdt: min_samples_leaf must be >= 1, got %d", c.MinSamplesLeaf)
	}
	if c.Lambda < 0 {
		return fmt.Errorf("gbdt: lambda must be >= 0, got %v", c.Lambda)
	}
	return nil
}

// Params implements Estimator.
func (m *GBDT) Params() Params {
	return Params{
		"objective":        m.Config.Objective,
		"metric":           m.Config.Metric,
		"boosting_type":    m.Config.BoostingType,
		"n_estimators":     m.Config.NEstimators,
		"learning_rate":    m.Config.LearningRate,
		"max_depth":        m.Config.MaxDepth,
		"min_samples_leaf": m.Config.MinSamplesLeaf,
		"lambda":           m.Config.Lambda,
	}
}

// Fit implements Estimator and boosts all n_estimators rounds.
func (m *GBDT) Fit(ctx context.Context, X mat.Matrix, y []float64) error {
	return m.boost(ctx, X, y, nil, nil, 0)
}

// FitWithValidation implements EarlyStopper. Boosting stops once the
// validation log loss has not improved for rounds iterations, and the
// ensemble is truncated to its best iteration.
func (m *GBDT) FitWithValidation(ctx context.Context, X mat.Matrix, y []float64, Xval mat.Matrix, yval []float64, rounds int) error {
	if Xval == nil || len(yval) == 0 {
		return m.Fit(ctx, X, y)
	}
	if rounds < 1 {
		return fmt.Errorf("gbdt: early stopping rounds must be >= 1, got %d", rounds)
	}
	return m.boost(ctx, X, y, Xval, yval, rounds)
}

func (m *GBDT) boost(ctx context.Context, X mat.Matrix, y []float64, Xval mat.Matrix, yval []float64, rounds int) error {
	n, d := X.Dims()
	if n == 0 {
		return fmt.Errorf("gbdt: no samples")
	}
	if n != len(y) {
		return fmt.Errorf("gbdt: %d rows but %d labels", n, len(y))
	}

	rows := matrixRows(X)
	bins := newBinner(rows, d)
	g := &treeGrower{
		bins:     bins,
		codes:    bins.codes(rows),
		grad:     make([]float64, n),
		hess:     make([]float64, n),
		maxDepth: m.Config.MaxDepth,
		minLeaf:  m.Config.MinSamplesLeaf,
		lambda:   m.Config.Lambda,
	}

	var pos float64
	for _, v := range y {
		pos += v
	}
	p := math.Min(math.Max(pos/float64(n), 1e-6), 1-1e-6)
	m.Init = math.Log(p / (1 - p))
	m.Trees = m.Trees[:0]
	m.BestIteration = 0

	score := make([]float64, n)
	for i := range score {
		score[i] = m.Init
	}
	var valRows [][]float64
	var valScore []float64
	if rounds > 0 {
		valRows = matrixRows(Xval)
		valScore = make([]float64, len(valRows))
		for i := range valScore {
			valScore[i] = m.Init
		}
	}

	samples := make([]int, n)
	for i := range samples {
		samples[i] = i
	}
	bestLoss, sinceBest := math.Inf(1), 0
	for it := 0; it < m.Config.NEstimators; it++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range score {
			pr := sigmoid(score[i])
			g.grad[i] = pr - y[i]
			g.hess[i] = math.Max(pr*(1-pr), 1e-16)
		}
		t := g.grow(samples)
		for ni := range t.Nodes {
			t.Nodes[ni].Value *= m.Config.LearningRate
		}
		m.Trees = append(m.Trees, *t)
		for i, row := range rows {
			score[i] += t.predict(row)
		}

		if rounds == 0 {
			continue
		}
		for i, row := range valRows {
			valScore[i] += t.predict(row)
		}
		loss := scoreLogLoss(valScore, yval)
		if loss < bestLoss {
			bestLoss, sinceBest = loss, 0
			m.BestIteration = it + 1
			continue
		}
		sinceBest++
		if sinceBest >= rounds {
			break
		}
	}
	if rounds > 0 && m.BestIteration > 0 {
		m.Trees = m.Trees[:m.BestIteration]
	}
	return nil
}

// PredictProba implements Estimator.
func (m *GBDT) PredictProba(X mat.Matrix) []float64 {
	rows := matrixRows(X)
	out := make([]float64, len(rows))
	for i, row := range rows {
		s := m.Init
		for t := range m.Trees {
			s += m.Trees[t].predict(row)
		}
		out[i] = sigmoid(s)
	}
	return out
}

func scoreLogLoss(scores, y []float64) float64 {
	const eps = 1e-15
	var sum float64
	for i, s := range scores {
		p := math.Min(math.Max(sigmoid(s), eps), 1-eps)
		sum -= y[i]*math.Log(p) + (1-y[i])*math.Log(1-p)
	}
	return sum / float64(len(scores))
}
