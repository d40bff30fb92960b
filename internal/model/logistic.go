package model

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// ErrNotFitted is returned when a model is used before Fit.
var ErrNotFitted = errors.New("model is not fitted")

// LogisticConfig holds the logistic regression hyperparameters.
type LogisticConfig struct {
	Penalty string  `json:"penalty"` // l2 | none
	C       float64 `json:"C"`       // inverse regularisation strength
	MaxIter int     `json:"max_iter"`
	Tol     float64 `json:"tol"`
	Solver  string  `json:"solver"` // lbfgs | gd
}

// LogisticSpec returns the logistic regression family.
func LogisticSpec() Spec {
	return Spec{
		Family: FamilyLogistic,
		Space: SearchSpace{
			"penalty": {"l2", "none"},
			"C":       {0.1, 1.0, 10.0},
			"solver":  {"lbfgs", "gd"},
		},
		Defaults: Params{"max_iter": 500},
		New: func(p Params) (Estimator, error) {
			return NewLogistic(p)
		},
	}
}

// Logistic is an L2-regularised logistic regression on standardised
// features.
type Logistic struct {
	Config    LogisticConfig `json:"config"`
	Mean      []float64      `json:"mean"`
	Scale     []float64      `json:"scale"`
	Weights   []float64      `json:"weights"`
	Intercept float64        `json:"intercept"`
	Iter      int            `json:"n_iter"`
}

// NewLogistic builds an unfitted model from p. Unknown keys are ignored.
func NewLogistic(p Params) (*Logistic, error) {
	cfg := LogisticConfig{Penalty: "l2", C: 1.0, MaxIter: 100, Tol: 1e-4, Solver: "lbfgs"}
	var err error
	if cfg.Penalty, err = p.String("penalty", cfg.Penalty); err != nil {
		return nil, err
	}
	if cfg.C, err = p.Float("C", cfg.C); err != nil {
		return nil, err
	}
	if cfg.MaxIter, err = p.Int("max_iter", cfg.MaxIter); err != nil {
		return nil, err
	}
	if cfg.Tol, err = p.Float("tol", cfg.Tol); err != nil {
		return nil, err
	}
	if cfg.Solver, err = p.String("solver", cfg.Solver); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Logistic{Config: cfg}, nil
}

func (c LogisticConfig) validate() error {
	switch c.Penalty {
	case "l2", "none":
	default:
		return fmt.Errorf("logistic: unsupported penalty %q", c.Penalty)
	}
	switch c.Solver {
	case "lbfgs", "gd":
	default:
		return fmt.Errorf("logistic: unsupported solver %q", c.Solver)
	}
	if c.C <= 0 {
		return fmt.Errorf("logistic: C must be positive, got %v", c.C)
	}
	if c.MaxIter < 1 {
		return fmt.Errorf("logistic: max_iter must be >= 1, got %d", c.MaxIter)
	}
	if c.Tol <= 0 {
		return fmt.Errorf("logistic: tol must be positive, got %v", c.Tol)
	}
	return nil
}

// Params implements Estimator.
func (m *Logistic) Params() Params {
	return Params{
		"penalty":  m.Config.Penalty,
		"C":        m.Config.C,
		"max_iter": m.Config.MaxIter,
		"tol":      m.Config.Tol,
		"solver":   m.Config.Solver,
	}
}

// Fit implements Estimator.
func (m *Logistic) Fit(ctx context.Context, X mat.Matrix, y []float64) error {
	n, d := X.Dims()
	if n == 0 {
		return fmt.Errorf("logistic: no samples")
	}
	if n != len(y) {
		return fmt.Errorf("logistic: %d rows but %d labels", n, len(y))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.Mean, m.Scale = standardiser(X)
	rows := m.standardise(X)

	// Parameter vector is the weights followed by the intercept.
	obj := &logisticObjective{rows: rows, y: y, d: d}
	if m.Config.Penalty == "l2" {
		obj.alpha = 1 / (m.Config.C * float64(n))
	}
	x0 := make([]float64, d+1)

	var (
		x    []float64
		iter int
		err  error
	)
	switch m.Config.Solver {
	case "lbfgs":
		x, iter, err = m.solveLBFGS(obj, x0)
	case "gd":
		x, iter, err = m.solveGD(ctx, obj, x0)
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Weights = x[:d]
	m.Intercept = x[d]
	m.Iter = iter
	return nil
}

func (m *Logistic) solveLBFGS(obj *logisticObjective, x0 []float64) ([]float64, int, error) {
	problem := optimize.Problem{Func: obj.value, Grad: obj.gradient}
	settings := &optimize.Settings{
		MajorIterations:   m.Config.MaxIter,
		GradientThreshold: m.Config.Tol,
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if result == nil {
		return nil, 0, fmt.Errorf("logistic: lbfgs: %w", err)
	}
	// Iteration limits and line search stalls still leave a usable point.
	if math.IsNaN(result.F) {
		return nil, 0, fmt.Errorf("logistic: lbfgs diverged")
	}
	return result.X, result.MajorIterations, nil
}

func (m *Logistic) solveGD(ctx context.Context, obj *logisticObjective, x0 []float64) ([]float64, int, error) {
	step := 1 / obj.lipschitz()
	x := x0
	grad := make([]float64, len(x))
	for i := 1; i <= m.Config.MaxIter; i++ {
		if i%50 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, i, err
			}
		}
		obj.gradient(grad, x)
		if floats.Norm(grad, math.Inf(1)) < m.Config.Tol {
			return x, i, nil
		}
		floats.AddScaled(x, -step, grad)
	}
	return x, m.Config.MaxIter, nil
}

// PredictProba implements Estimator.
func (m *Logistic) PredictProba(X mat.Matrix) []float64 {
	n, _ := X.Dims()
	out := make([]float64, n)
	if m.Weights == nil {
		return out
	}
	for i, row := range m.standardise(X) {
		out[i] = sigmoid(floats.Dot(m.Weights, row) + m.Intercept)
	}
	return out
}

func (m *Logistic) standardise(X mat.Matrix) [][]float64 {
	rows := matrixRows(X)
	for _, row := range rows {
		for j := range row {
			row[j] = (row[j] - m.Mean[j]) / m.Scale[j]
		}
	}
	return rows
}

// logisticObjective is the mean log loss plus alpha/2 * |w|^2.
type logisticObjective struct {
	rows  [][]float64
	y     []float64
	d     int
	alpha float64
}

func (o *logisticObjective) value(x []float64) float64 {
	w, b := x[:o.d], x[o.d]
	var loss float64
	for i, row := range o.rows {
		z := floats.Dot(w, row) + b
		// log(1+exp(z)) - y*z, computed without overflow.
		if z > 0 {
			loss += z + math.Log1p(math.Exp(-z)) - o.y[i]*z
		} else {
			loss += math.Log1p(math.Exp(z)) - o.y[i]*z
		}
	}
	loss /= float64(len(o.rows))
	return loss + 0.5*o.alpha*floats.Dot(w, w)
}

// lipschitz bounds the gradient's Lipschitz constant by the trace of the
// scaled Gram matrix, which keeps a fixed step of 1/L stable.
func (o *logisticObjective) lipschitz() float64 {
	var tr float64
	for _, row := range o.rows {
		tr += floats.Dot(row, row)
	}
	tr = tr/float64(len(o.rows)) + 1
	return 0.25*tr + o.alpha
}

func (o *logisticObjective) gradient(grad, x []float64) {
	w, b := x[:o.d], x[o.d]
	for j := range grad {
		grad[j] = 0
	}
	n := float64(len(o.rows))
	for i, row := range o.rows {
		r := (sigmoid(floats.Dot(w, row)+b) - o.y[i]) / n
		floats.AddScaled(grad[:o.d], r, row)
		grad[o.d] += r
	}
	floats.AddScaled(grad[:o.d], o.alpha, w)
}

// standardiser returns per-column means and standard deviations. Constant
// columns get a scale of 1.
func standardiser(X mat.Matrix) (mean, scale []float64) {
	n, d := X.Dims()
	mean = make([]float64, d)
	scale = make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, X)
		mu := floats.Sum(col) / float64(n)
		var ss float64
		for _, v := range col {
			ss += (v - mu) * (v - mu)
		}
		sd := math.Sqrt(ss / float64(n))
		if sd < 1e-12 {
			sd = 1
		}
		mean[j], scale[j] = mu, sd
	}
	return mean, scale
}

// matrixRows copies X into row slices.
func matrixRows(X mat.Matrix) [][]float64 {
	n, _ := X.Dims()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
	}
	return rows
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
