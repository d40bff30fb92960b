// Package model defines the estimator families the pipeline can train, their
// hyperparameter search spaces and fixed base defaults.
package model

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Family identifiers.
const (
	FamilyLogistic = "logistic_regression"
	FamilyGBDT     = "gbdt"
)

// Estimator is a binary classifier.
type Estimator interface {
	// Fit trains on X (rows = samples) and 0/1 labels y.
	Fit(ctx context.Context, X mat.Matrix, y []float64) error
	// PredictProba returns the positive-class probability per row.
	PredictProba(X mat.Matrix) []float64
	// Params reports the effective hyperparameters.
	Params() Params
}

// EarlyStopper is implemented by iterative boosting estimators that can
// stop once a validation set stops improving.
type EarlyStopper interface {
	Estimator
	FitWithValidation(ctx context.Context, X mat.Matrix, y []float64, Xval mat.Matrix, yval []float64, rounds int) error
}

// Spec describes one family: how to build it, what to search and the base
// defaults the final retraining starts from.
type Spec struct {
	Family   string
	Space    SearchSpace
	Defaults Params
	New      func(Params) (Estimator, error)
}

// Build merges p over Defaults and constructs the estimator.
func (s Spec) Build(p Params) (Estimator, error) {
	if s.New == nil {
		return nil, fmt.Errorf("family %q has no constructor", s.Family)
	}
	return s.New(Merge(s.Defaults, p))
}

// WithSpace returns a copy of s searching space instead.
func (s Spec) WithSpace(space SearchSpace) Spec {
	s.Space = space
	return s
}

// Registry holds the known families.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// DefaultRegistry returns a registry with the built-in families.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(LogisticSpec())
	_ = r.Register(GBDTSpec())
	return r
}

// Register adds spec, rejecting duplicates.
func (r *Registry) Register(spec Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if spec.Family == "" {
		return fmt.Errorf("spec has no family name")
	}
	if _, ok := r.specs[spec.Family]; ok {
		return fmt.Errorf("family %q already registered", spec.Family)
	}
	r.specs[spec.Family] = spec
	return nil
}

// Lookup returns the registered Spec for family.
func (r *Registry) Lookup(family string) (Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[family]
	if !ok {
		return Spec{}, fmt.Errorf("unknown model family %q", family)
	}
	return s, nil
}

// Families lists registered family names in sorted order.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.specs))
	for k := range r.specs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
