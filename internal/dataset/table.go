// Package dataset holds the feature table shared by every training stage and
// the partitioning helpers used to split it.
//
// A Table is immutable once built: stages take row subsets through Subset,
// which copies, so parallel trainers can read the same Table without locks.
package dataset

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrMissingLabel is returned when the label column is absent.
	ErrMissingLabel = errors.New("label column missing")
	// ErrNonBinaryLabel is returned when label values are not 0/1 or a class is empty.
	ErrNonBinaryLabel = errors.New("label column is not binary")
)

// Source supplies the fully materialised feature table. It is asked once per
// pipeline execution.
type Source interface {
	Load(ctx context.Context) (*Table, error)
}

// Table is a numeric feature matrix plus a binary label vector.
type Table struct {
	Columns  []string
	Label    string
	Features *mat.Dense
	Labels   []float64
}

// New builds a Table from row-major feature values. Rows must all have
// len(columns) values and labels must have one entry per row.
func New(columns []string, label string, rows [][]float64, labels []float64) (*Table, error) {
	if label == "" {
		return nil, ErrMissingLabel
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("table has no rows")
	}
	if len(rows) != len(labels) {
		return nil, fmt.Errorf("got %d rows but %d labels", len(rows), len(labels))
	}
	width := len(columns)
	if width == 0 {
		return nil, fmt.Errorf("table has no feature columns")
	}
	data := make([]float64, 0, len(rows)*width)
	for i, r := range rows {
		if len(r) != width {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(r), width)
		}
		data = append(data, r...)
	}
	return &Table{
		Columns:  append([]string(nil), columns...),
		Label:    label,
		Features: mat.NewDense(len(rows), width, data),
		Labels:   append([]float64(nil), labels...),
	}, nil
}

// Rows returns the number of samples.
func (t *Table) Rows() int {
	r, _ := t.Features.Dims()
	return r
}

// ClassCounts returns the number of negative and positive samples.
func (t *Table) ClassCounts() (neg, pos int) {
	for _, y := range t.Labels {
		if y == 1 {
			pos++
		} else {
			neg++
		}
	}
	return neg, pos
}

// Validate checks the label column is present, aligned with the features,
// binary and contains both classes.
func (t *Table) Validate() error {
	if t == nil || t.Label == "" || t.Labels == nil {
		return ErrMissingLabel
	}
	if t.Features == nil {
		return fmt.Errorf("table has no features")
	}
	if len(t.Labels) != t.Rows() {
		return fmt.Errorf("%w: %d labels for %d rows", ErrMissingLabel, len(t.Labels), t.Rows())
	}
	for i, y := range t.Labels {
		if y != 0 && y != 1 {
			return fmt.Errorf("%w: row %d has label %v", ErrNonBinaryLabel, i, y)
		}
	}
	neg, pos := t.ClassCounts()
	if neg == 0 || pos == 0 {
		return fmt.Errorf("%w: %d negative, %d positive samples", ErrNonBinaryLabel, neg, pos)
	}
	return nil
}

// Subset copies the given rows into a new Table.
func (t *Table) Subset(idx []int) *Table {
	_, c := t.Features.Dims()
	out := mat.NewDense(len(idx), c, nil)
	labels := make([]float64, len(idx))
	for i, r := range idx {
		out.SetRow(i, t.Features.RawRowView(r))
		labels[i] = t.Labels[r]
	}
	return &Table{
		Columns:  t.Columns,
		Label:    t.Label,
		Features: out,
		Labels:   labels,
	}
}
