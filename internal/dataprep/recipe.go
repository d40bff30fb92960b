package dataprep

import (
	"context"
	"fmt"
	"strconv"

	"github.com/banshee-data/modelpipe/internal/dataset"
	"github.com/banshee-data/modelpipe/internal/monitoring"
)

var logf = monitoring.Component("dataprep")

// Binning maps a numeric column to ordinal labels. Intervals are closed on
// the right: Edges [16, 29, 39] with Labels [1, 2] send (16,29] to 1 and
// (29,39] to 2.
type Binning struct {
	Column string    `json:"column" yaml:"column"`
	Output string    `json:"output" yaml:"output"`
	Edges  []float64 `json:"edges" yaml:"edges"`
	Labels []int     `json:"labels" yaml:"labels"`
}

// LabelRule derives the binary target: 1 where Source equals Positive.
type LabelRule struct {
	Name     string `json:"name" yaml:"name"`
	Source   string `json:"source" yaml:"source"`
	Positive string `json:"positive" yaml:"positive"`
}

// Recipe lists the preparation steps. They run in field order: cleaning,
// unknown-value replacement, early drops, one-hot encoding, binning, label
// derivation and the final drops.
type Recipe struct {
	UnknownColumns []string  `json:"unknown_columns" yaml:"unknown_columns"`
	UnknownMarker  string    `json:"unknown_marker" yaml:"unknown_marker"`
	DropBefore     []string  `json:"drop_before" yaml:"drop_before"`
	Categorical    []string  `json:"categorical" yaml:"categorical"`
	Bins           []Binning `json:"bins" yaml:"bins"`
	Label          LabelRule `json:"label" yaml:"label"`
	DropAfter      []string  `json:"drop_after" yaml:"drop_after"`
}

// CensusRecipe reproduces the census income preparation: the target is
// whether the person never married.
func CensusRecipe() Recipe {
	return Recipe{
		UnknownColumns: []string{"workclass", "occupation", "native_country"},
		UnknownMarker:  "?",
		DropBefore:     []string{"education_num", "relationship", "functional_weight"},
		Categorical:    []string{"workclass", "education", "occupation", "race", "sex", "income_bracket", "native_country"},
		Bins: []Binning{{
			Column: "age",
			Output: "age_bins",
			Edges:  []float64{16, 29, 39, 49, 59, 100},
			Labels: []int{1, 2, 3, 4, 5},
		}},
		Label:     LabelRule{Name: "never_married", Source: "marital_status", Positive: "Never-married"},
		DropAfter: []string{"income_bracket_<=50K", "marital_status", "age"},
	}
}

// Validate checks the recipe is internally consistent.
func (r Recipe) Validate() error {
	if r.Label.Name == "" || r.Label.Source == "" {
		return fmt.Errorf("label rule needs a name and a source column")
	}
	for _, b := range r.Bins {
		if len(b.Edges) < 2 {
			return fmt.Errorf("bins for %q need at least two edges", b.Column)
		}
		if len(b.Labels) != len(b.Edges)-1 {
			return fmt.Errorf("bins for %q: %d labels for %d intervals", b.Column, len(b.Labels), len(b.Edges)-1)
		}
		for i := 1; i < len(b.Edges); i++ {
			if b.Edges[i] <= b.Edges[i-1] {
				return fmt.Errorf("bins for %q: edges must increase", b.Column)
			}
		}
	}
	return nil
}

// Apply runs the recipe on f, which is modified in place, and converts the
// result to a numeric Table.
func (r Recipe) Apply(f *Frame) (*dataset.Table, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	before := len(f.Rows)
	f.DropIncomplete()
	f.DropDuplicates()
	f.TrimSpace()
	logf("kept %d of %d rows after dropping incomplete and duplicate rows", len(f.Rows), before)

	if len(r.UnknownColumns) > 0 {
		marker := r.UnknownMarker
		if marker == "" {
			marker = "?"
		}
		if err := f.Replace(r.UnknownColumns, marker, "Unknown"); err != nil {
			return nil, err
		}
	}
	if err := f.Drop(r.DropBefore...); err != nil {
		return nil, err
	}
	for _, col := range r.Categorical {
		if err := f.OneHot(col); err != nil {
			return nil, err
		}
	}
	for _, b := range r.Bins {
		if err := f.bin(b); err != nil {
			return nil, err
		}
	}
	if err := f.Derive(r.Label.Name, r.Label.Source, r.Label.Positive); err != nil {
		return nil, err
	}
	if err := f.Drop(r.DropAfter...); err != nil {
		return nil, err
	}
	return f.Table(r.Label.Name)
}

func (f *Frame) bin(b Binning) error {
	i, err := f.mustIndex(b.Column)
	if err != nil {
		return err
	}
	out := b.Output
	if out == "" {
		out = b.Column + "_bins"
	}
	f.Columns = append(f.Columns, out)
	for j, row := range f.Rows {
		v, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			return fmt.Errorf("bin %q row %d: %w", b.Column, j, err)
		}
		label := -1
		for k := 1; k < len(b.Edges); k++ {
			if v > b.Edges[k-1] && v <= b.Edges[k] {
				label = b.Labels[k-1]
				break
			}
		}
		if label < 0 {
			return fmt.Errorf("bin %q row %d: value %v outside (%v, %v]", b.Column, j, v, b.Edges[0], b.Edges[len(b.Edges)-1])
		}
		f.Rows[j] = append(row, strconv.Itoa(label))
	}
	return nil
}

// Table converts every column to float64 and splits out the label column.
func (f *Frame) Table(label string) (*dataset.Table, error) {
	li := f.index(label)
	if li < 0 {
		return nil, fmt.Errorf("%w: %q", dataset.ErrMissingLabel, label)
	}
	var columns []string
	for i, c := range f.Columns {
		if i != li {
			columns = append(columns, c)
		}
	}
	rows := make([][]float64, 0, len(f.Rows))
	labels := make([]float64, 0, len(f.Rows))
	for j, r := range f.Rows {
		row := make([]float64, 0, len(columns))
		for i, cell := range r {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q is not numeric: %q", j, f.Columns[i], cell)
			}
			if i == li {
				labels = append(labels, v)
				continue
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	return dataset.New(columns, label, rows, labels)
}

// Source reads a raw CSV extract and prepares it with Recipe.
type Source struct {
	Path   string
	Recipe Recipe
}

// Load implements dataset.Source.
func (s Source) Load(ctx context.Context) (*dataset.Table, error) {
	f, err := Load(ctx, s.Path)
	if err != nil {
		return nil, err
	}
	tbl, err := s.Recipe.Apply(f)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", s.Path, err)
	}
	logf("prepared %d rows x %d features from %s", tbl.Rows(), len(tbl.Columns), s.Path)
	return tbl, nil
}
