package dataprep

import (
	"errors"
	"strings"
	"testing"

	"github.com/banshee-data/modelpipe/internal/dataset"
	"github.com/google/go-cmp/cmp"
)

const censusSample = `age,workclass,functional_weight,education,education_num,marital_status,occupation,relationship,race,sex,native_country,income_bracket
25, Private ,1,Bachelors,13,Never-married,Sales,Own-child,White,Male,United-States,<=50K
25, Private ,1,Bachelors,13,Never-married,Sales,Own-child,White,Male,United-States,<=50K
44,?,2,HS-grad,9,Married-civ-spouse,?,Husband,Black,Male,?,>50K
61,Self-emp,3,Masters,14,Divorced,Exec,Not-in-family,White,Female,Mexico,<=50K
33,Private,4,HS-grad,9,,Sales,Husband,White,Male,United-States,<=50K
`

func TestCensusRecipe_Apply(t *testing.T) {
	f, err := ReadFrame(strings.NewReader(censusSample))
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	tbl, err := CensusRecipe().Apply(f)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// One duplicate and one incomplete row are dropped.
	if tbl.Rows() != 3 {
		t.Fatalf("got %d rows, want 3", tbl.Rows())
	}
	if diff := cmp.Diff([]float64{1, 0, 0}, tbl.Labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}

	col := func(name string) int {
		for i, c := range tbl.Columns {
			if c == name {
				return i
			}
		}
		t.Fatalf("column %q missing from %v", name, tbl.Columns)
		return -1
	}
	for _, gone := range []string{"age", "marital_status", "income_bracket_<=50K", "relationship", "workclass"} {
		for _, c := range tbl.Columns {
			if c == gone {
				t.Errorf("column %q should have been dropped", gone)
			}
		}
	}

	if got := tbl.Features.At(0, col("age_bins")); got != 1 {
		t.Errorf("age 25 bin = %v, want 1", got)
	}
	if got := tbl.Features.At(2, col("age_bins")); got != 5 {
		t.Errorf("age 61 bin = %v, want 5", got)
	}
	if got := tbl.Features.At(1, col("workclass_Unknown")); got != 1 {
		t.Errorf("'?' workclass should encode as Unknown, got %v", got)
	}
	if got := tbl.Features.At(0, col("workclass_Private")); got != 1 {
		t.Errorf("trimmed ' Private ' should encode as workclass_Private, got %v", got)
	}
	if got := tbl.Features.At(1, col("income_bracket_>50K")); got != 1 {
		t.Errorf("income_bracket_>50K = %v, want 1", got)
	}
}

func TestRecipe_Errors(t *testing.T) {
	f, _ := ReadFrame(strings.NewReader("a,b\n1,x\n"))
	r := Recipe{Label: LabelRule{Name: "y", Source: "missing", Positive: "x"}}
	if _, err := r.Apply(f); err == nil {
		t.Error("expected error for missing label source column")
	}

	f, _ = ReadFrame(strings.NewReader("a,b\n1,x\n"))
	r = Recipe{Label: LabelRule{Name: "y", Source: "b", Positive: "x"}}
	if _, err := r.Apply(f); err == nil {
		t.Error("expected error for non-numeric remaining column")
	}

	bad := Recipe{
		Label: LabelRule{Name: "y", Source: "b"},
		Bins:  []Binning{{Column: "a", Edges: []float64{1, 2}, Labels: []int{1, 2}}},
	}
	if err := bad.Validate(); err == nil {
		t.Error("expected label/interval count mismatch error")
	}
}

func TestFrameTable_MissingLabel(t *testing.T) {
	f := &Frame{Columns: []string{"a"}, Rows: [][]string{{"1"}}}
	if _, err := f.Table("y"); !errors.Is(err, dataset.ErrMissingLabel) {
		t.Errorf("got %v, want ErrMissingLabel", err)
	}
}

func TestBin_OutOfRange(t *testing.T) {
	f := &Frame{Columns: []string{"age"}, Rows: [][]string{{"12"}}}
	err := f.bin(Binning{Column: "age", Edges: []float64{16, 29}, Labels: []int{1}})
	if err == nil {
		t.Error("expected out-of-range error")
	}
}
