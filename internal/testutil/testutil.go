// Package testutil provides shared test helpers and fixtures.
package testutil

import (
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/banshee-data/modelpipe/internal/dataset"
)

// Blobs returns n rows of d features drawn from two Gaussian clusters whose
// means differ by sep along every feature, with labels 0 and 1 in
// alternating order. The same seed always gives the same rows.
func Blobs(n, d int, sep float64, seed uint64) (rows [][]float64, labels []float64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rows = make([][]float64, n)
	labels = make([]float64, n)
	for i := range rows {
		class := float64(i % 2)
		row := make([]float64, d)
		for j := range row {
			row[j] = rng.NormFloat64() + class*sep
		}
		rows[i] = row
		labels[i] = class
	}
	return rows, labels
}

// BlobTable wraps Blobs in a dataset.Table with columns f0..f<d-1> and
// label "label".
func BlobTable(t testing.TB, n, d int, sep float64, seed uint64) *dataset.Table {
	t.Helper()
	rows, labels := Blobs(n, d, sep, seed)
	cols := make([]string, d)
	for j := range cols {
		cols[j] = "f" + strconv.Itoa(j)
	}
	tbl, err := dataset.New(cols, "label", rows, labels)
	if err != nil {
		t.Fatalf("blob table: %v", err)
	}
	return tbl
}
