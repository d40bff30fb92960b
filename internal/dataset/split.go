package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// newRand returns the deterministic generator used by every split so that a
// given seed always produces the same partitions.
func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// classIndices groups row positions by label value, negatives first.
func classIndices(labels []float64, rows []int) [2][]int {
	var groups [2][]int
	for _, r := range rows {
		if labels[r] == 1 {
			groups[1] = append(groups[1], r)
		} else {
			groups[0] = append(groups[0], r)
		}
	}
	return groups
}

// AllRows returns the indices 0..n-1.
func AllRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

// StratifiedSplit partitions row indices into train and test sets so that
// each class keeps its proportion. testSize is the fraction (0,1) of each
// class sent to the test set. Both returned slices are sorted.
func StratifiedSplit(labels []float64, testSize float64, seed uint64) (train, test []int, err error) {
	return StratifiedSplitRows(labels, AllRows(len(labels)), testSize, seed)
}

// StratifiedSplitRows is StratifiedSplit restricted to the given rows.
func StratifiedSplitRows(labels []float64, rows []int, testSize float64, seed uint64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size must be in (0, 1), got %v", testSize)
	}
	rng := newRand(seed)
	for class, group := range classIndices(labels, rows) {
		if len(group) < 2 {
			return nil, nil, fmt.Errorf("class %d has %d samples, need at least 2 to split", class, len(group))
		}
		shuffled := append([]int(nil), group...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		nTest := int(math.Round(float64(len(shuffled)) * testSize))
		nTest = max(1, min(nTest, len(shuffled)-1))
		test = append(test, shuffled[:nTest]...)
		train = append(train, shuffled[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// Fold is one cross-validation split, expressed as row indices of the
// original table.
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedKFold deals the given rows into k folds, class by class, after a
// seeded shuffle. Every class must have at least k members so that each
// fold holds both classes.
func StratifiedKFold(labels []float64, rows []int, k int, seed uint64) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("k must be at least 2, got %d", k)
	}
	rng := newRand(seed)
	buckets := make([][]int, k)
	for class, group := range classIndices(labels, rows) {
		if len(group) < k {
			return nil, fmt.Errorf("class %d has %d samples, fewer than %d folds", class, len(group), k)
		}
		shuffled := append([]int(nil), group...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		for i, r := range shuffled {
			buckets[i%k] = append(buckets[i%k], r)
		}
	}

	folds := make([]Fold, k)
	for i := range folds {
		test := append([]int(nil), buckets[i]...)
		sort.Ints(test)
		var train []int
		for j, b := range buckets {
			if j != i {
				train = append(train, b...)
			}
		}
		sort.Ints(train)
		folds[i] = Fold{Train: train, Test: test}
	}
	return folds, nil
}
