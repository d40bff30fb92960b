package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrEmptySearchSpace is returned for a search space with no parameters or
// a parameter with no candidates.
var ErrEmptySearchSpace = errors.New("empty search space")

// SearchSpace maps each tuned parameter to its finite candidate set.
type SearchSpace map[string][]any

// Validate checks every parameter has at least one candidate of a
// supported type.
func (s SearchSpace) Validate() error {
	if len(s) == 0 {
		return ErrEmptySearchSpace
	}
	for name, values := range s {
		if len(values) == 0 {
			return fmt.Errorf("%w: %q has no candidates", ErrEmptySearchSpace, name)
		}
		for _, v := range values {
			switch v.(type) {
			case int, float64, string:
			default:
				return fmt.Errorf("param %q: unsupported candidate %T(%v)", name, v, v)
			}
		}
	}
	return nil
}

// Size is the number of combinations in the grid.
func (s SearchSpace) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, v := range s {
		n *= len(v)
	}
	return n
}

// Grid enumerates the cartesian product. Parameter names vary slowest in
// sorted order, candidates in their declared order, so the enumeration is
// stable.
func (s SearchSpace) Grid() []Params {
	if s.Size() == 0 {
		return nil
	}
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)

	grid := []Params{{}}
	for _, name := range names {
		next := make([]Params, 0, len(grid)*len(s[name]))
		for _, partial := range grid {
			for _, v := range s[name] {
				p := Merge(partial, nil)
				p[name] = v
				next = append(next, p)
			}
		}
		grid = next
	}
	return grid
}

// String renders the space as JSON for logging.
func (s SearchSpace) String() string {
	b, err := json.Marshal(map[string][]any(s))
	if err != nil {
		return fmt.Sprint(map[string][]any(s))
	}
	return string(b)
}
