// Package dataprep turns a raw tabular extract into the numeric feature
// table consumed by the trainers: cleaning, categorical encoding, binning,
// label derivation and column pruning.
package dataprep

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Frame is a string-typed table as read from the source extract.
type Frame struct {
	Columns []string
	Rows    [][]string
}

// ReadFrame reads a CSV stream with a header row.
func ReadFrame(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	f := &Frame{Columns: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		f.Rows = append(f.Rows, rec)
	}
	return f, nil
}

func (f *Frame) index(col string) int {
	for i, c := range f.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

func (f *Frame) mustIndex(col string) (int, error) {
	i := f.index(col)
	if i < 0 {
		return -1, fmt.Errorf("column %q not found", col)
	}
	return i, nil
}

// DropIncomplete removes rows with an empty cell.
func (f *Frame) DropIncomplete() {
	kept := f.Rows[:0]
	for _, r := range f.Rows {
		complete := true
		for _, c := range r {
			if strings.TrimSpace(c) == "" {
				complete = false
				break
			}
		}
		if complete {
			kept = append(kept, r)
		}
	}
	f.Rows = kept
}

// DropDuplicates removes rows identical to an earlier row.
func (f *Frame) DropDuplicates() {
	seen := make(map[string]bool, len(f.Rows))
	kept := f.Rows[:0]
	for _, r := range f.Rows {
		key := strings.Join(r, "\x1f")
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, r)
	}
	f.Rows = kept
}

// TrimSpace strips surrounding whitespace from every cell.
func (f *Frame) TrimSpace() {
	for _, r := range f.Rows {
		for i := range r {
			r[i] = strings.TrimSpace(r[i])
		}
	}
}

// Replace rewrites cells equal to from in the given columns.
func (f *Frame) Replace(cols []string, from, to string) error {
	for _, col := range cols {
		i, err := f.mustIndex(col)
		if err != nil {
			return err
		}
		for _, r := range f.Rows {
			if r[i] == from {
				r[i] = to
			}
		}
	}
	return nil
}

// Drop removes the given columns.
func (f *Frame) Drop(cols ...string) error {
	drop := make(map[int]bool, len(cols))
	for _, col := range cols {
		i, err := f.mustIndex(col)
		if err != nil {
			return err
		}
		drop[i] = true
	}
	keep := func(in []string) []string {
		out := make([]string, 0, len(in)-len(drop))
		for i, v := range in {
			if !drop[i] {
				out = append(out, v)
			}
		}
		return out
	}
	f.Columns = keep(f.Columns)
	for j, r := range f.Rows {
		f.Rows[j] = keep(r)
	}
	return nil
}

// OneHot replaces col with one 0/1 column per distinct value, named
// "<col>_<value>" and ordered by value.
func (f *Frame) OneHot(col string) error {
	i, err := f.mustIndex(col)
	if err != nil {
		return err
	}
	values := make(map[string]bool)
	for _, r := range f.Rows {
		values[r[i]] = true
	}
	levels := make([]string, 0, len(values))
	for v := range values {
		levels = append(levels, v)
	}
	sort.Strings(levels)

	for _, lvl := range levels {
		f.Columns = append(f.Columns, col+"_"+lvl)
	}
	for j, r := range f.Rows {
		for _, lvl := range levels {
			if r[i] == lvl {
				r = append(r, "1")
			} else {
				r = append(r, "0")
			}
		}
		f.Rows[j] = r
	}
	return f.Drop(col)
}

// Derive appends a 0/1 column that is 1 where src equals value.
func (f *Frame) Derive(name, src, value string) error {
	i, err := f.mustIndex(src)
	if err != nil {
		return err
	}
	f.Columns = append(f.Columns, name)
	for j, r := range f.Rows {
		v := "0"
		if r[i] == value {
			v = "1"
		}
		f.Rows[j] = append(r, v)
	}
	return nil
}

// Load opens path and reads it as a Frame.
func Load(ctx context.Context, path string) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw extract: %w", err)
	}
	defer file.Close()
	return ReadFrame(file)
}
