package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CSVSource loads an already feature-engineered CSV file: a header row,
// numeric cells and one 0/1 label column.
type CSVSource struct {
	Path  string
	Label string
}

// Load implements Source.
func (s CSVSource) Load(ctx context.Context) (*Table, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open feature table: %w", err)
	}
	defer f.Close()
	return ReadCSV(ctx, f, s.Label)
}

// ReadCSV parses a numeric CSV stream into a Table.
func ReadCSV(ctx context.Context, r io.Reader, label string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	labelIdx := -1
	var columns []string
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == label {
			labelIdx = i
			continue
		}
		columns = append(columns, name)
	}
	if labelIdx < 0 {
		return nil, fmt.Errorf("%w: %q not in header", ErrMissingLabel, label)
	}

	var rows [][]float64
	var labels []float64
	for line := 2; ; line++ {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make([]float64, 0, len(columns))
		for i, cell := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %q: %w", line, header[i], err)
			}
			if i == labelIdx {
				labels = append(labels, v)
				continue
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	return New(columns, label, rows, labels)
}
