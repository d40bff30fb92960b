// Package report renders an HTML page comparing the candidate runs of one
// pipeline execution.
package report

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/modelpipe/internal/fsutil"
)

// Candidate is one bar group on the chart.
type Candidate struct {
	Family   string
	RunID    string
	AUC      float64
	Accuracy float64
}

// Comparison is everything shown on the page.
type Comparison struct {
	PipelineRunID string
	Candidates    []Candidate
	WinnerRunID   string
}

func (c Comparison) winner() (Candidate, bool) {
	for _, cand := range c.Candidates {
		if cand.RunID == c.WinnerRunID {
			return cand, true
		}
	}
	return Candidate{}, false
}

// Render writes the comparison page to w.
func Render(w io.Writer, c Comparison) error {
	if len(c.Candidates) == 0 {
		return fmt.Errorf("report: no candidates")
	}
	x := make([]string, 0, len(c.Candidates))
	auc := make([]opts.BarData, 0, len(c.Candidates))
	acc := make([]opts.BarData, 0, len(c.Candidates))
	for _, cand := range c.Candidates {
		x = append(x, cand.Family)
		auc = append(auc, opts.BarData{Name: cand.RunID, Value: cand.AUC})
		acc = append(acc, opts.BarData{Name: cand.RunID, Value: cand.Accuracy})
	}

	subtitle := "pipeline " + c.PipelineRunID
	if win, ok := c.winner(); ok {
		subtitle = fmt.Sprintf("pipeline %s  winner=%s run=%s auc=%.4f accuracy=%.4f",
			c.PipelineRunID, win.Family, win.RunID, win.AUC, win.Accuracy)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Model comparison", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Candidate runs", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "score"}),
	)
	label := charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})
	bar.SetXAxis(x).
		AddSeries("test_auc_score", auc, label).
		AddSeries("accuracy", acc, label)

	page := components.NewPage()
	page.AddCharts(bar)
	return page.Render(w)
}

// Write renders the page and stores it at path.
func Write(fsys fsutil.FileSystem, path string, c Comparison) error {
	var buf bytes.Buffer
	if err := Render(&buf, c); err != nil {
		return err
	}
	if err := fsys.WriteFile(filepath.Clean(path), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
