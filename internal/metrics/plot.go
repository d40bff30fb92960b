package metrics

import (
	"bytes"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotROC renders the curve with the chance diagonal as a PNG.
func PlotROC(c ROCCurve, title string) ([]byte, error) {
	if len(c.FPR) != len(c.TPR) || len(c.FPR) < 2 {
		return nil, fmt.Errorf("roc curve needs at least two points")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "False Positive Rate"
	p.Y.Label.Text = "True Positive Rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1.05

	pts := make(plotter.XYs, len(c.FPR))
	for i := range c.FPR {
		pts[i] = plotter.XY{X: c.FPR[i], Y: c.TPR[i]}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = color.RGBA{R: 255, G: 140, A: 255}
	line.Width = vg.Points(2)
	p.Add(line)
	p.Legend.Add(fmt.Sprintf("ROC curve (area = %.2f)", c.AUC()), line)

	chance, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return nil, err
	}
	chance.Color = color.RGBA{B: 128, A: 255}
	chance.Width = vg.Points(1)
	chance.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(chance)

	p.Legend.Top = false
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = 10

	wt, err := p.WriterTo(5*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
