package report

import (
	"fmt"
	"image/color"

	"github.com/adammck/biped/search"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

const (
	// Number of points on the smoothed curve.
	splineSamples = 500

	// The spline needs more points than this to be worth drawing.
	minSplinePoints = 3

	chartWidth  = 8 * vg.Inch
	chartHeight = 5 * vg.Inch
)

// Chart plots distance against iteration, and saves it to path. The format is
// taken from the extension, usually png. With enough points, a smooth curve is
// drawn through them; otherwise they are joined by straight lines.
func Chart(path, title string, results []search.Result) error {
	if len(results) == 0 {
		return errors.New("nothing to plot")
	}

	pts := make(plotter.XYs, len(results))
	for i, r := range results {
		pts[i].X = float64(r.Index)
		pts[i].Y = r.Distance
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Walking distance (m)"
	p.Add(plotter.NewGrid())

	smooth, err := curve(pts)
	if err != nil {
		return err
	}

	line, err := plotter.NewLine(smooth)
	if err != nil {
		return errors.Wrap(err, "while plotting curve")
	}
	line.LineStyle.Width = vg.Points(2)
	line.LineStyle.Color = color.RGBA{B: 255, A: 255}

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "while plotting points")
	}
	scatter.GlyphStyle.Color = color.RGBA{R: 255, A: 255}
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}

	p.Add(line, scatter)
	p.Legend.Add("Optimized distance", line)
	p.Legend.Add("Measurement points", scatter)
	p.Legend.Top = true

	err = p.Save(chartWidth, chartHeight, path)
	if err != nil {
		return errors.Wrapf(err, "while saving %s", path)
	}

	log.Infof("saved chart to %s", path)
	return nil
}

// curve returns the line to draw through the points, which must be in order
// of increasing X.
func curve(pts plotter.XYs) (plotter.XYs, error) {
	if len(pts) <= minSplinePoints {
		return pts, nil
	}

	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i := range pts {
		xs[i], ys[i] = pts[i].X, pts[i].Y
	}

	var s interp.NotAKnotCubic
	err := s.Fit(xs, ys)
	if err != nil {
		return nil, fmt.Errorf("while fitting spline: %s", err)
	}

	sx := floats.Span(make([]float64, splineSamples), xs[0], xs[len(xs)-1])
	out := make(plotter.XYs, len(sx))
	for i, x := range sx {
		out[i].X = x
		out[i].Y = s.Predict(x)
	}

	return out, nil
}
