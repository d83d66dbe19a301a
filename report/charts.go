// Package report renders selection results as charts and tables.
package report

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/dazhiw/b2lambda"
	"github.com/dazhiw/b2lambda/selection"
)

var (
	chartWidth  = 8 * vg.Inch
	chartHeight = 6 * vg.Inch

	baselineColor = color.RGBA{R: 255, A: 255}
	barColor      = color.RGBA{B: 200, G: 100, A: 255}
)

// Charts writes chart files into Dir, one file per format.
type Charts struct {
	Dir     string
	Formats []string // file extensions understood by plot.Save, e.g. "png", "pdf"
}

func (c Charts) save(p *plot.Plot, name string) ([]string, error) {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "report: create %s", c.Dir)
	}
	formats := c.Formats
	if len(formats) == 0 {
		formats = []string{"png"}
	}

	var paths []string
	for _, ext := range formats {
		path := filepath.Join(c.Dir, name+"."+ext)
		if err := p.Save(chartWidth, chartHeight, path); err != nil {
			return nil, eris.Wrapf(err, "report: save %s", path)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Iteration draws 1 - AUC for every candidate removal of a round, sorted by
// AUC, with the 1 - AUC of the full feature baseline as a red line. The file
// is named after the number of features left.
func (c Charts) Iteration(it selection.Iteration) ([]string, error) {
	p, err := iterationPlot(it)
	if err != nil {
		return nil, err
	}
	return c.save(p, "auc_"+strconv.Itoa(it.Previous.NFeatures-1))
}

func iterationPlot(it selection.Iteration) (*plot.Plot, error) {
	trials := append([]selection.Trial(nil), it.Trials...)
	sort.SliceStable(trials, func(i, j int) bool {
		return trials[i].Value(it.Governing) < trials[j].Value(it.Governing)
	})

	values := make(plotter.Values, len(trials))
	names := make([]string, len(trials))
	for i, t := range trials {
		values[i] = 1 - t.Value(it.Governing)
		names[i] = t.Removed
	}

	p := plot.New()
	p.Title.Text = "1 - AUC"
	p.X.Label.Text = "removed feature"
	p.Y.Label.Text = "1 - " + string(it.Governing) + " AUC"
	p.X.Tick.Label.Rotation = math.Pi / 2
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter

	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return nil, eris.Wrap(err, "report: bar chart")
	}
	bars.Color = barColor
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.NominalX(names...)

	base := 1 - it.Baseline.Value(it.Governing)
	line := plotter.NewFunction(func(float64) float64 { return base })
	line.Color = baselineColor
	line.Width = vg.Points(1.5)
	line.XMin, line.XMax = -0.5, float64(len(trials))-0.5
	p.Add(line)
	p.Legend.Add("all features", line)

	p.Y.Min = 0
	p.Y.Max = math.Max(base, maxValue(values)) * 1.1
	if p.Y.Max == 0 {
		p.Y.Max = 1
	}
	return p, nil
}

// Trajectory draws 1 - AUC of every step against the number of features.
// A training AUC curve is drawn as well when the test AUC governs.
func (c Charts) Trajectory(traj selection.Trajectory, governing selection.Governing) ([]string, error) {
	if len(traj) == 0 {
		return nil, eris.New("report: empty trajectory")
	}

	p := plot.New()
	p.Title.Text = "Backward selection"
	p.X.Label.Text = "number of features"
	p.Y.Label.Text = "1 - best AUC"
	p.X.Tick.Marker = b2lambda.CountTicks{}
	p.Add(plotter.NewGrid())

	series := []curve{{
		name:  string(governing),
		value: func(s selection.Step) float64 { return s.Value(governing) },
		color: color.RGBA{B: 255, A: 255},
	}}
	if governing == selection.GoverningTest {
		series = append(series, curve{
			name:  "train",
			value: func(s selection.Step) float64 { return s.TrainAUC },
			color: color.Gray{Y: 127},
		})
	}

	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, s := range series {
		pts := make(plotter.XYs, len(traj))
		for i, step := range traj {
			pts[i].X = float64(step.NFeatures)
			pts[i].Y = 1 - s.value(step)
			minY = math.Min(minY, pts[i].Y)
			maxY = math.Max(maxY, pts[i].Y)
		}

		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, eris.Wrap(err, "report: trajectory line")
		}
		line.Color = s.color
		points.Color = s.color
		points.Shape = draw.CircleGlyph{}
		p.Add(line, points)
		p.Legend.Add(s.name, line, points)
	}
	// A log axis needs a positive, non-empty range.
	if minY > 0 && maxY > minY {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = b2lambda.LogTicks{}
	}

	return c.save(p, "auc_vs_features")
}

type curve struct {
	name  string
	value func(selection.Step) float64
	color color.Color
}

func maxValue(vs plotter.Values) float64 {
	m := 0.
	for _, v := range vs {
		m = math.Max(m, v)
	}
	return m
}
