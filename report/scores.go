package report

import (
	"image/color"

	"github.com/rotisserie/eris"
	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/dazhiw/b2lambda/metric"
)

const scoreBins = 50

var (
	signalColor     = color.RGBA{B: 255, A: 255}
	backgroundColor = color.RGBA{R: 255, A: 255}
)

// Sample is a set of classifier scores with their truth labels.
type Sample struct {
	Name   string
	Labels []bool
	Scores []float64
}

// Histograms fills unit-area score histograms on [0, 1] for the signal and
// background rows of s.
func (s Sample) Histograms() (sig, bkg *hbook.H1D, err error) {
	if len(s.Labels) != len(s.Scores) {
		return nil, nil, eris.Errorf("report: sample %q has %d labels but %d scores", s.Name, len(s.Labels), len(s.Scores))
	}
	sig = hbook.NewH1D(scoreBins, 0, 1)
	bkg = hbook.NewH1D(scoreBins, 0, 1)
	for i, score := range s.Scores {
		if s.Labels[i] {
			sig.Fill(score, 1)
		} else {
			bkg.Fill(score, 1)
		}
	}
	for _, h := range []*hbook.H1D{sig, bkg} {
		if area := h.Integral(); area > 0 {
			h.Scale(1 / area)
		}
	}
	return sig, bkg, nil
}

// Scores overlays normalised signal and background score distributions of
// every sample. Samples after the first are drawn dashed.
func (c Charts) Scores(name string, samples ...Sample) ([]string, error) {
	p := hplot.New()
	p.Title.Text = "Classifier output"
	p.X.Label.Text = "score"
	p.Y.Label.Text = "normalised entries"

	for i, s := range samples {
		sig, bkg, err := s.Histograms()
		if err != nil {
			return nil, err
		}
		for _, h := range []struct {
			hist  *hbook.H1D
			color color.Color
			kind  string
		}{{sig, signalColor, "signal"}, {bkg, backgroundColor, "background"}} {
			ph := hplot.NewH1D(h.hist)
			ph.FillColor = nil
			ph.LineStyle.Color = h.color
			ph.Infos.Style = hplot.HInfoNone
			if i > 0 {
				ph.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
			}
			p.Add(ph)
			p.Legend.Add(s.Name+" "+h.kind, ph)
		}
	}
	p.Legend.Top = true
	p.Legend.Left = true

	return c.save(p.Plot, name)
}

// ROC draws the signal efficiency against the background efficiency of
// every sample.
func (c Charts) ROC(name string, samples ...Sample) ([]string, error) {
	p := plot.New()
	p.Title.Text = "ROC"
	p.X.Label.Text = "background efficiency"
	p.Y.Label.Text = "signal efficiency"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())

	palette := []color.Color{signalColor, backgroundColor, color.Gray{Y: 100}}
	for i, s := range samples {
		fpr, tpr, err := metric.ROC(s.Labels, s.Scores)
		if err != nil {
			return nil, eris.Wrapf(err, "report: ROC of %q", s.Name)
		}
		auc, err := metric.AUC(s.Labels, s.Scores)
		if err != nil {
			return nil, err
		}

		pts := make(plotter.XYs, len(fpr))
		for j := range fpr {
			pts[j].X = fpr[j]
			pts[j].Y = tpr[j]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, eris.Wrap(err, "report: ROC line")
		}
		line.Color = palette[i%len(palette)]
		p.Add(line)
		p.Legend.Add(s.Name+" AUC "+formatAUC(auc), line)
	}
	p.Legend.Left = false
	p.Legend.Top = false

	return c.save(p, name)
}
