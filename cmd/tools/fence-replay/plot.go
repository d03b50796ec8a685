package main

import (
	"errors"
	"fmt"
	"image/color"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/collar.amc/internal/correction"
)

var (
	distanceColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	toneColor     = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	zapColor      = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	fenceColor    = color.RGBA{A: 255}
)

// PlotResult renders the fence distance over time to path. Warning tone
// frequency is drawn scaled to the distance axis and every zap is marked
// on the distance line. The format follows the file extension.
func PlotResult(res *Result, path string) error {
	if res == nil || len(res.Samples) == 0 {
		return errors.New("no positions to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Fence distance (pasture %d)", res.Final.PastureVersion)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Distance (dm)"
	p.Add(plotter.NewGrid())

	distPts := make(plotter.XYs, 0, len(res.Samples))
	var tonePts plotter.XYs
	minD, maxD := res.Samples[0].Distance, res.Samples[0].Distance
	for _, s := range res.Samples {
		distPts = append(distPts, plotter.XY{X: s.Offset.Seconds(), Y: float64(s.Distance)})
		minD = min(minD, s.Distance)
		maxD = max(maxD, s.Distance)
	}

	distLine, err := plotter.NewLine(distPts)
	if err != nil {
		return err
	}
	distLine.Color = distanceColor
	distLine.Width = vg.Points(1.5)
	p.Add(distLine)
	p.Legend.Add("distance", distLine)

	boundary := plotter.NewFunction(func(float64) float64 { return 0 })
	boundary.Color = fenceColor
	boundary.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(boundary)
	p.Legend.Add("fence", boundary)

	// Tone is plotted on the distance axis: the lowest and highest
	// frequencies heard span the distance range.
	var loHz, hiHz int
	for _, s := range res.Samples {
		if s.ToneHz == 0 || s.Correction != correction.Active {
			continue
		}
		if loHz == 0 || s.ToneHz < loHz {
			loHz = s.ToneHz
		}
		hiHz = max(hiHz, s.ToneHz)
	}
	if hiHz > 0 {
		span := float64(maxD - minD)
		for _, s := range res.Samples {
			if s.ToneHz == 0 || s.Correction != correction.Active {
				continue
			}
			y := float64(maxD)
			if hiHz > loHz {
				y = float64(minD) + span*float64(s.ToneHz-loHz)/float64(hiHz-loHz)
			}
			tonePts = append(tonePts, plotter.XY{X: s.Offset.Seconds(), Y: y})
		}
		tone, err := plotter.NewScatter(tonePts)
		if err != nil {
			return err
		}
		tone.GlyphStyle.Color = toneColor
		tone.GlyphStyle.Radius = vg.Points(1.5)
		tone.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(tone)
		p.Legend.Add(fmt.Sprintf("tone %d-%d Hz", loHz, hiHz), tone)
	}

	if len(res.Zaps) > 0 {
		zapPts := make(plotter.XYs, 0, len(res.Zaps))
		for _, at := range res.Zaps {
			zapPts = append(zapPts, plotter.XY{X: at.Seconds(), Y: float64(distanceAt(res.Samples, at))})
		}
		zaps, err := plotter.NewScatter(zapPts)
		if err != nil {
			return err
		}
		zaps.GlyphStyle.Color = zapColor
		zaps.GlyphStyle.Radius = vg.Points(4)
		zaps.GlyphStyle.Shape = draw.CrossGlyph{}
		p.Add(zaps)
		p.Legend.Add("zap", zaps)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(12*vg.Inch, 5*vg.Inch, path)
}

// distanceAt returns the distance of the last sample at or before at.
func distanceAt(samples []Sample, at time.Duration) int16 {
	d := samples[0].Distance
	for _, s := range samples {
		if s.Offset > at {
			break
		}
		d = s.Distance
	}
	return d
}
