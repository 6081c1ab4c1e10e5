package display

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/sensorview/internal/window"
)

// Default PNG plot size.
const (
	DefaultPlotWidth  = 10 * vg.Inch
	DefaultPlotHeight = 4 * vg.Inch
)

var (
	temperatureColor = color.RGBA{R: 0x26, G: 0x82, B: 0x8e, A: 0xff}
	averageColor     = color.RGBA{R: 0xfd, G: 0xe7, B: 0x25, A: 0xff}
)

// RenderPNG plots v as a PNG image of the given size. Zero sizes use the
// defaults.
func RenderPNG(w io.Writer, v window.View, width, height vg.Length) error {
	if width <= 0 {
		width = DefaultPlotWidth
	}
	if height <= 0 {
		height = DefaultPlotHeight
	}

	p := plot.New()
	p.Title.Text = "Temperature - " + subtitle(v)
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = v.UnitSymbol
	p.Y.Min = float64(v.Lower)
	p.Y.Max = float64(v.Upper)

	if len(v.Samples) > 0 {
		pts := make(plotter.XYs, len(v.Samples))
		avgPts := make(plotter.XYs, len(v.Samples))
		for i, s := range v.Samples {
			pts[i] = plotter.XY{X: float64(i), Y: s.Temperature}
			avgPts[i] = plotter.XY{X: float64(i), Y: float64(v.Average)}
		}

		tempLine, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("temperature line: %w", err)
		}
		tempLine.Color = temperatureColor
		tempLine.Width = vg.Points(1.5)
		p.Add(tempLine)
		p.Legend.Add("temperature", tempLine)

		avgLine, err := plotter.NewLine(avgPts)
		if err != nil {
			return fmt.Errorf("average line: %w", err)
		}
		avgLine.Color = averageColor
		avgLine.Width = vg.Points(1)
		avgLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(avgLine)
		p.Legend.Add("average", avgLine)
	}
	p.X.Min = 0
	p.X.Max = float64(max(v.DisplaySize-1, 1))

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("create png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
