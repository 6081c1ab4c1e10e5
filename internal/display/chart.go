package display

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/sensorview/internal/window"
)

// RenderHTML writes a standalone ECharts page showing the temperature
// series of v against its current axis bounds, with the running average
// as a second series.
func RenderHTML(w io.Writer, v window.View) error {
	labels := make([]string, len(v.Samples))
	temps := make([]opts.LineData, len(v.Samples))
	avg := make([]opts.LineData, len(v.Samples))
	for i, s := range v.Samples {
		labels[i] = s.Timestamp
		temps[i] = opts.LineData{Value: s.Temperature}
		avg[i] = opts.LineData{Value: v.Average}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sensor Temperature", Theme: "dark", Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Temperature",
			Subtitle: subtitle(v),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: v.UnitSymbol, Min: v.Lower, Max: v.Upper}),
	)
	line.SetXAxis(labels).
		AddSeries("temperature", temps, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false)})).
		AddSeries("average", avg, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	return line.Render(w)
}

func subtitle(v window.View) string {
	s := fmt.Sprintf("n=%d/%d avg=%d%s σ=%.2f settling=%.2f", len(v.Samples), v.DisplaySize, v.Average, v.UnitSymbol, v.StdDev, v.SettlingForce)
	if v.Setting != "" {
		s += " rate=" + v.Setting + "ms"
	}
	return s
}
