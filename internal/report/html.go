package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/disparity/internal/sweep"
	"github.com/banshee-data/disparity/internal/timeutil"
)

// RenderHTML writes an interactive page with stage timings and occlusion
// rates for every result.
func RenderHTML(w io.Writer, results []sweep.Result) error {
	if len(results) == 0 {
		return ErrNoResults
	}

	x := make([]string, len(results))
	matching := make([]opts.BarData, len(results))
	post := make([]opts.BarData, len(results))
	occluded := make([]opts.LineData, len(results))
	mean := make([]opts.LineData, len(results))
	degraded := 0
	for i, r := range results {
		x[i] = strconv.Itoa(i+1) + ": " + r.Combo.String()
		matching[i] = opts.BarData{Value: round3(timeutil.Millis(r.Matching))}
		post[i] = opts.BarData{Value: round3(timeutil.Millis(r.PostProcessing))}
		occluded[i] = opts.LineData{Value: round3(100 * r.Summary.OccludedFraction)}
		mean[i] = opts.LineData{Value: round3(r.Summary.Mean)}
		if r.Degraded {
			degraded++
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "520px"}),
		charts.WithTitleOpts(opts.Title{Title: "ZNCC stage timings", Subtitle: fmt.Sprintf("combinations=%d degraded=%d", len(results), degraded)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	bar.SetXAxis(x).
		AddSeries("matching", matching, charts.WithBarChartOpts(opts.BarChart{Stack: "time"})).
		AddSeries("post-processing", post, charts.WithBarChartOpts(opts.BarChart{Stack: "time"}))

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Occlusion and mean disparity"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("occluded %", occluded).
		AddSeries("mean disparity", mean)

	page := components.NewPage()
	page.SetPageTitle("ZNCC sweep report")
	page.AddCharts(bar, line)
	return page.Render(w)
}

func round3(v float64) float64 {
	f, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 3, 64), 64)
	return f
}
