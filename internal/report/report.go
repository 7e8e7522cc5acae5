// Package report renders sweep results as CSV, PNG charts and an HTML page.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/disparity/internal/fsutil"
	"github.com/banshee-data/disparity/internal/sweep"
	"github.com/banshee-data/disparity/internal/timeutil"
)

// ErrNoResults is returned when there is nothing to report.
var ErrNoResults = errors.New("report: no results")

// Output file names written by Write.
const (
	CSVFile       = "results.csv"
	TimingFile    = "timing.png"
	HistogramFile = "histogram.png"
	HTMLFile      = "report.html"
)

var (
	matchColor = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	postColor  = color.RGBA{R: 53, G: 183, B: 121, A: 255}
)

// HistogramPlot draws a disparity histogram with one bar per value.
func HistogramPlot(hist []int, title string) (*plot.Plot, error) {
	if len(hist) == 0 {
		return nil, ErrNoResults
	}
	vals := make(plotter.Values, len(hist))
	for i, n := range hist {
		vals[i] = float64(n)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Disparity"
	p.Y.Label.Text = "Pixels"

	bars, err := plotter.NewBarChart(vals, vg.Points(4))
	if err != nil {
		return nil, fmt.Errorf("histogram bars: %w", err)
	}
	bars.Color = matchColor
	bars.LineStyle.Width = 0
	p.Add(bars)
	return p, nil
}

// TimingPlot draws matching and post-processing time for each result.
func TimingPlot(results []sweep.Result) (*plot.Plot, error) {
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	matching := make(plotter.Values, len(results))
	post := make(plotter.Values, len(results))
	labels := make([]string, len(results))
	for i, r := range results {
		matching[i] = timeutil.Millis(r.Matching)
		post[i] = timeutil.Millis(r.PostProcessing)
		labels[i] = strconv.Itoa(i + 1)
	}

	p := plot.New()
	p.Title.Text = "Stage time per combination"
	p.X.Label.Text = "Combination"
	p.Y.Label.Text = "Time (ms)"

	w := vg.Points(8)
	mBars, err := plotter.NewBarChart(matching, w)
	if err != nil {
		return nil, fmt.Errorf("matching bars: %w", err)
	}
	mBars.Color = matchColor
	mBars.LineStyle.Width = 0

	pBars, err := plotter.NewBarChart(post, w)
	if err != nil {
		return nil, fmt.Errorf("post-processing bars: %w", err)
	}
	pBars.Color = postColor
	pBars.LineStyle.Width = 0
	pBars.StackOn(mBars)

	p.Add(mBars, pBars)
	p.Legend.Add("matching", mBars)
	p.Legend.Add("post-processing", pBars)
	p.Legend.Top = true
	p.NominalX(labels...)
	return p, nil
}

// WritePNG renders p as a PNG of the given size.
func WritePNG(w io.Writer, p *plot.Plot, width, height vg.Length) error {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// Best returns the index of the result with the fewest occluded pixels,
// preferring non-degraded results. Ties keep the earliest.
func Best(results []sweep.Result) int {
	best := -1
	for i, r := range results {
		if best < 0 {
			best = i
			continue
		}
		b := results[best]
		if b.Degraded && !r.Degraded {
			best = i
			continue
		}
		if b.Degraded == r.Degraded && r.Summary.OccludedFraction < b.Summary.OccludedFraction {
			best = i
		}
	}
	return best
}

// Write produces the full report for results in dir: CSV, timing chart,
// histogram of the best result and the HTML page.
func Write(fsys fsutil.FileSystem, dir string, results []sweep.Result) error {
	if len(results) == 0 {
		return ErrNoResults
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}

	if err := writeFile(fsys, filepath.Join(dir, CSVFile), func(w io.Writer) error {
		return sweep.NewCSVWriter(w).WriteResults(results)
	}); err != nil {
		return err
	}

	timing, err := TimingPlot(results)
	if err != nil {
		return err
	}
	if err := writeFile(fsys, filepath.Join(dir, TimingFile), func(w io.Writer) error {
		return WritePNG(w, timing, 14*vg.Inch, 6*vg.Inch)
	}); err != nil {
		return err
	}

	best := results[Best(results)]
	hist, err := HistogramPlot(best.Histogram, "Disparity histogram: "+best.Combo.String())
	if err != nil {
		return err
	}
	if err := writeFile(fsys, filepath.Join(dir, HistogramFile), func(w io.Writer) error {
		return WritePNG(w, hist, 8*vg.Inch, 5*vg.Inch)
	}); err != nil {
		return err
	}

	return writeFile(fsys, filepath.Join(dir, HTMLFile), func(w io.Writer) error {
		return RenderHTML(w, results)
	})
}

func writeFile(fsys fsutil.FileSystem, path string, fn func(io.Writer) error) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
