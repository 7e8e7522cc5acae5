package sweep

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/disparity/internal/timeutil"
)

var csvHeader = []string{
	"backend", "resize_factor", "win_size", "max_disp", "cc_thresh",
	"width", "height", "matching_ms", "post_processing_ms",
	"occluded_fraction", "mean_disparity", "std_disparity",
	"degraded", "degraded_reason", "output_path", "run_id",
}

// CSVWriter writes sweep results as CSV, one row per combination.
type CSVWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewCSVWriter wraps w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// WriteHeader writes the column header. WriteResult calls it on first use.
func (c *CSVWriter) WriteHeader() error {
	c.wroteHeader = true
	return c.w.Write(csvHeader)
}

// WriteResult writes a single result row and flushes it.
func (c *CSVWriter) WriteResult(r Result) error {
	if !c.wroteHeader {
		if err := c.WriteHeader(); err != nil {
			return err
		}
	}
	row := []string{
		r.Combo.Backend.String(),
		strconv.Itoa(r.Combo.ResizeFactor),
		strconv.Itoa(r.Combo.WinSize),
		strconv.Itoa(r.Combo.MaxDisp),
		strconv.Itoa(r.Combo.CCThresh),
		strconv.Itoa(r.Width),
		strconv.Itoa(r.Height),
		fmt.Sprintf("%.3f", timeutil.Millis(r.Matching)),
		fmt.Sprintf("%.3f", timeutil.Millis(r.PostProcessing)),
		fmt.Sprintf("%.6f", r.Summary.OccludedFraction),
		fmt.Sprintf("%.6f", r.Summary.Mean),
		fmt.Sprintf("%.6f", r.Summary.StdDev),
		strconv.FormatBool(r.Degraded),
		r.DegradedReason,
		r.OutputPath,
		r.RunID,
	}
	if err := c.w.Write(row); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// WriteResults writes every result.
func (c *CSVWriter) WriteResults(rs []Result) error {
	for _, r := range rs {
		if err := c.WriteResult(r); err != nil {
			return err
		}
	}
	if !c.wroteHeader {
		if err := c.WriteHeader(); err != nil {
			return err
		}
		c.w.Flush()
	}
	return c.w.Error()
}
