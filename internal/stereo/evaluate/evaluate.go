// Package evaluate summarises disparity maps and compares them against each
// other or against a ground truth map.
package evaluate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/stereo/postproc"
)

// Summary describes the value distribution of one map.
type Summary struct {
	Pixels           int     `json:"pixels"`
	Occluded         int     `json:"occluded"`
	OccludedFraction float64 `json:"occluded_fraction"`
	Mean             float64 `json:"mean"` // over non-occluded pixels
	StdDev           float64 `json:"std_dev"`
	Min              uint8   `json:"min"`
	Max              uint8   `json:"max"`
}

// Summarize computes the distribution of the valid (non-zero) values of m.
func Summarize(m []uint8) Summary {
	s := Summary{Pixels: len(m)}
	valid := make([]float64, 0, len(m))
	s.Min = math.MaxUint8
	for _, v := range m {
		if v == postproc.Occluded {
			s.Occluded++
			continue
		}
		valid = append(valid, float64(v))
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
	}
	if len(m) > 0 {
		s.OccludedFraction = float64(s.Occluded) / float64(len(m))
	}
	switch len(valid) {
	case 0:
		s.Min = 0
	case 1:
		s.Mean = valid[0]
	default:
		s.Mean, s.StdDev = stat.MeanStdDev(valid, nil)
	}
	return s
}

// Histogram counts occurrences of each value 0..maxVal. Larger values are
// counted in the last bucket.
func Histogram(m []uint8, maxVal int) []int {
	if maxVal < 0 {
		maxVal = 0
	}
	maxVal = min(maxVal, stereo.MaxStoredDisparity)
	h := make([]int, maxVal+1)
	for _, v := range m {
		h[min(int(v), maxVal)]++
	}
	return h
}

// Agreement returns the fraction of pixels at which a and b differ by at
// most tol.
func Agreement(a, b []uint8, tol int) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d pixels", stereo.ErrSizeMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 1, nil
	}
	n := 0
	for i := range a {
		if absDiff(a[i], b[i]) <= tol {
			n++
		}
	}
	return float64(n) / float64(len(a)), nil
}

// Comparison scores an estimated map against a reference.
type Comparison struct {
	Compared     int     `json:"compared"` // pixels with a known reference value
	BadPixels    int     `json:"bad_pixels"`
	BadFraction  float64 `json:"bad_fraction"`
	MeanAbsError float64 `json:"mean_abs_error"`
	RMSE         float64 `json:"rmse"`
	Correlation  float64 `json:"correlation"`
}

// Compare scores est against truth. Pixels where truth is occluded are
// skipped; a pixel is bad when it differs by more than thresh.
func Compare(est, truth []uint8, thresh int) (Comparison, error) {
	var c Comparison
	if len(est) != len(truth) {
		return c, fmt.Errorf("%w: %d vs %d pixels", stereo.ErrSizeMismatch, len(est), len(truth))
	}
	var xs, ys []float64
	var sumAbs, sumSq float64
	for i, t := range truth {
		if t == postproc.Occluded {
			continue
		}
		d := absDiff(est[i], t)
		if d > thresh {
			c.BadPixels++
		}
		sumAbs += float64(d)
		sumSq += float64(d * d)
		xs = append(xs, float64(est[i]))
		ys = append(ys, float64(t))
	}
	c.Compared = len(xs)
	if c.Compared == 0 {
		return c, nil
	}
	n := float64(c.Compared)
	c.BadFraction = float64(c.BadPixels) / n
	c.MeanAbsError = sumAbs / n
	c.RMSE = math.Sqrt(sumSq / n)
	if c.Compared > 1 {
		if r := stat.Correlation(xs, ys, nil); !math.IsNaN(r) {
			c.Correlation = r
		}
	}
	return c, nil
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
