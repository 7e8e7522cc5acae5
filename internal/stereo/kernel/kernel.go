// Package kernel implements the windowed mean and the ZNCC correlation score
// for a single pixel and disparity shift.
//
// A window sample at offset (i, j) around (x, y) is used only when the
// reference column x+i, the shifted column x+i-shift and the row y+j all lie
// inside the image. There is no zero padding.
package kernel

import (
	"math"

	"github.com/banshee-data/disparity/internal/stereo"
)

// WindowedMean averages img over the window centred on (x, y), reading the
// shifted column x+i-shift. It returns 0 when no sample is in range, which
// only happens when the shift moves the whole window off the image.
func WindowedMean(x, y, shift int, img stereo.Image, winSize int) float64 {
	half := winSize / 2
	sum := 0.0
	count := 0
	for j := -half; j <= half; j++ {
		yy := y + j
		if yy < 0 || yy >= img.Height {
			continue
		}
		row := yy * img.Width
		for i := -half; i <= half; i++ {
			xr := x + i
			xs := xr - shift
			if xr < 0 || xr >= img.Width || xs < 0 || xs >= img.Width {
				continue
			}
			sum += float64(img.Pix[row+xs])
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// CorrelationScore returns the zero-mean normalised cross-correlation between
// the window of a at (x, y) and the window of b shifted by shift columns.
// The score is 0 when either window has zero variance.
func CorrelationScore(x, y, shift int, mean1, mean2 float64, a, b stereo.Image, winSize int) float64 {
	half := winSize / 2
	var num, denA, denB float64
	for j := -half; j <= half; j++ {
		yy := y + j
		if yy < 0 || yy >= a.Height {
			continue
		}
		row := yy * a.Width
		for i := -half; i <= half; i++ {
			xr := x + i
			xs := xr - shift
			if xr < 0 || xr >= a.Width || xs < 0 || xs >= a.Width {
				continue
			}
			va := float64(a.Pix[row+xr]) - mean1
			vb := float64(b.Pix[row+xs]) - mean2
			num += va * vb
			denA += va * va
			denB += vb * vb
		}
	}
	return Score(num, denA, denB)
}

// Score finishes a ZNCC reduction.
func Score(num, denA, denB float64) float64 {
	den := math.Sqrt(denA * denB)
	if den == 0 {
		return 0
	}
	return num / den
}
