// Package matcher runs the exhaustive per-pixel disparity search.
//
// Both directions yield non-negative disparities. With the left image as
// reference, pixel x is compared against target column x-d; with the right
// image as reference, against target column x+d. A scene point seen at
// column xl in the left image and xr = xl-d in the right image therefore gets
// disparity d from both runs, so the two maps can be cross-checked directly.
package matcher

import (
	"fmt"
	"math"

	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/stereo/kernel"
)

// Direction selects which image is the reference.
type Direction int

const (
	LeftToRight Direction = iota // left is the reference, target column x-d
	RightToLeft                  // right is the reference, target column x+d
)

func (d Direction) String() string {
	switch d {
	case LeftToRight:
		return "left-to-right"
	case RightToLeft:
		return "right-to-left"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Sign returns the factor applied to a disparity to get the kernel shift.
func (d Direction) Sign() int {
	if d == RightToLeft {
		return -1
	}
	return 1
}

// Shift converts a non-negative disparity into the column shift read by the
// kernel for this direction.
func (d Direction) Shift(disp int) int {
	return d.Sign() * disp
}

// ClampDisparity limits a winning disparity to the byte range of a map.
func ClampDisparity(d int) uint8 {
	if d < 0 {
		return 0
	}
	if d > stereo.MaxStoredDisparity {
		return stereo.MaxStoredDisparity
	}
	return uint8(d)
}

// MatchPixel returns the disparity in [0, p.MaxDisp) whose window maximises
// the correlation score at (x, y). Disparities are scanned in ascending order
// and only a strictly greater score replaces the best, so ties keep the
// smallest disparity.
func MatchPixel(x, y int, ref, target stereo.Image, p stereo.Params, dir Direction) uint8 {
	mean1 := kernel.WindowedMean(x, y, 0, ref, p.WinSize)
	best := math.Inf(-1)
	bestD := 0
	for d := 0; d < p.MaxDisp; d++ {
		shift := dir.Shift(d)
		mean2 := kernel.WindowedMean(x, y, shift, target, p.WinSize)
		score := kernel.CorrelationScore(x, y, shift, mean1, mean2, ref, target, p.WinSize)
		if score > best {
			best = score
			bestD = d
		}
	}
	return ClampDisparity(bestD)
}

// MatchRows fills rows [y0, y1) of out. The caller has validated the inputs
// and owns that row range exclusively.
func MatchRows(ref, target stereo.Image, out []uint8, p stereo.Params, dir Direction, y0, y1 int) {
	w := ref.Width
	for y := y0; y < y1; y++ {
		row := out[y*w : (y+1)*w]
		for x := range row {
			row[x] = MatchPixel(x, y, ref, target, p, dir)
		}
	}
}

// PartitionRows splits height rows into at most n contiguous chunks of
// height/n rows each, the last chunk taking the remainder. Empty chunks are
// never returned.
func PartitionRows(height, n int) [][2]int {
	if height <= 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	if n > height {
		n = height
	}
	size := height / n
	chunks := make([][2]int, 0, n)
	for i := 0; i < n; i++ {
		y0 := i * size
		y1 := y0 + size
		if i == n-1 {
			y1 = height
		}
		chunks = append(chunks, [2]int{y0, y1})
	}
	return chunks
}
