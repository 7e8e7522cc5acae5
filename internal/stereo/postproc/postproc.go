// Package postproc refines raw disparity maps. Every function reads its input
// maps only and returns a newly allocated map.
package postproc

import (
	"math"
	"slices"
)

// Occluded is the map value for pixels without a trusted disparity.
const Occluded = 0

// CrossCheck keeps left[i] where the two maps agree within ccThresh and
// writes Occluded elsewhere. A difference of exactly ccThresh is kept. When
// disabled it returns a copy of left.
func CrossCheck(left, right []uint8, ccThresh int, enabled bool) []uint8 {
	out := slices.Clone(left)
	if !enabled {
		return out
	}
	for i, l := range left {
		diff := int(right[i]) - int(l)
		if diff < 0 {
			diff = -diff
		}
		if diff > ccThresh {
			out[i] = Occluded
		}
	}
	return out
}

// FillOcclusion replaces each occluded pixel with a value interpolated from
// the nearest non-occluded pixels to its left and right on the same row of
// the input map:
//
//   - both found: their integer average
//   - only one found: that value
//   - neither found: Occluded
//
// The result is clamped to [0, maxDisp]. Filled values never feed later
// fills. When disabled it returns a copy of m.
func FillOcclusion(m []uint8, width, height, maxDisp int, enabled bool) []uint8 {
	out := slices.Clone(m)
	if !enabled {
		return out
	}
	for y := 0; y < height; y++ {
		row := m[y*width : (y+1)*width]
		dst := out[y*width : (y+1)*width]
		for x, v := range row {
			if v != Occluded {
				continue
			}
			l, lok := nearestLeft(row, x)
			r, rok := nearestRight(row, x)
			var fill int
			switch {
			case lok && rok:
				fill = (int(l) + int(r)) / 2
			case lok:
				fill = int(l)
			case rok:
				fill = int(r)
			}
			dst[x] = uint8(max(0, min(fill, maxDisp, math.MaxUint8)))
		}
	}
	return out
}

func nearestLeft(row []uint8, x int) (uint8, bool) {
	for i := x - 1; i >= 0; i-- {
		if row[i] != Occluded {
			return row[i], true
		}
	}
	return 0, false
}

func nearestRight(row []uint8, x int) (uint8, bool) {
	for i := x + 1; i < len(row); i++ {
		if row[i] != Occluded {
			return row[i], true
		}
	}
	return 0, false
}

// NormalizeValue rescales one disparity to display range: round(v*255/maxDisp)
// clamped to 255.
func NormalizeValue(v uint8, maxDisp int) uint8 {
	if maxDisp <= 0 {
		return 0
	}
	n := math.Round(float64(v) * 255 / float64(maxDisp))
	if n > 255 {
		return 255
	}
	return uint8(n)
}

// Normalize rescales every value of m with NormalizeValue.
func Normalize(m []uint8, maxDisp int) []uint8 {
	var lut [256]uint8
	for v := range lut {
		lut[v] = NormalizeValue(uint8(v), maxDisp)
	}
	out := make([]uint8, len(m))
	for i, v := range m {
		out[i] = lut[v]
	}
	return out
}
