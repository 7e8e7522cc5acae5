// Package testutil provides shared test fixtures for the disparity packages:
// synthetic textured stereo pairs with a known disparity and a few map helpers.
package testutil

import (
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/disparity/internal/stereo"
)

// Texture returns a deterministic pseudo-random texture of the given size.
// The same seed always yields the same pixels.
func Texture(width, height int, seed uint64) stereo.Image {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	img := stereo.NewImage(width, height)
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.IntN(256))
	}
	return img
}

// ShiftedPair builds a stereo pair whose true disparity is shift everywhere:
// right(x) = left(x+shift). Both images are cut from one wider texture so the
// right image has real content at its right border.
func ShiftedPair(width, height, shift int, seed uint64) (left, right stereo.Image) {
	wide := Texture(width+shift, height, seed)
	left = stereo.NewImage(width, height)
	right = stereo.NewImage(width, height)
	for y := 0; y < height; y++ {
		src := wide.Pix[y*wide.Width : (y+1)*wide.Width]
		copy(left.Pix[y*width:(y+1)*width], src[:width])
		copy(right.Pix[y*width:(y+1)*width], src[shift:shift+width])
	}
	return left, right
}

// Gradient returns an image whose intensity grows by step per column and is
// constant down each column.
func Gradient(width, height, step int) stereo.Image {
	img := stereo.NewImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Pix[y*width+x] = uint8(min(x*step, 255))
		}
	}
	return img
}

// Interior is the rectangle of pixels whose windows stay fully inside both
// images for every candidate disparity, so no border truncation applies.
type Interior struct {
	X0, X1, Y0, Y1 int // half-open
}

// InteriorFor returns the fully supported interior for params p.
func InteriorFor(p stereo.Params) Interior {
	half := p.HalfWindow()
	return Interior{
		X0: half + p.MaxDisp - 1,
		X1: p.Width - half - p.MaxDisp + 1,
		Y0: half,
		Y1: p.Height - half,
	}
}

// Each calls fn for every pixel in the interior.
func (in Interior) Each(fn func(x, y int)) {
	for y := in.Y0; y < in.Y1; y++ {
		for x := in.X0; x < in.X1; x++ {
			fn(x, y)
		}
	}
}

// Empty reports whether the interior holds no pixels.
func (in Interior) Empty() bool {
	return in.X1 <= in.X0 || in.Y1 <= in.Y0
}

// Filled returns a map of n pixels all set to v.
func Filled(n int, v uint8) []uint8 {
	m := make([]uint8, n)
	for i := range m {
		m[i] = v
	}
	return m
}

// RequireInterior fails the test when p leaves no fully supported interior.
func RequireInterior(t testing.TB, p stereo.Params) Interior {
	t.Helper()
	in := InteriorFor(p)
	if in.Empty() {
		t.Fatalf("params %dx%d maxDisp=%d win=%d leave no interior", p.Width, p.Height, p.MaxDisp, p.WinSize)
	}
	return in
}
