// Package stereo holds the data model shared by the disparity pipeline:
// grayscale image buffers, the per-run parameter record and the backend
// selector. The algorithm layers live in the sub-packages (kernel, matcher,
// backend, postproc, pipeline).
package stereo

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidImage is returned when a pixel buffer does not match its dimensions.
	ErrInvalidImage = errors.New("invalid image")
	// ErrInvalidParams is returned when a parameter record violates its invariants.
	ErrInvalidParams = errors.New("invalid params")
	// ErrSizeMismatch is returned when the stereo pair and params disagree on size.
	ErrSizeMismatch = errors.New("image size mismatch")
)

// Image is a row-major grayscale pixel buffer with intensities 0..255.
type Image struct {
	Pix    []uint8
	Width  int
	Height int
}

// NewImage allocates a zeroed image of the given size.
func NewImage(width, height int) Image {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return Image{Pix: make([]uint8, width*height), Width: width, Height: height}
}

// At returns the intensity at (x, y). The caller guarantees the coordinates are in range.
func (im Image) At(x, y int) uint8 {
	return im.Pix[y*im.Width+x]
}

// Len returns the number of pixels.
func (im Image) Len() int {
	return im.Width * im.Height
}

// Validate checks len(Pix) == Width*Height with positive dimensions.
func (im Image) Validate() error {
	if im.Width <= 0 || im.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidImage, im.Width, im.Height)
	}
	if len(im.Pix) != im.Width*im.Height {
		return fmt.Errorf("%w: buffer length %d, want %d", ErrInvalidImage, len(im.Pix), im.Width*im.Height)
	}
	return nil
}

// BackendKind selects an execution backend.
type BackendKind int

const (
	BackendScalar BackendKind = iota
	BackendThreadPool
	BackendVectorized
	BackendGPU
	BackendAccelerator
)

var backendNames = map[BackendKind]string{
	BackendScalar:      "scalar",
	BackendThreadPool:  "threadpool",
	BackendVectorized:  "vectorized",
	BackendGPU:         "gpu",
	BackendAccelerator: "accelerator",
}

// legacy method names used by older experiment logs
var backendAliases = map[string]BackendKind{
	"single_threaded": BackendScalar,
	"multi_threaded":  BackendThreadPool,
	"openmp":          BackendVectorized,
	"opencl":          BackendGPU,
	"cuda":            BackendAccelerator,
	"simd":            BackendVectorized,
}

// String returns the canonical lower-case backend name.
func (k BackendKind) String() string {
	if s, ok := backendNames[k]; ok {
		return s
	}
	return "unknown"
}

// Valid reports whether k names a known backend.
func (k BackendKind) Valid() bool {
	_, ok := backendNames[k]
	return ok
}

// AllBackends returns every backend kind in declaration order.
func AllBackends() []BackendKind {
	return []BackendKind{BackendScalar, BackendThreadPool, BackendVectorized, BackendGPU, BackendAccelerator}
}

// ParseBackendKind parses a backend name case-insensitively. Legacy names
// such as "MULTI_THREADED" or "OPENCL" are accepted.
func ParseBackendKind(s string) (BackendKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, v := range backendNames {
		if v == name {
			return k, nil
		}
	}
	if k, ok := backendAliases[name]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unknown backend %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k BackendKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown backend %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *BackendKind) UnmarshalText(b []byte) error {
	parsed, err := ParseBackendKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
