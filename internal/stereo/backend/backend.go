// Package backend runs the disparity search over a whole image under one of
// several execution strategies. Every backend fills the output map with the
// same values the scalar matcher would produce; they differ only in how the
// work is partitioned or where it runs.
package backend

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/banshee-data/disparity/internal/accel"
	"github.com/banshee-data/disparity/internal/monitoring"
	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/stereo/matcher"
)

// ErrDegraded marks a run that was skipped because its compute target was
// unavailable or failed. The output map is left unchanged.
var ErrDegraded = errors.New("backend degraded")

// DefaultProgressEvery is the scalar backend's progress interval in rows.
const DefaultProgressEvery = 10

// Backend computes a disparity map for ref against target.
type Backend interface {
	Name() string
	// Run fills out (len Width*Height) with the disparity of every pixel of
	// ref. Invalid inputs fail before any work with stereo.ErrInvalidParams,
	// stereo.ErrInvalidImage or stereo.ErrSizeMismatch.
	Run(ref, target stereo.Image, out []uint8, p stereo.Params, dir matcher.Direction) error
}

// Options configure backend construction.
type Options struct {
	// Workers is the number of row chunks for the thread-pool and vectorized
	// backends. Zero means runtime.NumCPU().
	Workers int
	// ProgressEvery is the scalar progress interval in rows; zero means
	// DefaultProgressEvery and a negative value disables progress events.
	ProgressEvery int
	Sink          monitoring.Sink
	// Devices supplies the offload targets. The device is chosen per run
	// from Params.DeviceIndex.
	Devices *accel.Registry
	// SplitKernels runs the GPU search as separate mean, score and argmax
	// launches instead of one fused kernel.
	SplitKernels bool
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

func (o Options) progressEvery() int {
	switch {
	case o.ProgressEvery == 0:
		return DefaultProgressEvery
	case o.ProgressEvery < 0:
		return 0
	default:
		return o.ProgressEvery
	}
}

// New returns the backend for kind.
func New(kind stereo.BackendKind, opts Options) (Backend, error) {
	switch kind {
	case stereo.BackendScalar:
		return NewScalar(opts), nil
	case stereo.BackendThreadPool:
		return NewThreadPool(opts), nil
	case stereo.BackendVectorized:
		return NewVectorized(opts), nil
	case stereo.BackendGPU:
		return NewGPU(opts), nil
	case stereo.BackendAccelerator:
		return NewAccelerator(opts), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %d", stereo.ErrInvalidParams, int(kind))
	}
}

// checkRun validates the inputs shared by every backend.
func checkRun(ref, target stereo.Image, out []uint8, p stereo.Params) error {
	if err := p.CheckPair(ref, target); err != nil {
		return err
	}
	return p.CheckMap(out)
}
