package backend

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/disparity/internal/accel"
	"github.com/banshee-data/disparity/internal/monitoring"
	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/stereo/matcher"
	"github.com/banshee-data/disparity/internal/testutil"
)

func testParams() stereo.Params {
	p := stereo.DefaultParams(40, 12)
	p.MaxDisp = 8
	p.WinSize = 3
	return p
}

func reference(t *testing.T, left, right stereo.Image, p stereo.Params, dir matcher.Direction) []uint8 {
	t.Helper()
	out := make([]uint8, p.Width*p.Height)
	ref, target := left, right
	if dir == matcher.RightToLeft {
		ref, target = right, left
	}
	matcher.MatchRows(ref, target, out, p, dir, 0, p.Height)
	return out
}

func allBackends(devices *accel.Registry) map[string]Backend {
	return map[string]Backend{
		"scalar":       NewScalar(Options{}),
		"threadpool":   NewThreadPool(Options{Workers: 3}),
		"vectorized":   NewVectorized(Options{Workers: 5}),
		"gpu":          NewGPU(Options{Devices: devices}),
		"gpu-split":    NewGPU(Options{Devices: devices, SplitKernels: true}),
		"accelerator":  NewAccelerator(Options{Devices: devices}),
		"single-chunk": NewThreadPool(Options{Workers: 1}),
	}
}

func TestBackends_MatchScalarReference(t *testing.T) {
	t.Parallel()

	p := testParams()
	left, right := testutil.ShiftedPair(p.Width, p.Height, 3, 42)
	devices := accel.NewEmulatedRegistry(1, 1, 2)
	t.Cleanup(func() { _ = devices.Close() })
	in := testutil.RequireInterior(t, p)

	for _, dir := range []matcher.Direction{matcher.LeftToRight, matcher.RightToLeft} {
		want := reference(t, left, right, p, dir)
		ref, target := left, right
		if dir == matcher.RightToLeft {
			ref, target = right, left
		}

		for name, b := range allBackends(devices) {
			out := make([]uint8, p.Width*p.Height)
			require.NoError(t, b.Run(ref, target, out, p, dir), "%s %s", name, dir)

			if name == "vectorized" {
				// Reduction order differs, so only fully supported windows
				// are required to agree exactly.
				in.Each(func(x, y int) {
					i := y*p.Width + x
					assert.Equal(t, want[i], out[i], "%s %s x=%d y=%d", name, dir, x, y)
				})
				continue
			}
			if diff := cmp.Diff(want, out); diff != "" {
				t.Errorf("%s %s mismatch (-want +got):\n%s", name, dir, diff)
			}
		}
	}
}

func TestBackends_RecoverShiftInInterior(t *testing.T) {
	t.Parallel()

	p := testParams()
	left, right := testutil.ShiftedPair(p.Width, p.Height, 5, 7)
	devices := accel.NewEmulatedRegistry(1, 1, 0)
	t.Cleanup(func() { _ = devices.Close() })
	in := testutil.RequireInterior(t, p)

	for name, b := range allBackends(devices) {
		out := make([]uint8, p.Width*p.Height)
		require.NoError(t, b.Run(left, right, out, p, matcher.LeftToRight))
		in.Each(func(x, y int) {
			assert.Equal(t, uint8(5), out[y*p.Width+x], "%s x=%d y=%d", name, x, y)
		})
	}
}

func TestBackends_Preconditions(t *testing.T) {
	t.Parallel()

	p := testParams()
	left, right := testutil.ShiftedPair(p.Width, p.Height, 1, 1)

	for name, b := range allBackends(nil) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := b.Run(left, right, make([]uint8, 5), p, matcher.LeftToRight)
			assert.ErrorIs(t, err, stereo.ErrSizeMismatch)

			bad := p
			bad.WinSize = 4
			err = b.Run(left, right, make([]uint8, p.Width*p.Height), bad, matcher.LeftToRight)
			assert.ErrorIs(t, err, stereo.ErrInvalidParams)
			assert.NotErrorIs(t, err, ErrDegraded)

			short := stereo.Image{Pix: left.Pix[:10], Width: p.Width, Height: p.Height}
			err = b.Run(short, right, make([]uint8, p.Width*p.Height), p, matcher.LeftToRight)
			assert.ErrorIs(t, err, stereo.ErrInvalidImage)
		})
	}
}

func TestOffload_DegradedWithoutDevice(t *testing.T) {
	t.Parallel()

	p := testParams()
	left, right := testutil.ShiftedPair(p.Width, p.Height, 2, 3)
	var rec monitoring.Recorder

	for _, b := range []Backend{
		NewGPU(Options{Sink: &rec}),
		NewAccelerator(Options{Sink: &rec, Devices: accel.NewEmulatedRegistry(1, 0, 1)}),
	} {
		out := testutil.Filled(p.Width*p.Height, 77)
		err := b.Run(left, right, out, p, matcher.LeftToRight)
		require.ErrorIs(t, err, ErrDegraded, b.Name())
		assert.ErrorIs(t, err, accel.ErrUnavailable)
		assert.Equal(t, accel.CodeDeviceNotFound, accel.CodeOf(err))
		assert.Equal(t, testutil.Filled(p.Width*p.Height, 77), out, "map must be left unchanged")
	}

	events := rec.Stage("degraded")
	require.Len(t, events, 2)
	assert.Equal(t, "gpu", events[0].Backend)
	assert.Equal(t, "DEVICE_NOT_FOUND", events[0].Message)
	assert.Equal(t, "accelerator", events[1].Backend)
}

func TestOffload_DeviceIndex(t *testing.T) {
	t.Parallel()

	p := testParams()
	left, right := testutil.ShiftedPair(p.Width, p.Height, 2, 3)
	devices := accel.NewEmulatedRegistry(2, 0, 1)
	t.Cleanup(func() { _ = devices.Close() })

	b := NewGPU(Options{Devices: devices})
	out := make([]uint8, p.Width*p.Height)

	p.DeviceIndex = 1
	require.NoError(t, b.Run(left, right, out, p, matcher.LeftToRight))

	p.DeviceIndex = 2
	err := b.Run(left, right, out, p, matcher.LeftToRight)
	assert.ErrorIs(t, err, ErrDegraded)
}

func TestOffload_OutOfDeviceMemory(t *testing.T) {
	t.Parallel()

	p := testParams()
	n := p.Width * p.Height
	left, right := testutil.ShiftedPair(p.Width, p.Height, 2, 3)

	tests := []struct {
		name  string
		limit int64
		split bool
	}{
		{"images do not fit", int64(2 * n), false},
		{"intermediates do not fit", int64(3*n + 100), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dev := accel.NewHostDevice(accel.HostConfig{Kind: accel.KindGPU, MemoryLimit: tc.limit})
			b := NewGPU(Options{Devices: accel.NewRegistry(dev), SplitKernels: tc.split})

			out := testutil.Filled(n, 9)
			err := b.Run(left, right, out, p, matcher.LeftToRight)
			require.ErrorIs(t, err, ErrDegraded)
			assert.Equal(t, accel.CodeOutOfResources, accel.CodeOf(err))
			assert.Equal(t, testutil.Filled(n, 9), out)
			assert.Equal(t, int64(0), dev.Used(), "buffers must be released")
		})
	}
}

func TestOffload_WorkSizeLimit(t *testing.T) {
	t.Parallel()

	p := testParams()
	left, right := testutil.ShiftedPair(p.Width, p.Height, 2, 3)
	dev := accel.NewHostDevice(accel.HostConfig{Kind: accel.KindAccelerator, MaxWorkItems: 16})
	b := NewAccelerator(Options{Devices: accel.NewRegistry(dev)})

	out := make([]uint8, p.Width*p.Height)
	err := b.Run(left, right, out, p, matcher.LeftToRight)
	require.ErrorIs(t, err, ErrDegraded)
	assert.Equal(t, accel.CodeInvalidWorkSize, accel.CodeOf(err))
}

func TestScalar_Progress(t *testing.T) {
	t.Parallel()

	p := testParams()
	left, right := testutil.ShiftedPair(p.Width, p.Height, 1, 1)
	out := make([]uint8, p.Width*p.Height)

	var rec monitoring.Recorder
	require.NoError(t, NewScalar(Options{Sink: &rec, ProgressEvery: 5}).Run(left, right, out, p, matcher.LeftToRight))
	events := rec.Stage("progress")
	require.Len(t, events, 2)
	assert.Equal(t, 5, events[0].Done)
	assert.Equal(t, 10, events[1].Done)
	assert.Equal(t, 12, events[1].Total)

	rec.Reset()
	require.NoError(t, NewScalar(Options{Sink: &rec, ProgressEvery: -1}).Run(left, right, out, p, matcher.LeftToRight))
	assert.Empty(t, rec.Events())

	rec.Reset()
	require.NoError(t, NewScalar(Options{Sink: &rec}).Run(left, right, out, p, matcher.LeftToRight))
	assert.Len(t, rec.Events(), 1) // every DefaultProgressEvery rows
}

func TestNew(t *testing.T) {
	t.Parallel()

	for _, k := range stereo.AllBackends() {
		b, err := New(k, Options{})
		require.NoError(t, err)
		assert.Equal(t, k.String(), b.Name())
	}
	_, err := New(stereo.BackendKind(99), Options{})
	assert.ErrorIs(t, err, stereo.ErrInvalidParams)
}

func TestFloat64Codec(t *testing.T) {
	t.Parallel()

	b := make([]byte, 24)
	putFloat64(b, 0, -1.5)
	putFloat64(b, 2, 0.25)
	assert.Equal(t, -1.5, getFloat64(b, 0))
	assert.Equal(t, 0.0, getFloat64(b, 1))
	assert.Equal(t, 0.25, getFloat64(b, 2))
}

func TestSIMDFeatures(t *testing.T) {
	t.Parallel()
	for _, f := range SIMDFeatures() {
		assert.NotEmpty(t, f)
	}
}
