package accel

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCode_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "DEVICE_NOT_FOUND", CodeDeviceNotFound.String())
	assert.Equal(t, "OUT_OF_RESOURCES", CodeOutOfResources.String())
	assert.Equal(t, "LAUNCH_FAILURE", CodeLaunchFailure.String())
	assert.Equal(t, "UNKNOWN_ERROR(99)", Code(99).String())
}

func TestError(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := error(newError("launch k", "dev0", CodeLaunchFailure, inner))
	assert.Equal(t, "accel: launch k on dev0: LAUNCH_FAILURE: boom", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, CodeLaunchFailure, CodeOf(err))

	missing := error(newError("select", "", CodeDeviceNotFound, nil))
	assert.ErrorIs(t, missing, ErrUnavailable)
	assert.Equal(t, Code(0), CodeOf(inner))
}

func TestHostDevice_MemoryRoundTrip(t *testing.T) {
	t.Parallel()

	dev := NewHostDevice(HostConfig{Kind: KindGPU, ComputeUnits: 2})
	assert.Equal(t, "host-gpu", dev.Info().Name)

	buf, err := dev.Alloc(4)
	require.NoError(t, err)
	assert.Equal(t, 4, buf.Size())

	src := []byte{1, 2, 3, 4}
	require.NoError(t, dev.Write(buf, src))
	src[0] = 99 // device memory is a copy

	got := make([]byte, 4)
	require.NoError(t, dev.Read(got, buf))
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	assert.Equal(t, CodeInvalidBufferSize, CodeOf(dev.Write(buf, make([]byte, 5))))
	assert.Equal(t, CodeInvalidBufferSize, CodeOf(dev.Read(make([]byte, 5), buf)))

	require.NoError(t, dev.Free(buf))
	assert.Equal(t, int64(0), dev.Used())
	assert.Equal(t, CodeInvalidBuffer, CodeOf(dev.Free(buf)))
}

func TestHostDevice_AllocLimits(t *testing.T) {
	t.Parallel()

	dev := NewHostDevice(HostConfig{Kind: KindAccelerator, MemoryLimit: 10})

	_, err := dev.Alloc(0)
	assert.Equal(t, CodeInvalidBufferSize, CodeOf(err))

	a, err := dev.Alloc(6)
	require.NoError(t, err)
	_, err = dev.Alloc(6)
	assert.Equal(t, CodeOutOfResources, CodeOf(err))

	require.NoError(t, dev.Free(a))
	_, err = dev.Alloc(10)
	assert.NoError(t, err)
}

func TestHostDevice_ForeignBuffer(t *testing.T) {
	t.Parallel()

	a := NewHostDevice(HostConfig{})
	b := NewHostDevice(HostConfig{})
	buf, err := a.Alloc(8)
	require.NoError(t, err)

	assert.Equal(t, CodeInvalidBuffer, CodeOf(b.Write(buf, []byte{1})))
	err = b.Launch(Kernel{Name: "noop", Fn: func(int, [][]byte) {}}, 1, buf)
	assert.Equal(t, CodeInvalidArgs, CodeOf(err))
}

func TestHostDevice_Launch(t *testing.T) {
	t.Parallel()

	dev := NewHostDevice(HostConfig{ComputeUnits: 3})
	buf, err := dev.Alloc(100)
	require.NoError(t, err)

	var calls atomic.Int64
	k := Kernel{Name: "fill", Fn: func(gid int, mem [][]byte) {
		calls.Add(1)
		mem[0][gid] = byte(gid)
	}}
	require.NoError(t, dev.Launch(k, 100, buf))
	assert.Equal(t, int64(100), calls.Load())

	out := make([]byte, 100)
	require.NoError(t, dev.Read(out, buf))
	for i, v := range out {
		assert.Equal(t, byte(i), v)
	}
}

func TestHostDevice_LaunchBlocks(t *testing.T) {
	t.Parallel()

	dev := NewHostDevice(HostConfig{Kind: KindAccelerator, ComputeUnits: 2})
	buf, err := dev.Alloc(12)
	require.NoError(t, err)

	k := Kernel{Name: "rows", Fn: func(gid int, mem [][]byte) {
		mem[0][gid] = byte(gid / 4) // block index
	}}
	require.NoError(t, dev.LaunchBlocks(k, 3, 4, buf))

	out := make([]byte, 12)
	require.NoError(t, dev.Read(out, buf))
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2}, out)

	assert.Equal(t, CodeInvalidWorkSize, CodeOf(dev.LaunchBlocks(k, 0, 4, buf)))
}

func TestHostDevice_LaunchErrors(t *testing.T) {
	t.Parallel()

	dev := NewHostDevice(HostConfig{MaxWorkItems: 8})
	buf, err := dev.Alloc(4)
	require.NoError(t, err)

	assert.Equal(t, CodeInvalidKernel, CodeOf(dev.Launch(Kernel{Name: "empty"}, 4, buf)))

	noop := Kernel{Name: "noop", Fn: func(int, [][]byte) {}}
	assert.Equal(t, CodeInvalidWorkSize, CodeOf(dev.Launch(noop, 0, buf)))
	assert.Equal(t, CodeInvalidWorkSize, CodeOf(dev.Launch(noop, 9, buf)))

	oob := Kernel{Name: "oob", Fn: func(gid int, mem [][]byte) { mem[0][gid] = 1 }}
	err = dev.Launch(oob, 8, buf)
	assert.Equal(t, CodeLaunchFailure, CodeOf(err))
	assert.Contains(t, err.Error(), "work-item panic")
}

func TestHostDevice_Close(t *testing.T) {
	t.Parallel()

	dev := NewHostDevice(HostConfig{})
	buf, err := dev.Alloc(4)
	require.NoError(t, err)
	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())

	_, err = dev.Alloc(4)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, CodeDeviceClosed, CodeOf(dev.Write(buf, []byte{1})))
	err = dev.Launch(Kernel{Name: "noop", Fn: func(int, [][]byte) {}}, 1, buf)
	assert.Equal(t, CodeDeviceClosed, CodeOf(err))
	assert.Equal(t, int64(0), dev.Used())
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewEmulatedRegistry(2, 1, 1)
	assert.Equal(t, 3, r.Len())
	assert.Len(t, r.Devices(KindGPU), 2)
	assert.Len(t, r.Devices(KindAccelerator), 1)

	d, err := r.Device(KindGPU, 1)
	require.NoError(t, err)
	assert.Equal(t, "host-gpu-1", d.Info().Name)

	_, err = r.Device(KindAccelerator, 1)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, CodeDeviceNotFound, CodeOf(err))

	idx := r.Register(NewHostDevice(HostConfig{Kind: KindAccelerator}))
	assert.Equal(t, 1, idx)

	require.NoError(t, r.Close())
	_, err = d.Alloc(1)
	assert.Equal(t, CodeDeviceClosed, CodeOf(err))
}

func TestRegistry_Nil(t *testing.T) {
	t.Parallel()

	var r *Registry
	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Devices(KindGPU))
	_, err := r.Device(KindGPU, 0)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, r.Close())
}
