package backend

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/disparity/internal/accel"
	"github.com/banshee-data/disparity/internal/monitoring"
	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/stereo/matcher"
)

// launchFunc enqueues the search on dev. ref, target and out are device
// buffers of Width*Height bytes.
type launchFunc func(dev accel.Device, ref, target, out accel.Buffer, p stereo.Params, dir matcher.Direction) error

// offload is the host side shared by the GPU and accelerator backends: pick
// the device, upload both images, launch, download. Any device failure
// degrades the run and leaves the caller's map untouched.
type offload struct {
	name    string
	kind    accel.Kind
	devices *accel.Registry
	sink    monitoring.Sink
	logf    func(format string, v ...interface{})
	launch  launchFunc
}

func (o *offload) run(ref, target stereo.Image, out []uint8, p stereo.Params, dir matcher.Direction) error {
	if err := checkRun(ref, target, out, p); err != nil {
		return err
	}
	dev, err := o.devices.Device(o.kind, p.DeviceIndex)
	if err != nil {
		return o.degraded(p, err)
	}

	n := p.Width * p.Height
	var bufs []accel.Buffer
	defer func() {
		for _, b := range bufs {
			_ = dev.Free(b)
		}
	}()
	for i := 0; i < 3; i++ {
		b, err := dev.Alloc(n)
		if err != nil {
			return o.degraded(p, err)
		}
		bufs = append(bufs, b)
	}
	refBuf, tgtBuf, outBuf := bufs[0], bufs[1], bufs[2]

	if err := dev.Write(refBuf, ref.Pix); err != nil {
		return o.degraded(p, err)
	}
	if err := dev.Write(tgtBuf, target.Pix); err != nil {
		return o.degraded(p, err)
	}
	if err := o.launch(dev, refBuf, tgtBuf, outBuf, p, dir); err != nil {
		return o.degraded(p, err)
	}
	host := make([]byte, n)
	if err := dev.Read(host, outBuf); err != nil {
		return o.degraded(p, err)
	}
	copy(out, host)
	return nil
}

func (o *offload) degraded(p stereo.Params, cause error) error {
	code := accel.CodeOf(cause)
	o.logf("device %d unavailable, skipping run: %v", p.DeviceIndex, cause)
	o.sink.Emit(monitoring.Event{
		Stage:   "degraded",
		Backend: o.name,
		Message: code.String(),
	})
	return fmt.Errorf("%w: %s device %d: %w", ErrDegraded, o.name, p.DeviceIndex, cause)
}

// pixelImages wraps device memory as images for kernel bodies.
func pixelImages(mem [][]byte, p stereo.Params) (ref, target stereo.Image) {
	ref = stereo.Image{Pix: mem[0], Width: p.Width, Height: p.Height}
	target = stereo.Image{Pix: mem[1], Width: p.Width, Height: p.Height}
	return ref, target
}

// float64 device memory is little-endian, 8 bytes per element
func putFloat64(b []byte, i int, v float64) {
	binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
}

func getFloat64(b []byte, i int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
}
