package backend

import (
	"math"

	"github.com/banshee-data/disparity/internal/accel"
	"github.com/banshee-data/disparity/internal/monitoring"
	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/stereo/kernel"
	"github.com/banshee-data/disparity/internal/stereo/matcher"
)

// GPU offloads the search to an NDRange device with one work-item per pixel.
type GPU struct {
	offload
	split bool
}

// NewGPU creates a GPU backend. Without a GPU device in opts.Devices every
// run is degraded.
func NewGPU(opts Options) *GPU {
	g := &GPU{split: opts.SplitKernels}
	g.offload = offload{
		name:    stereo.BackendGPU.String(),
		kind:    accel.KindGPU,
		devices: opts.Devices,
		sink:    monitoring.OrDiscard(opts.Sink),
		logf:    monitoring.Tagged("gpu"),
		launch:  g.enqueue,
	}
	return g
}

func (g *GPU) Name() string { return g.name }

func (g *GPU) Run(ref, target stereo.Image, out []uint8, p stereo.Params, dir matcher.Direction) error {
	return g.run(ref, target, out, p, dir)
}

func (g *GPU) enqueue(dev accel.Device, ref, target, out accel.Buffer, p stereo.Params, dir matcher.Direction) error {
	if g.split {
		return launchSplit(dev, ref, target, out, p, dir)
	}
	k := accel.Kernel{Name: "zncc_fused", Fn: func(gid int, mem [][]byte) {
		refImg, tgtImg := pixelImages(mem, p)
		mem[2][gid] = matcher.MatchPixel(gid%p.Width, gid/p.Width, refImg, tgtImg, p, dir)
	}}
	return dev.Launch(k, p.Width*p.Height, ref, target, out)
}

// launchSplit runs the search as three dependent launches. Means are stored
// in slots of n pixels: slot 0 holds the reference mean, slot d+1 the target
// mean at disparity d. Scores use one slot per disparity.
func launchSplit(dev accel.Device, ref, target, out accel.Buffer, p stereo.Params, dir matcher.Direction) error {
	n := p.Width * p.Height
	means, err := dev.Alloc(n * (p.MaxDisp + 1) * 8)
	if err != nil {
		return err
	}
	defer func() { _ = dev.Free(means) }()
	scores, err := dev.Alloc(n * p.MaxDisp * 8)
	if err != nil {
		return err
	}
	defer func() { _ = dev.Free(scores) }()

	meanK := accel.Kernel{Name: "zncc_mean", Fn: func(gid int, mem [][]byte) {
		refImg, tgtImg := pixelImages(mem, p)
		slot, pix := gid/n, gid%n
		x, y := pix%p.Width, pix/p.Width
		var m float64
		if slot == 0 {
			m = kernel.WindowedMean(x, y, 0, refImg, p.WinSize)
		} else {
			m = kernel.WindowedMean(x, y, dir.Shift(slot-1), tgtImg, p.WinSize)
		}
		putFloat64(mem[2], gid, m)
	}}
	if err := dev.Launch(meanK, n*(p.MaxDisp+1), ref, target, means); err != nil {
		return err
	}

	scoreK := accel.Kernel{Name: "zncc_score", Fn: func(gid int, mem [][]byte) {
		refImg, tgtImg := pixelImages(mem, p)
		d, pix := gid/n, gid%n
		mean1 := getFloat64(mem[2], pix)
		mean2 := getFloat64(mem[2], (d+1)*n+pix)
		s := kernel.CorrelationScore(pix%p.Width, pix/p.Width, dir.Shift(d), mean1, mean2, refImg, tgtImg, p.WinSize)
		putFloat64(mem[3], gid, s)
	}}
	if err := dev.Launch(scoreK, n*p.MaxDisp, ref, target, means, scores); err != nil {
		return err
	}

	argmaxK := accel.Kernel{Name: "zncc_argmax", Fn: func(gid int, mem [][]byte) {
		best := math.Inf(-1)
		bestD := 0
		for d := 0; d < p.MaxDisp; d++ {
			if s := getFloat64(mem[0], d*n+gid); s > best {
				best = s
				bestD = d
			}
		}
		mem[1][gid] = matcher.ClampDisparity(bestD)
	}}
	return dev.Launch(argmaxK, n, scores, out)
}

// Accelerator offloads the search to a block-launched device: one block per
// image row, one thread per column.
type Accelerator struct {
	offload
}

// NewAccelerator creates an accelerator backend. Without an accelerator
// device in opts.Devices every run is degraded.
func NewAccelerator(opts Options) *Accelerator {
	a := &Accelerator{}
	a.offload = offload{
		name:    stereo.BackendAccelerator.String(),
		kind:    accel.KindAccelerator,
		devices: opts.Devices,
		sink:    monitoring.OrDiscard(opts.Sink),
		logf:    monitoring.Tagged("accelerator"),
		launch:  launchRowBlocks,
	}
	return a
}

func (a *Accelerator) Name() string { return a.name }

func (a *Accelerator) Run(ref, target stereo.Image, out []uint8, p stereo.Params, dir matcher.Direction) error {
	return a.run(ref, target, out, p, dir)
}

func launchRowBlocks(dev accel.Device, ref, target, out accel.Buffer, p stereo.Params, dir matcher.Direction) error {
	threads := p.Width
	k := accel.Kernel{Name: "zncc_row_block", Fn: func(gid int, mem [][]byte) {
		block, thread := gid/threads, gid%threads
		refImg, tgtImg := pixelImages(mem, p)
		mem[2][block*threads+thread] = matcher.MatchPixel(thread, block, refImg, tgtImg, p, dir)
	}}
	return dev.LaunchBlocks(k, p.Height, threads, ref, target, out)
}
