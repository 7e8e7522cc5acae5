// Package accel abstracts offload devices with their own memory space.
//
// A Device is an already configured handle: platform discovery and program
// compilation happen before a Device is registered. The package ships a
// host-emulated implementation (HostDevice) that keeps a separate memory
// space and runs kernels on a bounded set of goroutines, which is what the
// GPU and accelerator backends run on when no driver binding is linked in.
package accel

import "fmt"

// Kind distinguishes the two offload launch models.
type Kind int

const (
	// KindGPU devices launch flat NDRanges of work-items.
	KindGPU Kind = iota
	// KindAccelerator devices launch grids of blocks of threads.
	KindAccelerator
)

func (k Kind) String() string {
	switch k {
	case KindGPU:
		return "gpu"
	case KindAccelerator:
		return "accelerator"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DeviceInfo describes a device.
type DeviceInfo struct {
	Name         string
	Kind         Kind
	ComputeUnits int
	MemoryBytes  int64 // 0 means unlimited
	MaxWorkItems int   // largest global size or blocks*threads accepted, 0 means unlimited
}

// Buffer is an opaque handle to device memory.
type Buffer interface {
	Size() int
}

// KernelFunc is the body of a kernel for one global work-item id. mem holds
// the device memory of the launch arguments in order.
type KernelFunc func(gid int, mem [][]byte)

// Kernel is a named, already built program entry point.
type Kernel struct {
	Name string
	Fn   KernelFunc
}

// Device is an offload target. Calls block until the device has finished.
type Device interface {
	Info() DeviceInfo
	// Alloc reserves size bytes of device memory.
	Alloc(size int) (Buffer, error)
	// Free releases a buffer. Freeing twice is an error.
	Free(b Buffer) error
	// Write copies src from host memory into dst.
	Write(dst Buffer, src []byte) error
	// Read copies src from device memory into dst.
	Read(dst []byte, src Buffer) error
	// Launch runs k once for every gid in [0, global).
	Launch(k Kernel, global int, args ...Buffer) error
	// LaunchBlocks runs k over blocks*threads work-items; the global id of
	// thread t in block b is b*threads+t.
	LaunchBlocks(k Kernel, blocks, threads int, args ...Buffer) error
	Close() error
}
