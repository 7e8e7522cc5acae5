package accel

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// chunksPerUnit controls how finely a launch is split across compute units.
const chunksPerUnit = 4

// HostConfig configures a host-emulated device.
type HostConfig struct {
	Name         string
	Kind         Kind
	ComputeUnits int   // defaults to runtime.NumCPU()
	MemoryLimit  int64 // bytes, 0 means unlimited
	MaxWorkItems int   // 0 means unlimited
}

// HostDevice emulates an offload device in process. Device memory is a
// separate allocation per buffer; data only moves through Write and Read.
type HostDevice struct {
	info DeviceInfo

	mu     sync.Mutex
	used   int64
	live   map[*hostBuffer]struct{}
	closed bool
}

type hostBuffer struct {
	owner *HostDevice
	data  []byte
}

func (b *hostBuffer) Size() int { return len(b.data) }

// NewHostDevice creates a host-emulated device.
func NewHostDevice(cfg HostConfig) *HostDevice {
	units := cfg.ComputeUnits
	if units <= 0 {
		units = runtime.NumCPU()
	}
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("host-%s", cfg.Kind)
	}
	return &HostDevice{
		info: DeviceInfo{
			Name:         name,
			Kind:         cfg.Kind,
			ComputeUnits: units,
			MemoryBytes:  cfg.MemoryLimit,
			MaxWorkItems: cfg.MaxWorkItems,
		},
		live: make(map[*hostBuffer]struct{}),
	}
}

// Info returns the device description.
func (d *HostDevice) Info() DeviceInfo { return d.info }

// Used returns the number of bytes currently allocated.
func (d *HostDevice) Used() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

func (d *HostDevice) Alloc(size int) (Buffer, error) {
	const op = "alloc"
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, newError(op, d.info.Name, CodeDeviceClosed, nil)
	}
	if size <= 0 {
		return nil, newError(op, d.info.Name, CodeInvalidBufferSize, fmt.Errorf("size %d", size))
	}
	if d.info.MemoryBytes > 0 && d.used+int64(size) > d.info.MemoryBytes {
		return nil, newError(op, d.info.Name, CodeOutOfResources,
			fmt.Errorf("need %d bytes, %d of %d in use", size, d.used, d.info.MemoryBytes))
	}
	b := &hostBuffer{owner: d, data: make([]byte, size)}
	d.live[b] = struct{}{}
	d.used += int64(size)
	return b, nil
}

func (d *HostDevice) Free(b Buffer) error {
	const op = "free"
	d.mu.Lock()
	defer d.mu.Unlock()
	hb, err := d.lookup(op, b)
	if err != nil {
		return err
	}
	delete(d.live, hb)
	d.used -= int64(len(hb.data))
	return nil
}

func (d *HostDevice) Write(dst Buffer, src []byte) error {
	const op = "write"
	d.mu.Lock()
	hb, err := d.lookup(op, dst)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if len(src) > len(hb.data) {
		return newError(op, d.info.Name, CodeInvalidBufferSize,
			fmt.Errorf("writing %d bytes into %d byte buffer", len(src), len(hb.data)))
	}
	copy(hb.data, src)
	return nil
}

func (d *HostDevice) Read(dst []byte, src Buffer) error {
	const op = "read"
	d.mu.Lock()
	hb, err := d.lookup(op, src)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if len(dst) > len(hb.data) {
		return newError(op, d.info.Name, CodeInvalidBufferSize,
			fmt.Errorf("reading %d bytes from %d byte buffer", len(dst), len(hb.data)))
	}
	copy(dst, hb.data)
	return nil
}

func (d *HostDevice) Launch(k Kernel, global int, args ...Buffer) error {
	return d.run("launch "+k.Name, k, global, args)
}

func (d *HostDevice) LaunchBlocks(k Kernel, blocks, threads int, args ...Buffer) error {
	op := "launch " + k.Name
	if blocks <= 0 || threads <= 0 {
		return newError(op, d.info.Name, CodeInvalidWorkSize, fmt.Errorf("grid %dx%d", blocks, threads))
	}
	return d.run(op, k, blocks*threads, args)
}

// Close releases all device memory. Further calls fail with CodeDeviceClosed.
func (d *HostDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	clear(d.live)
	d.used = 0
	return nil
}

// lookup resolves a handle owned by this device. d.mu must be held.
func (d *HostDevice) lookup(op string, b Buffer) (*hostBuffer, error) {
	if d.closed {
		return nil, newError(op, d.info.Name, CodeDeviceClosed, nil)
	}
	hb, ok := b.(*hostBuffer)
	if !ok || hb == nil || hb.owner != d {
		return nil, newError(op, d.info.Name, CodeInvalidBuffer, errors.New("buffer not owned by device"))
	}
	if _, ok := d.live[hb]; !ok {
		return nil, newError(op, d.info.Name, CodeInvalidBuffer, errors.New("buffer already freed"))
	}
	return hb, nil
}

func (d *HostDevice) run(op string, k Kernel, global int, args []Buffer) error {
	if k.Fn == nil {
		return newError(op, d.info.Name, CodeInvalidKernel, errors.New("kernel has no body"))
	}
	if global <= 0 || (d.info.MaxWorkItems > 0 && global > d.info.MaxWorkItems) {
		return newError(op, d.info.Name, CodeInvalidWorkSize,
			fmt.Errorf("global size %d, limit %d", global, d.info.MaxWorkItems))
	}

	mem := make([][]byte, len(args))
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return newError(op, d.info.Name, CodeDeviceClosed, nil)
	}
	for i, a := range args {
		hb, err := d.lookup(op, a)
		if err != nil {
			d.mu.Unlock()
			return newError(op, d.info.Name, CodeInvalidArgs, fmt.Errorf("arg %d: %w", i, err))
		}
		mem[i] = hb.data
	}
	d.mu.Unlock()

	units := d.info.ComputeUnits
	chunk := max(1, (global+units*chunksPerUnit-1)/(units*chunksPerUnit))

	var g errgroup.Group
	g.SetLimit(units)
	for start := 0; start < global; start += chunk {
		end := min(start+chunk, global)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = newError(op, d.info.Name, CodeLaunchFailure, fmt.Errorf("work-item panic: %v", r))
				}
			}()
			for gid := start; gid < end; gid++ {
				k.Fn(gid, mem)
			}
			return nil
		})
	}
	return g.Wait()
}
