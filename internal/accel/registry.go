package accel

import (
	"errors"
	"fmt"
	"sync"
)

// Registry holds the devices configured for a process. It is created by the
// caller and passed to whatever needs devices; there is no global registry.
// A nil *Registry behaves as an empty one.
type Registry struct {
	mu      sync.RWMutex
	devices []Device
}

// NewRegistry returns a registry holding devs in order.
func NewRegistry(devs ...Device) *Registry {
	r := &Registry{}
	for _, d := range devs {
		r.Register(d)
	}
	return r
}

// NewEmulatedRegistry registers gpus host-emulated GPU devices and
// accelerators host-emulated accelerator devices.
func NewEmulatedRegistry(gpus, accelerators int, computeUnits int) *Registry {
	r := &Registry{}
	for i := 0; i < gpus; i++ {
		r.Register(NewHostDevice(HostConfig{
			Name:         fmt.Sprintf("host-gpu-%d", i),
			Kind:         KindGPU,
			ComputeUnits: computeUnits,
		}))
	}
	for i := 0; i < accelerators; i++ {
		r.Register(NewHostDevice(HostConfig{
			Name:         fmt.Sprintf("host-accelerator-%d", i),
			Kind:         KindAccelerator,
			ComputeUnits: computeUnits,
		}))
	}
	return r
}

// Register adds d and returns its index among devices of the same kind.
func (r *Registry) Register(d Device) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := 0
	for _, existing := range r.devices {
		if existing.Info().Kind == d.Info().Kind {
			idx++
		}
	}
	r.devices = append(r.devices, d)
	return idx
}

// Devices returns the devices of one kind in registration order.
func (r *Registry) Devices(kind Kind) []Device {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Device
	for _, d := range r.devices {
		if d.Info().Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Device returns the index-th device of the given kind.
func (r *Registry) Device(kind Kind, index int) (Device, error) {
	devs := r.Devices(kind)
	if index < 0 || index >= len(devs) {
		return nil, newError("select", "", CodeDeviceNotFound,
			fmt.Errorf("%s device %d requested, %d available", kind, index, len(devs)))
	}
	return devs[index], nil
}

// Len returns the total number of registered devices.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Close closes every registered device.
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, d := range r.devices {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
