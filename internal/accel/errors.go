package accel

import (
	"errors"
	"fmt"
)

// ErrUnavailable matches any error caused by a device that is missing or closed.
var ErrUnavailable = errors.New("accel: device unavailable")

// Code classifies a device failure.
type Code int

const (
	CodeDeviceNotFound Code = iota + 1
	CodeOutOfResources
	CodeInvalidBufferSize
	CodeInvalidBuffer
	CodeInvalidKernel
	CodeInvalidWorkSize
	CodeInvalidArgs
	CodeLaunchFailure
	CodeDeviceClosed
)

var codeNames = map[Code]string{
	CodeDeviceNotFound:    "DEVICE_NOT_FOUND",
	CodeOutOfResources:    "OUT_OF_RESOURCES",
	CodeInvalidBufferSize: "INVALID_BUFFER_SIZE",
	CodeInvalidBuffer:     "INVALID_MEM_OBJECT",
	CodeInvalidKernel:     "INVALID_KERNEL",
	CodeInvalidWorkSize:   "INVALID_WORK_SIZE",
	CodeInvalidArgs:       "INVALID_KERNEL_ARGS",
	CodeLaunchFailure:     "LAUNCH_FAILURE",
	CodeDeviceClosed:      "DEVICE_CLOSED",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_ERROR(%d)", int(c))
}

// Error is a device failure with its operation and code.
type Error struct {
	Op     string
	Device string
	Code   Code
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("accel: %s", e.Op)
	if e.Device != "" {
		msg += " on " + e.Device
	}
	msg += ": " + e.Code.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports ErrUnavailable for missing or closed devices.
func (e *Error) Is(target error) bool {
	return target == ErrUnavailable && (e.Code == CodeDeviceNotFound || e.Code == CodeDeviceClosed)
}

func newError(op, device string, code Code, err error) *Error {
	return &Error{Op: op, Device: device, Code: code, Err: err}
}

// CodeOf extracts the device code from err, or 0 when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
