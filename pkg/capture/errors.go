package capture

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrPermissionDenied is returned when the process lacks camera access.
	ErrPermissionDenied = errors.New("capture: camera permission not granted")

	// ErrDeviceUnavailable is returned when the device is busy, absent or lost.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrConfigurationRejected is returned when the device cannot stream the requested format.
	ErrConfigurationRejected = errors.New("capture: stream configuration rejected")

	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("capture: invalid session transition")

	// ErrSessionFailed is returned by Open while the session sits in Failed.
	ErrSessionFailed = errors.New("capture: session failed, close it first")
)

// TransitionError describes a rejected operation.
type TransitionError struct {
	Op    string
	State SessionState
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("capture: %s not allowed in state %s", e.Op, e.State)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// DeviceError wraps a driver error with the device it concerns.
type DeviceError struct {
	Device DeviceIdentity
	Kind   error
	Err    error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (device %s)", e.Kind, e.Device)
	}
	return fmt.Sprintf("%v (device %s): %v", e.Kind, e.Device, e.Err)
}

// Unwrap returns both the classification and the driver cause.
func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
