package device

import "errors"

// Domain-specific errors for the device registry.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when a device doesn't exist in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidKind is returned when an unknown device kind is supplied.
	ErrInvalidKind = errors.New("device: invalid kind")
)
