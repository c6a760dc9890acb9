package wms

import "errors"

// Sentinel errors for stick operations.
// Wrap with fmt.Errorf("%w: ...") to add context, check with errors.Is.
var (
	// ErrConnectionFailed indicates the TCP connection to wmsd could not
	// be established or the hello handshake failed.
	ErrConnectionFailed = errors.New("wms: connection failed")

	// ErrNotConnected indicates an operation was attempted while the
	// stick connection is down.
	ErrNotConnected = errors.New("wms: not connected")

	// ErrCommandFailed indicates a command frame could not be delivered
	// after the retry.
	ErrCommandFailed = errors.New("wms: command failed")

	// ErrFrameTooLarge indicates an inbound line exceeded the frame
	// limit. The stream may be corrupt, so the connection is dropped.
	ErrFrameTooLarge = errors.New("wms: frame too large")
)
