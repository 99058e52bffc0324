package caseta

import "errors"

// Domain errors for the Caseta bridge package.
var (
	// ErrNotConnected is returned when a command or query is issued before
	// the session has completed its login handshake.
	ErrNotConnected = errors.New("caseta: not connected to hub")

	// ErrConnectionFailed is returned when the TCP connection or the login
	// handshake with the hub fails.
	ErrConnectionFailed = errors.New("caseta: connection to hub failed")

	// ErrConnectionLost is returned when the transport fails while reading
	// status frames from an established session.
	ErrConnectionLost = errors.New("caseta: connection to hub lost")

	// ErrDecodeFailed is returned when a delimited status frame has fields
	// that cannot be parsed. The offending bytes have already been consumed.
	ErrDecodeFailed = errors.New("caseta: frame decoding failed")

	// ErrDispatchFailed is returned when one or more subscribers fail to
	// handle a frame.
	ErrDispatchFailed = errors.New("caseta: frame dispatch failed")

	// ErrBridgeStopped is returned when an operation is attempted on a
	// bridge that has been stopped.
	ErrBridgeStopped = errors.New("caseta: bridge stopped")

	// ErrUnknownDevice is returned when a command targets a device that is
	// not configured.
	ErrUnknownDevice = errors.New("caseta: unknown device")
)
