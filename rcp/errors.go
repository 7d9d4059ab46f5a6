package rcp

import "errors"

var (
	// ErrAlready indicates that the transport is already initialized.
	ErrAlready = errors.New("transport already initialized")

	// ErrInvalidArgs indicates that the configured RCP endpoint cannot be
	// resolved or opened, or that a required argument is missing.
	ErrInvalidArgs = errors.New("invalid arguments")

	// ErrBusy indicates that another send is outstanding and the underlying
	// channel permits only one frame in flight.
	ErrBusy = errors.New("another send is outstanding")

	// ErrNoBufs indicates that the channel cannot accept a frame of this size.
	ErrNoBufs = errors.New("insufficient buffer space")

	// ErrFailed indicates an IPC-level rejection from the underlying channel.
	ErrFailed = errors.New("ipc channel failure")

	// ErrResponseTimeout indicates that no frame was received within the
	// wait interval.
	ErrResponseTimeout = errors.New("response timeout")

	// ErrNotImplemented indicates that the underlying channel offers no
	// hardware reset capability.
	ErrNotImplemented = errors.New("not implemented")

	// ErrLinkDown indicates that the RCP link is disconnected.
	ErrLinkDown = errors.New("rcp link disconnected")
)
