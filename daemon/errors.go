package daemon

import "errors"

// ErrAlreadyRunning indicates the advisory lock for the configured interface
// name is already held by another process.
var ErrAlreadyRunning = errors.New("another instance is already running for this interface")

// ErrPathTooLong indicates the derived socket path does not fit the platform
// socket-address path limit.
var ErrPathTooLong = errors.New("socket path exceeds platform limit")

// ErrInvalidInterfaceName indicates the network interface name is empty or
// contains a path separator.
var ErrInvalidInterfaceName = errors.New("invalid network interface name")

// ErrListenFailed indicates the listening endpoint could not be created.
var ErrListenFailed = errors.New("failed to create listening endpoint")

// ErrEndpointFailure indicates an uncorrectable error condition on the
// listening endpoint. It is escalated as process-fatal by the reactor.
var ErrEndpointFailure = errors.New("listening endpoint in error state")
