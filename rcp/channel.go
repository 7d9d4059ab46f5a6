package rcp

// Channel is the opaque asynchronous IPC mechanism through which the radio
// co-processor is reached. The transport treats it as a byte-frame pipe with
// push delivery; it never parses the frames it moves.
//
// Frame delivery and death notification are invoked by the channel on its own
// goroutine, concurrently with the reactor thread. Implementations must stop
// invoking both callbacks once Disconnect returns.
type Channel interface {
	// Connect establishes the connection to the RCP endpoint.
	Connect() error

	// Disconnect tears the connection down and stops all callback delivery.
	Disconnect() error

	// Send forwards one opaque frame to the RCP.
	//
	// It returns ErrNoBufs if the channel cannot accept a frame of this size,
	// or any other error for an IPC-level rejection.
	Send(frame []byte) error

	// SetReceiveCallback registers the function invoked for every frame
	// received from the RCP. A nil callback deregisters delivery.
	//
	// The frame slice is only valid for the duration of the call.
	SetReceiveCallback(cb func(frame []byte))

	// SetDeathCallback registers the function invoked when the RCP endpoint
	// terminates unexpectedly. A nil callback deregisters the notification.
	SetDeathCallback(cb func())

	// RequestHardwareReset issues a hard reset request to the RCP.
	//
	// It returns ErrNotImplemented if the channel offers no reset capability.
	RequestHardwareReset() error

	// BusSpeed returns the bus speed between the host and the RCP in
	// bits/second.
	BusSpeed() uint32
}
