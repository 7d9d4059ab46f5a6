// Package rcp implements the host-side transport to a radio co-processor
// reached over an asynchronous IPC channel.
//
// The central type is Transport, which bridges the channel's push-style frame
// delivery into the reactor's file-descriptor readiness model through a
// self-notifying pipe. Frames received on the IPC runtime's goroutines are
// queued and signaled; the reactor observes the pipe's read end and drains
// the queue on its own thread, appending each frame to a FrameBuffer and
// invoking the registered FrameCallback.
//
// Transport also provides a bounded synchronous wait (WaitForFrame) for
// startup handshakes, a serialized send path, lifetime management with
// automatic hardware reset on endpoint death, and monotonic interface
// metrics.
package rcp
