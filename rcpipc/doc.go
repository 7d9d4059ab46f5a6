// Package rcpipc provides a concrete IPC channel to a radio co-processor
// endpoint reachable over a Unix-domain stream socket.
//
// Frames are length-prefixed and protected by a CRC-16/CCITT-FALSE check
// sequence. A reader goroutine converts the stream into the push-style
// delivery the rcp.Channel contract requires, and an unexpected stream close
// is reported as a death notification.
package rcpipc
