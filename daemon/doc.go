// Package daemon implements the single-session control channel of the host
// process: a line-oriented Unix-domain socket served as a reactor
// participant.
//
// An advisory lock file derived from the network interface name enforces one
// daemon instance per interface across the machine. The listening socket
// keeps a backlog of one and the newest connection always wins; command
// lines are dispatched to an external handler and replies are written back
// through a bounded formatting facility with explicit truncation.
package daemon
