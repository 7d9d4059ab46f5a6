// Package cli provides the command interpreter behind the control channel:
// a concurrent command table, result codes, and a line dispatcher with
// built-in help, version and manufacturing-command forwarding.
//
// The interpreter does not own a session; it writes replies through the
// OutputFunc it was constructed with, which the control socket daemon
// supplies.
package cli
