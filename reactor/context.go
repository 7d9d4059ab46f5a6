package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// Context carries the descriptor interest sets for one loop iteration.
//
// Participants add the descriptors they own during UpdateFdSet and inspect
// the surviving bits during Process. A fresh Context is built for every
// iteration, so participants must not retain it.
type Context struct {
	// ReadFdSet is the set of descriptors waited on for readability.
	ReadFdSet unix.FdSet
	// ErrorFdSet is the set of descriptors waited on for error conditions.
	ErrorFdSet unix.FdSet
	// MaxFd is the highest descriptor added to any set, or -1 if none.
	MaxFd int

	deadline time.Time
}

// AddFd adds fd to both the read and error interest sets and widens the
// maximum descriptor bound.
func (c *Context) AddFd(fd int) {
	if fd < 0 {
		return
	}

	c.ReadFdSet.Set(fd)
	c.ErrorFdSet.Set(fd)

	if c.MaxFd < fd {
		c.MaxFd = fd
	}
}

// CanRead reports whether fd survived the wait call in the read set.
func (c *Context) CanRead(fd int) bool {
	return fd >= 0 && c.ReadFdSet.IsSet(fd)
}

// HasError reports whether fd survived the wait call in the error set.
func (c *Context) HasError(fd int) bool {
	return fd >= 0 && c.ErrorFdSet.IsSet(fd)
}

// SetDeadline shortens the wait deadline of the current iteration.
// A deadline later than the current one is ignored.
func (c *Context) SetDeadline(t time.Time) {
	if t.Before(c.deadline) {
		c.deadline = t
	}
}

// Deadline returns the wait deadline of the current iteration.
func (c *Context) Deadline() time.Time {
	return c.deadline
}
