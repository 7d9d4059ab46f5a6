// Package pool recycles timers for the bounded waits in this module, such
// as the transport's frame-wait timeout, so wait-heavy paths do not
// allocate a fresh timer per call.
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer armed with duration d, reusing a pooled timer
// when one is available.
//
// Return the timer to the pool with PutTimer once the wait is over.
func GetTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer) // only *time.Timer values enter the pool
		if t.Reset(d) {
			// the pooled timer was still armed, discard a buffered tick
			select {
			case <-t.C:
			default:
			}
		}

		return t
	}

	return time.NewTimer(d)
}

// PutTimer stops t and returns it to the pool.
//
// t must not be touched after it is returned.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		// drain the tick the caller never consumed
		select {
		case <-t.C:
		default:
		}
	}

	timerPool.Put(t)
}
