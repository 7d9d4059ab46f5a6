// Package reactor provides a cooperative, single-threaded readiness loop over a
// bounded set of file descriptors.
//
// Participants register with a Reactor and are serviced once per iteration in
// registration order: first every participant declares descriptor interest via
// UpdateFdSet, then the loop blocks in select(2) until a descriptor becomes
// ready or the iteration deadline elapses, then every participant's Process
// method runs on the loop goroutine. No participant may block outside this
// contract.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openrcp/go-rcphost/logger"
)

// Participant is a component serviced by the Reactor.
//
// Both methods are invoked on the loop goroutine, so a participant needs no
// locking for state that is only touched from its own callbacks.
type Participant interface {
	// UpdateFdSet adds the descriptors the participant currently owns to the
	// interest sets. It must not block.
	UpdateFdSet(ctx *Context)

	// Process inspects only the bits relevant to the participant's own
	// descriptors and services them. It must not block.
	//
	// A non-nil error is treated as process-fatal and stops the loop; errors
	// local to a single session or link must be recovered inside Process.
	Process(ctx *Context) error
}

// Reactor multiplexes descriptor readiness for a set of registered
// participants. It holds no ownership of participant state beyond the
// registration list.
type Reactor struct {
	participants []Participant
	pollInterval time.Duration
	logger       logger.Logger
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithPollInterval sets the upper bound of one wait call. The loop wakes at
// least this often even when no descriptor becomes ready.
//
// The default is 1 second.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reactor) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithLogger sets the logger for the Reactor.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) Option {
	return func(r *Reactor) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Reactor with the given options.
func New(opts ...Option) *Reactor {
	r := &Reactor{
		pollInterval: time.Second,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Add registers a participant. Participants are serviced in registration
// order; registering the same participant twice is a no-op.
//
// Add must not be called while Run or Step is executing.
func (r *Reactor) Add(p Participant) {
	for _, registered := range r.participants {
		if registered == p {
			return
		}
	}

	r.participants = append(r.participants, p)
}

// Remove deregisters a participant, keeping the relative order of the rest.
//
// Remove must not be called while Run or Step is executing.
func (r *Reactor) Remove(p Participant) {
	for i, registered := range r.participants {
		if registered == p {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered participants.
func (r *Reactor) Len() int {
	return len(r.participants)
}

// Step executes exactly one loop iteration: collect interest sets, wait for
// readiness or the iteration deadline, then service every participant.
//
// It returns the first process-fatal error reported by a participant.
func (r *Reactor) Step(ctx context.Context) error {
	ioCtx := &Context{MaxFd: -1}
	ioCtx.deadline = time.Now().Add(r.pollInterval)

	for _, p := range r.participants {
		p.UpdateFdSet(ioCtx)
	}

	if err := r.wait(ioCtx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	for _, p := range r.participants {
		if err := p.Process(ioCtx); err != nil {
			return fmt.Errorf("reactor participant failed: %w", err)
		}
	}

	return nil
}

// Run drives Step until ctx is done or a participant reports a fatal error.
// On a clean context cancellation Run returns nil.
func (r *Reactor) Run(ctx context.Context) error {
	r.logger.Debug("reactor loop started", "participants", len(r.participants))
	defer r.logger.Debug("reactor loop terminated")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := r.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}

			r.logger.Error("reactor loop stopped by fatal error", "error", err)

			return err
		}
	}
}

// wait blocks in select(2) until a descriptor in the interest sets becomes
// ready or the iteration deadline elapses. The sets are updated in place;
// EINTR is retried with the remaining timeout.
func (r *Reactor) wait(ioCtx *Context) error {
	for {
		timeout := time.Until(ioCtx.deadline)
		if timeout < 0 {
			timeout = 0
		}

		tv := unix.NsecToTimeval(timeout.Nanoseconds())

		_, err := unix.Select(ioCtx.MaxFd+1, &ioCtx.ReadFdSet, nil, &ioCtx.ErrorFdSet, &tv)
		if err == nil {
			return nil
		}

		if errors.Is(err, unix.EINTR) {
			// select(2) leaves the sets undefined after a failure, rebuild them
			ioCtx.ReadFdSet.Zero()
			ioCtx.ErrorFdSet.Zero()
			ioCtx.MaxFd = -1
			for _, p := range r.participants {
				p.UpdateFdSet(ioCtx)
			}

			continue
		}

		return fmt.Errorf("reactor wait failed: %w", err)
	}
}
