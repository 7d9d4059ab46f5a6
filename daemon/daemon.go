package daemon

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/openrcp/go-rcphost/logger"
	"github.com/openrcp/go-rcphost/reactor"
)

// TruncationMarker is appended to a reply that exceeded the output bound.
const TruncationMarker = "(truncated ...)"

// ShutdownCause selects the teardown behavior of the daemon.
type ShutdownCause int

const (
	// ShutdownNormal removes the socket and lock file paths.
	ShutdownNormal ShutdownCause = iota
	// ShutdownSoftReset leaves the socket and lock file paths in place for a
	// successor process to reuse without a race.
	ShutdownSoftReset
)

// String returns string representation of the shutdown cause.
func (c ShutdownCause) String() string {
	switch c {
	case ShutdownNormal:
		return "normal"
	case ShutdownSoftReset:
		return "soft-reset"
	default:
		return "unknown"
	}
}

// Daemon serves a line-oriented control channel on a Unix-domain socket.
//
// At most one session is alive at a time. A new connection evicts the
// current session (last-connector-wins); the OS backlog is limited to one
// pending connection. Command lines are dispatched to the configured
// InputHandler and replies travel back through OutputFormat.
//
// SetUp, TearDown, UpdateFdSet and Process must be called on the reactor
// thread. OutputFormat may be called from any goroutine; the session state
// it shares with the reactor thread is mutex-guarded.
type Daemon struct {
	cfg    *Config
	logger logger.Logger

	lockFd   int
	listenFd int

	// mu guards sessionFd and lineBuf, the state OutputFormat may touch off
	// the reactor thread.
	mu        sync.Mutex
	sessionFd int
	lineBuf   []byte

	readBuf []byte
}

// ensure Daemon implements the reactor.Participant interface.
var _ reactor.Participant = (*Daemon)(nil)

// NewDaemon creates a control socket daemon from the given configuration.
// No OS resource is touched until SetUp is called.
func NewDaemon(cfg *Config) *Daemon {
	return &Daemon{
		cfg:       cfg,
		logger:    cfg.logger,
		lockFd:    -1,
		listenFd:  -1,
		sessionFd: -1,
		readBuf:   make([]byte, cfg.maxLineLength),
	}
}

// SetUp acquires the advisory lock, creates the listening endpoint and
// registers the daemon with the configured reactor.
//
// It is idempotent: if the endpoint is already open it returns immediately,
// which supports pseudo-reset without re-acquiring OS resources. It returns
// ErrAlreadyRunning if another instance holds the lock for this interface
// name; such a failure is fatal to process startup.
func (d *Daemon) SetUp() error {
	if d.listenFd >= 0 {
		return nil
	}

	if err := d.acquireLock(); err != nil {
		return err
	}

	fd, err := d.cfg.endpoint.Listen(d.cfg)
	if err != nil {
		d.releaseLock(false)
		return err
	}

	d.listenFd = fd

	if d.cfg.reactor != nil {
		d.cfg.reactor.Add(d)
	}

	d.logger.Info("control socket daemon started",
		"socket", d.cfg.SocketPath(),
		"interface", d.cfg.ifName,
	)

	return nil
}

// TearDown deregisters the daemon from the reactor, closes any active
// session and closes the listening endpoint.
//
// With ShutdownNormal the socket and lock file paths are removed. With
// ShutdownSoftReset they are deliberately left in place for a successor
// process. TearDown is idempotent.
func (d *Daemon) TearDown(cause ShutdownCause) {
	if d.cfg.reactor != nil {
		d.cfg.reactor.Remove(d)
	}

	d.closeSession()

	if d.listenFd >= 0 {
		if err := d.cfg.endpoint.Close(d.cfg, d.listenFd, cause == ShutdownSoftReset); err != nil {
			d.logger.Warn("failed to close control endpoint", "error", err)
		}

		d.listenFd = -1
	}

	d.releaseLock(cause == ShutdownSoftReset)

	d.logger.Info("control socket daemon stopped", "cause", cause)
}

// UpdateFdSet adds the listening endpoint and the active session, if any, to
// the interest sets.
func (d *Daemon) UpdateFdSet(ctx *reactor.Context) {
	if d.listenFd >= 0 {
		ctx.AddFd(d.listenFd)
	}

	d.mu.Lock()
	sessionFd := d.sessionFd
	d.mu.Unlock()

	if sessionFd >= 0 {
		ctx.AddFd(sessionFd)
	}
}

// Process accepts pending connections and services the active session.
//
// An error condition on the listening endpoint is returned and escalated as
// process-fatal; session-level failures close just that session and the
// daemon keeps serving.
func (d *Daemon) Process(ctx *reactor.Context) error {
	if d.listenFd >= 0 && ctx.HasError(d.listenFd) {
		return fmt.Errorf("%w: %s", ErrEndpointFailure, d.cfg.SocketPath())
	}

	if d.listenFd >= 0 && ctx.CanRead(d.listenFd) {
		d.acceptSession()
	}

	d.mu.Lock()
	sessionFd := d.sessionFd
	d.mu.Unlock()

	if sessionFd >= 0 && (ctx.CanRead(sessionFd) || ctx.HasError(sessionFd)) {
		d.serviceSession(sessionFd)
	}

	return nil
}

// OutputFormat formats a reply into a bounded buffer and writes it to the
// active session. A reply that would exceed the output bound is truncated
// and terminated with TruncationMarker; the bound is never exceeded.
//
// Without an active session the formatted output is discarded silently. A
// write failure closes the session without informing the caller beyond the
// session disappearing. It returns the number of bytes written.
func (d *Daemon) OutputFormat(format string, args ...any) int {
	out := fmt.Sprintf(format, args...)
	if len(out) > d.cfg.maxOutputLength {
		out = out[:d.cfg.maxOutputLength-len(TruncationMarker)] + TruncationMarker
	}

	d.mu.Lock()
	if d.sessionFd < 0 {
		d.mu.Unlock()
		return 0
	}

	// MSG_NOSIGNAL suppresses SIGPIPE when the client vanished mid-write.
	// send(2) reports only success or failure here, so a short write on the
	// non-blocking socket is indistinguishable from a full one; with replies
	// bounded well below the socket buffer this stays fire-and-forget.
	if err := unix.Send(d.sessionFd, []byte(out), unix.MSG_NOSIGNAL); err != nil {
		d.logger.Debug("session write failed, closing session", "error", err)
		d.closeSessionLocked()
		d.mu.Unlock()

		return 0
	}
	d.mu.Unlock()

	return len(out)
}

// SessionActive reports whether a control session is currently alive.
func (d *Daemon) SessionActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.sessionFd >= 0
}

func (d *Daemon) acquireLock() error {
	fd, err := unix.Open(d.cfg.LockPath(), unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return fmt.Errorf("%w: open %s: %s", ErrListenFailed, d.cfg.LockPath(), err)
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)

		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, d.cfg.LockPath())
		}

		return fmt.Errorf("%w: flock %s: %s", ErrListenFailed, d.cfg.LockPath(), err)
	}

	d.lockFd = fd

	return nil
}

func (d *Daemon) releaseLock(keepArtifacts bool) {
	if d.lockFd < 0 {
		return
	}

	if !keepArtifacts {
		if err := unix.Unlink(d.cfg.LockPath()); err != nil && err != unix.ENOENT { //nolint:errorlint
			d.logger.Warn("failed to remove lock file", "path", d.cfg.LockPath(), "error", err)
		}
	}

	unix.Close(d.lockFd)
	d.lockFd = -1
}

func (d *Daemon) acceptSession() {
	fd, _, err := unix.Accept4(d.listenFd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
	if err != nil {
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			d.logger.Warn("failed to accept control session", "error", err)
		}

		return
	}

	// last-connector-wins
	d.mu.Lock()
	if d.sessionFd >= 0 {
		d.logger.Info("evicting existing control session")
		d.closeSessionLocked()
	}

	d.sessionFd = fd
	d.mu.Unlock()

	d.logger.Info("control session accepted")
}

func (d *Daemon) serviceSession(fd int) {
	n, err := unix.Read(fd, d.readBuf)

	switch {
	case err != nil:
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return
		}

		d.logger.Debug("session read failed, closing session", "error", err)
		d.closeSession()

	case n == 0:
		d.logger.Info("control session closed by peer")
		d.closeSession()

	default:
		d.handleInput(d.readBuf[:n])
	}
}

func (d *Daemon) handleInput(data []byte) {
	if !d.cfg.lineBuffering {
		// historical behavior: dispatch whatever one read returned, even a
		// partial line
		d.dispatch(strings.TrimRight(string(data), "\r\n"))
		return
	}

	// collect complete lines under the lock, dispatch outside it so a
	// handler may call OutputFormat
	d.mu.Lock()
	d.lineBuf = append(d.lineBuf, data...)

	var lines []string
	for {
		idx := -1
		for i, b := range d.lineBuf {
			if b == '\n' {
				idx = i
				break
			}
		}

		if idx < 0 {
			break
		}

		lines = append(lines, strings.TrimRight(string(d.lineBuf[:idx]), "\r"))
		d.lineBuf = d.lineBuf[idx+1:]
	}

	overflow := len(d.lineBuf)
	if overflow > d.cfg.maxLineLength {
		d.lineBuf = d.lineBuf[:0]
	}
	d.mu.Unlock()

	if overflow > d.cfg.maxLineLength {
		d.logger.Warn("command line exceeds maximum length, discarding", "len", overflow)
	}

	for _, line := range lines {
		d.dispatch(line)
	}
}

func (d *Daemon) dispatch(line string) {
	if d.cfg.handler == nil {
		return
	}

	d.cfg.handler(line)
}

func (d *Daemon) closeSession() {
	d.mu.Lock()
	d.closeSessionLocked()
	d.mu.Unlock()
}

func (d *Daemon) closeSessionLocked() {
	if d.sessionFd < 0 {
		return
	}

	unix.Close(d.sessionFd)
	d.sessionFd = -1
	d.lineBuf = d.lineBuf[:0]
}
