package daemon

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// EndpointProvider is the strategy that creates the listening control
// endpoint. It decouples how the descriptor comes to exist (bound to a
// filesystem path, or handed over pre-bound by a supervisor) from the daemon
// logic that serves it.
type EndpointProvider interface {
	// Listen returns a non-blocking listening descriptor for the control
	// endpoint described by cfg.
	Listen(cfg *Config) (int, error)

	// Close closes the listening descriptor. Filesystem artifacts are
	// removed unless keepArtifacts is set, which a soft reset uses to leave
	// the path in place for a successor process.
	Close(cfg *Config, fd int, keepArtifacts bool) error
}

type pathEndpoint struct{}

// NewPathEndpoint returns the default EndpointProvider which binds a
// stream socket to the socket path derived from the interface name.
//
// When the AllowAllEnv environment variable is set to "1" the socket is
// bound with a zero umask so any local user may connect; otherwise the
// process umask applies.
func NewPathEndpoint() EndpointProvider {
	return &pathEndpoint{}
}

func (p *pathEndpoint) Listen(cfg *Config) (int, error) {
	path := cfg.SocketPath()

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("%w: socket: %s", ErrListenFailed, err)
	}

	// a stale socket file from a crashed predecessor blocks bind
	if err := unix.Unlink(path); err != nil && err != unix.ENOENT { //nolint:errorlint
		unix.Close(fd)
		return -1, fmt.Errorf("%w: unlink %s: %s", ErrListenFailed, path, err)
	}

	if os.Getenv(AllowAllEnv) == "1" {
		restore := unix.Umask(0)
		defer unix.Umask(restore)
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("%w: bind %s: %s", ErrListenFailed, path, err)
	}

	// backlog of exactly 1: one pending connection at most, the session
	// replacement policy handles the rest
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		unix.Unlink(path)

		return -1, fmt.Errorf("%w: listen %s: %s", ErrListenFailed, path, err)
	}

	return fd, nil
}

func (p *pathEndpoint) Close(cfg *Config, fd int, keepArtifacts bool) error {
	if fd >= 0 {
		unix.Close(fd)
	}

	if keepArtifacts {
		return nil
	}

	if err := unix.Unlink(cfg.SocketPath()); err != nil && err != unix.ENOENT { //nolint:errorlint
		return fmt.Errorf("unlink %s: %w", cfg.SocketPath(), err)
	}

	return nil
}

type fdEndpoint struct {
	fd int
}

// NewFdEndpoint returns an EndpointProvider wrapping a descriptor that is
// already bound and listening, typically inherited from a supervisor through
// socket activation. The daemon never unlinks its path.
func NewFdEndpoint(fd int) EndpointProvider {
	return &fdEndpoint{fd: fd}
}

func (p *fdEndpoint) Listen(_ *Config) (int, error) {
	if p.fd < 0 {
		return -1, fmt.Errorf("%w: invalid pre-bound descriptor %d", ErrListenFailed, p.fd)
	}

	if err := unix.SetNonblock(p.fd, true); err != nil {
		return -1, fmt.Errorf("%w: set nonblock: %s", ErrListenFailed, err)
	}

	unix.CloseOnExec(p.fd)

	return p.fd, nil
}

func (p *fdEndpoint) Close(_ *Config, fd int, _ bool) error {
	if fd >= 0 {
		unix.Close(fd)
	}

	return nil
}
