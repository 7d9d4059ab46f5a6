package daemon

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openrcp/go-rcphost/logger"
	"github.com/openrcp/go-rcphost/reactor"
)

const (
	// DefaultRunDir is the directory the socket and lock files are created in.
	DefaultRunDir = "/var/run"

	// DefaultMaxLineLength is the bounded size of one command line read from
	// the control session.
	DefaultMaxLineLength = 640

	// DefaultMaxOutputLength is the bound of one formatted reply. Output that
	// would exceed it is truncated with an explicit marker.
	DefaultMaxOutputLength = 1024

	// AllowAllEnv names the environment variable that relaxes the default
	// file-permission restrictions on the created socket. When set to "1" the
	// socket is bound with a zero umask so any local user may connect.
	AllowAllEnv = "RCPHOST_DAEMON_ALLOW_ALL"

	// maxSocketPathLen is the sockaddr_un path limit, including the
	// terminating NUL the kernel structure reserves.
	maxSocketPathLen = 108
)

// InputHandler is invoked on the reactor thread with one received command
// line. The trailing newline has been stripped.
type InputHandler func(line string)

// Config represents the configuration parameters for a control socket daemon.
type Config struct {
	// ifName is the network interface name the socket and lock paths are
	// derived from.
	ifName string

	// runDir is the directory the socket and lock files live in.
	// Defaults to DefaultRunDir.
	runDir string

	// maxLineLength bounds the size of one command line.
	// Defaults to DefaultMaxLineLength.
	maxLineLength int

	// maxOutputLength bounds the size of one formatted reply.
	// Defaults to DefaultMaxOutputLength.
	maxOutputLength int

	// lineBuffering selects whether session input is buffered until a
	// newline before dispatch. When disabled each read chunk is dispatched
	// as-is, even if it does not yet form a full line.
	// Defaults to false.
	lineBuffering bool

	// handler receives dispatched command lines.
	handler InputHandler

	// endpoint provides the listening descriptor.
	// Defaults to a path-binding provider.
	endpoint EndpointProvider

	// reactor, when set, has the daemon register itself on SetUp and
	// deregister on TearDown.
	reactor *reactor.Reactor

	// logger provides a logger instance for daemon events and errors.
	logger logger.Logger
}

// NewConfig creates a control socket daemon configuration for the given
// network interface name and applies the provided options.
//
// Returns a pointer to the initialized Config and an error if any option
// fails validation or the derived socket path does not fit the platform
// socket-address limit.
func NewConfig(ifName string, opts ...Option) (*Config, error) {
	cfg := &Config{
		runDir:          DefaultRunDir,
		maxLineLength:   DefaultMaxLineLength,
		maxOutputLength: DefaultMaxOutputLength,
		logger:          logger.GetLogger(),
	}

	if err := withInterfaceName(ifName).apply(cfg); err != nil {
		return cfg, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.endpoint == nil {
		cfg.endpoint = NewPathEndpoint()
	}

	if len(cfg.SocketPath())+1 > maxSocketPathLen {
		return cfg, fmt.Errorf("%w: %s", ErrPathTooLong, cfg.SocketPath())
	}

	return cfg, nil
}

// InterfaceName returns the configured network interface name.
func (cfg *Config) InterfaceName() string { return cfg.ifName }

// SocketPath returns the control socket path derived from the interface name.
func (cfg *Config) SocketPath() string {
	return filepath.Join(cfg.runDir, "rcphost-"+cfg.ifName+".sock")
}

// LockPath returns the advisory lock file path derived from the interface
// name.
func (cfg *Config) LockPath() string {
	return cfg.SocketPath() + ".lock"
}

// MaxLineLength returns the bounded size of one command line.
func (cfg *Config) MaxLineLength() int { return cfg.maxLineLength }

// MaxOutputLength returns the bound of one formatted reply.
func (cfg *Config) MaxOutputLength() int { return cfg.maxOutputLength }

// LineBuffering returns whether session input is buffered until a newline.
func (cfg *Config) LineBuffering() bool { return cfg.lineBuffering }

// Option represents a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

func withInterfaceName(ifName string) Option {
	return newOptFunc("withInterfaceName", func(cfg *Config) error {
		if ifName == "" || strings.ContainsRune(ifName, filepath.Separator) {
			return fmt.Errorf("%w: %q", ErrInvalidInterfaceName, ifName)
		}

		cfg.ifName = ifName

		return nil
	})
}

// WithRunDir sets the directory the socket and lock files are created in.
func WithRunDir(dir string) Option {
	return newOptFunc("WithRunDir", func(cfg *Config) error {
		if dir == "" {
			return errors.New("run directory is empty")
		}

		cfg.runDir = dir

		return nil
	})
}

// WithMaxLineLength bounds the size of one command line read from the
// session. It should be between 16 and 4096 bytes.
func WithMaxLineLength(n int) Option {
	return newOptFunc("WithMaxLineLength", func(cfg *Config) error {
		if n < 16 || n > 4096 {
			return errors.New("max line length is out of range [16, 4096]")
		}

		cfg.maxLineLength = n

		return nil
	})
}

// WithMaxOutputLength bounds the size of one formatted reply. It should be
// between 32 and 65536 bytes and larger than the truncation marker.
func WithMaxOutputLength(n int) Option {
	return newOptFunc("WithMaxOutputLength", func(cfg *Config) error {
		if n < 32 || n > 65536 {
			return errors.New("max output length is out of range [32, 65536]")
		}

		cfg.maxOutputLength = n

		return nil
	})
}

// WithLineBuffering buffers session input until a newline before dispatch.
//
// The historical behavior dispatches a command as soon as any bytes arrive,
// even when they do not yet form a full line; that remains the default.
func WithLineBuffering(enabled bool) Option {
	return newOptFunc("WithLineBuffering", func(cfg *Config) error {
		cfg.lineBuffering = enabled
		return nil
	})
}

// WithInputHandler sets the handler that receives dispatched command lines.
func WithInputHandler(handler InputHandler) Option {
	return newOptFunc("WithInputHandler", func(cfg *Config) error {
		cfg.handler = handler
		return nil
	})
}

// WithEndpointProvider sets the strategy that creates the listening
// descriptor. The default binds the derived socket path; a pre-bound
// descriptor provider supports socket activation.
func WithEndpointProvider(provider EndpointProvider) Option {
	return newOptFunc("WithEndpointProvider", func(cfg *Config) error {
		if provider == nil {
			return errors.New("endpoint provider is nil")
		}

		cfg.endpoint = provider

		return nil
	})
}

// WithReactor has the daemon register itself with r during SetUp and
// deregister during TearDown. Registration must happen while the reactor
// loop is not running.
func WithReactor(r *reactor.Reactor) Option {
	return newOptFunc("WithReactor", func(cfg *Config) error {
		if r == nil {
			return errors.New("reactor is nil")
		}

		cfg.reactor = r

		return nil
	})
}

// WithLogger sets the logger for the daemon.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if l == nil {
			return errors.New("logger is nil")
		}

		cfg.logger = l

		return nil
	})
}
