package cli

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/openrcp/go-rcphost/logger"
	"github.com/openrcp/go-rcphost/rcp"
)

// DefaultMfgTimeout bounds the wait for a manufacturing command response
// from the co-processor.
const DefaultMfgTimeout = 2 * time.Second

// OutputFunc writes formatted reply text to the active control session.
// daemon.(*Daemon).OutputFormat satisfies this signature.
type OutputFunc func(format string, args ...any) int

// Context is the per-invocation view a handler receives.
type Context struct {
	// Output writes reply text to the session the command arrived on.
	Output OutputFunc
	// Transport is the RCP transport, if one is attached.
	Transport *rcp.Transport
	// RxBuffer is the transport's receive buffer, if one is attached.
	RxBuffer *rcp.FrameBuffer
	// Logger is the interpreter's logger.
	Logger logger.Logger
}

// Interpreter dispatches raw command lines from the control channel to the
// command table and reports each command's outcome on the session.
type Interpreter struct {
	table      *Table
	output     OutputFunc
	logger     logger.Logger
	version    string
	transport  *rcp.Transport
	rxBuf      *rcp.FrameBuffer
	mfgTimeout time.Duration
}

// InterpreterOption configures an Interpreter.
type InterpreterOption func(*Interpreter)

// WithVersion sets the string the built-in version command reports.
func WithVersion(version string) InterpreterOption {
	return func(i *Interpreter) { i.version = version }
}

// WithTransport attaches the RCP transport and its receive buffer, enabling
// commands that talk to the co-processor.
func WithTransport(tr *rcp.Transport, rxBuf *rcp.FrameBuffer) InterpreterOption {
	return func(i *Interpreter) {
		i.transport = tr
		i.rxBuf = rxBuf
	}
}

// WithMfgTimeout bounds the wait for a manufacturing command response.
func WithMfgTimeout(timeout time.Duration) InterpreterOption {
	return func(i *Interpreter) {
		if timeout > 0 {
			i.mfgTimeout = timeout
		}
	}
}

// WithLogger sets the logger for the interpreter.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) InterpreterOption {
	return func(i *Interpreter) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewInterpreter creates an interpreter over the given command table,
// writing all reply text through output. The built-in help, version and
// mfgcmd commands are registered on the table.
func NewInterpreter(table *Table, output OutputFunc, opts ...InterpreterOption) *Interpreter {
	interp := &Interpreter{
		table:      table,
		output:     output,
		logger:     logger.GetLogger(),
		version:    "unknown",
		mfgTimeout: DefaultMfgTimeout,
	}

	for _, opt := range opts {
		opt(interp)
	}

	table.Register("help", interp.helpCmd)
	table.Register("version", interp.versionCmd)
	table.Register("mfgcmd", interp.mfgCmd)

	return interp
}

// InputLine parses one raw command line, dispatches it to the registered
// handler and reports the outcome on the session ("Done" on success, an
// error line otherwise). Unknown commands are reported to the caller, never
// treated as fatal. Blank lines are ignored.
func (i *Interpreter) InputLine(line string) Result {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ResultOK
	}

	name := fields[0]
	handler, ok := i.table.Lookup(name)
	if !ok {
		i.logger.Debug("unknown command", "command", name)
		i.output("Error %d: unknown command: %s\r\n", int(ResultNotFound), name)

		return ResultNotFound
	}

	ctx := &Context{
		Output:    i.output,
		Transport: i.transport,
		RxBuffer:  i.rxBuf,
		Logger:    i.logger,
	}

	result := handler(ctx, fields[1:])
	if result == ResultOK {
		i.output("Done\r\n")
	} else {
		i.output("Error %d: %s\r\n", int(result), result)
	}

	return result
}

func (i *Interpreter) helpCmd(ctx *Context, _ []string) Result {
	for _, name := range i.table.Names() {
		ctx.Output("%s\r\n", name)
	}

	return ResultOK
}

func (i *Interpreter) versionCmd(ctx *Context, _ []string) Result {
	ctx.Output("%s\r\n", i.version)

	return ResultOK
}

// mfgCmd forwards an opaque manufacturing/diagnostic payload to the
// co-processor and prints any response frames as hex.
func (i *Interpreter) mfgCmd(ctx *Context, args []string) Result {
	if ctx.Transport == nil {
		return ResultNotImplemented
	}

	if len(args) == 0 {
		return ResultInvalidArgs
	}

	payload := []byte(strings.Join(args, " "))
	if err := ctx.Transport.SendFrame(payload); err != nil {
		i.logger.Warn("failed to forward mfg command", "error", err)
		return errToResult(err)
	}

	if err := ctx.Transport.WaitForFrame(i.mfgTimeout); err != nil {
		return errToResult(err)
	}

	if ctx.RxBuffer != nil {
		for {
			frame, ok := ctx.RxBuffer.PopFrame()
			if !ok {
				break
			}

			ctx.Output("%s\r\n", hex.EncodeToString(frame))
		}
	}

	return ResultOK
}

func errToResult(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, rcp.ErrInvalidArgs):
		return ResultInvalidArgs
	case errors.Is(err, rcp.ErrResponseTimeout):
		return ResultResponseTimeout
	case errors.Is(err, rcp.ErrNotImplemented):
		return ResultNotImplemented
	default:
		return ResultFailure
	}
}
