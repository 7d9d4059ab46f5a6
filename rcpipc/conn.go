package rcpipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/openrcp/go-rcphost/logger"
	"github.com/openrcp/go-rcphost/rcp"
)

const (
	// DefaultBusSpeed is the assumed host-to-RCP link speed in bits/second
	// when the endpoint does not advertise one.
	DefaultBusSpeed = 1000000

	// DefaultDialTimeout bounds the connect attempt to the IPC endpoint.
	DefaultDialTimeout = 5 * time.Second
)

// Conn is an rcp.Channel over a Unix-domain stream socket carrying
// length-prefixed, FCS-checked frames. A dedicated reader goroutine turns the
// stream back into push-style frame delivery; an unexpected close of the
// stream becomes a death notification.
type Conn struct {
	path        string
	logger      logger.Logger
	busSpeed    uint32
	dialTimeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	onFrame func([]byte)
	onDeath func()
	closed  bool

	sendMu sync.Mutex
	wg     sync.WaitGroup
}

// ensure Conn implements the rcp.Channel interface.
var _ rcp.Channel = (*Conn)(nil)

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithLogger sets the logger for the connection.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) ConnOption {
	return func(c *Conn) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBusSpeed sets the reported link speed in bits/second.
func WithBusSpeed(speed uint32) ConnOption {
	return func(c *Conn) {
		if speed > 0 {
			c.busSpeed = speed
		}
	}
}

// WithDialTimeout bounds the connect attempt to the IPC endpoint.
func WithDialTimeout(timeout time.Duration) ConnOption {
	return func(c *Conn) {
		if timeout > 0 {
			c.dialTimeout = timeout
		}
	}
}

// NewConn creates a channel that reaches the RCP endpoint at the given
// socket path. No connection is made until Connect is called.
func NewConn(path string, opts ...ConnOption) *Conn {
	c := &Conn{
		path:        path,
		logger:      logger.GetLogger(),
		busSpeed:    DefaultBusSpeed,
		dialTimeout: DefaultDialTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect dials the IPC endpoint and starts the reader goroutine.
func (c *Conn) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return rcp.ErrAlready
	}

	conn, err := net.DialTimeout("unix", c.path, c.dialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.path, err)
	}

	c.conn = conn
	c.closed = false

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// Disconnect closes the stream and waits for the reader goroutine to stop.
// No callback fires after Disconnect returns.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	err := conn.Close()
	c.wg.Wait()

	return err
}

// Send forwards one opaque frame to the RCP.
func (c *Conn) Send(frame []byte) error {
	if len(frame) > MaxPayloadLen {
		return rcp.ErrNoBufs
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return rcp.ErrLinkDown
	}

	return c.writeFrame(conn, opFrame, frame)
}

// SetReceiveCallback registers the function invoked for every frame received
// from the RCP. The frame slice is only valid for the duration of the call.
func (c *Conn) SetReceiveCallback(cb func(frame []byte)) {
	c.mu.Lock()
	c.onFrame = cb
	c.mu.Unlock()
}

// SetDeathCallback registers the function invoked when the stream closes
// unexpectedly.
func (c *Conn) SetDeathCallback(cb func()) {
	c.mu.Lock()
	c.onDeath = cb
	c.mu.Unlock()
}

// RequestHardwareReset sends a reset request frame to the RCP endpoint.
func (c *Conn) RequestHardwareReset() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return rcp.ErrLinkDown
	}

	return c.writeFrame(conn, opReset, nil)
}

// BusSpeed returns the configured link speed in bits/second.
func (c *Conn) BusSpeed() uint32 {
	return c.busSpeed
}

func (c *Conn) writeFrame(conn net.Conn, opcode byte, payload []byte) error {
	buf, err := encodeFrame(nil, opcode, payload)
	if err != nil {
		return err
	}

	// serialize writers so frames never interleave on the stream
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("%w: %s", rcp.ErrFailed, err)
	}

	return nil
}

func (c *Conn) readLoop(conn net.Conn) {
	defer c.wg.Done()

	header := make([]byte, headerLen)
	trailer := make([]byte, fcsLen)

	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			c.streamBroken(err)
			return
		}

		payload := make([]byte, binary.BigEndian.Uint16(header[1:]))
		if _, err := io.ReadFull(conn, payload); err != nil {
			c.streamBroken(err)
			return
		}

		if _, err := io.ReadFull(conn, trailer); err != nil {
			c.streamBroken(err)
			return
		}

		fcs := binary.BigEndian.Uint16(trailer)
		if err := verifyFrame(header, payload, fcs); err != nil {
			// a corrupted frame is dropped, the stream itself stays up
			c.logger.Warn("dropping corrupted IPC frame", "len", len(payload), "error", err)
			continue
		}

		c.handleFrame(header[0], payload)
	}
}

func (c *Conn) handleFrame(opcode byte, payload []byte) {
	switch opcode {
	case opFrame:
		c.mu.Lock()
		cb := c.onFrame
		c.mu.Unlock()

		if cb != nil {
			cb(payload)
		}

	case opReset:
		// reset acknowledgements from the RCP carry no payload today
		c.logger.Debug("reset notification from RCP endpoint")

	default:
		c.logger.Warn("unknown IPC opcode", "opcode", opcode)
	}
}

func (c *Conn) streamBroken(cause error) {
	c.mu.Lock()
	closed := c.closed
	c.conn = nil
	onDeath := c.onDeath
	c.mu.Unlock()

	if closed {
		return
	}

	if !errors.Is(cause, io.EOF) {
		c.logger.Warn("IPC stream failed", "error", cause)
	}

	if onDeath != nil {
		onDeath()
	}
}
