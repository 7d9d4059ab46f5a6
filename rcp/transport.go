package rcp

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openrcp/go-rcphost/internal/pool"
	"github.com/openrcp/go-rcphost/internal/queue"
	"github.com/openrcp/go-rcphost/logger"
	"github.com/openrcp/go-rcphost/reactor"
)

const (
	// DefaultMaxFrameSize is the maximum length of a single frame accepted by
	// SendFrame.
	DefaultMaxFrameSize = 8192
)

// FrameCallback is invoked on the reactor thread for every frame handed
// onward to the upper radio stack. The frame has already been appended to the
// transport's FrameBuffer when the callback runs.
type FrameCallback func(frame []byte)

// Transport owns the asynchronous IPC connection to the radio co-processor
// and bridges its push-callback delivery into the reactor's synchronous
// readiness model.
//
// The underlying channel delivers frames on its own goroutine. The transport
// enqueues each frame and signals a self-notifying pipe; the reactor waits on
// the pipe's read end and Process drains the signal and hands the buffered
// frames onward. This decouples "data arrived asynchronously" from "the loop
// is ready to consume it": a frame enqueued between a Process call and the
// next UpdateFdSet registration leaves the pipe readable, so the next wait
// call returns immediately and nothing is lost.
type Transport struct {
	ch       Channel
	logger   logger.Logger
	stateMgr *LinkStateMgr

	// mu guards the delivery hand-off state shared with the channel's
	// delivery goroutine: the pending queue, the signal pipe and the waiter.
	mu          sync.Mutex
	initialized bool
	pending     queue.Queue[[]byte]
	rxBuf       *FrameBuffer
	onFrame     FrameCallback
	waiter      chan struct{}
	pipeRd      int
	pipeWr      int

	sendBusy     atomic.Bool
	deathHandler func()
	maxFrameSize int
	metrics      InterfaceMetrics
}

// ensure Transport implements the reactor.Participant interface.
var _ reactor.Participant = (*Transport)(nil)

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithLogger sets the logger for the transport.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) TransportOption {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMaxFrameSize sets the maximum length of a single frame accepted by
// SendFrame. The default is DefaultMaxFrameSize.
func WithMaxFrameSize(size int) TransportOption {
	return func(t *Transport) {
		if size > 0 {
			t.maxFrameSize = size
		}
	}
}

// WithDeathHandler sets the handler invoked after a death notification has
// been processed, the pending wait discarded and the automatic hardware reset
// attempted. It surfaces the link failure to the upper stack.
func WithDeathHandler(handler func()) TransportOption {
	return func(t *Transport) {
		t.deathHandler = handler
	}
}

// NewTransport creates a Transport over the given IPC channel.
// The transport does not touch the channel until Init is called.
func NewTransport(ch Channel, opts ...TransportOption) *Transport {
	t := &Transport{
		ch:           ch,
		logger:       logger.GetLogger(),
		maxFrameSize: DefaultMaxFrameSize,
		pending:      queue.NewSliceQueue[[]byte](16),
		pipeRd:       -1,
		pipeWr:       -1,
	}

	for _, opt := range opts {
		opt(t)
	}

	t.stateMgr = NewLinkStateMgr(t.logger)

	return t
}

// Init establishes the IPC connection to the RCP, registers the receive and
// death callbacks with the underlying channel and records the frame-sink
// buffer the delivery path appends into.
//
// It returns ErrAlready if the transport is already initialized and
// ErrInvalidArgs if the channel or frame buffer is missing or the endpoint
// cannot be opened.
func (t *Transport) Init(onFrame FrameCallback, frameBuffer *FrameBuffer) error {
	t.mu.Lock()
	if t.initialized {
		t.mu.Unlock()
		return ErrAlready
	}

	if t.ch == nil || frameBuffer == nil {
		t.mu.Unlock()
		return ErrInvalidArgs
	}

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.mu.Unlock()
		t.logger.Error("failed to create signal pipe", "error", err)

		return fmt.Errorf("%w: %s", ErrFailed, err)
	}

	t.pipeRd, t.pipeWr = fds[0], fds[1]
	t.rxBuf = frameBuffer
	t.onFrame = onFrame
	t.pending.Reset()
	t.initialized = true
	t.mu.Unlock()

	t.ch.SetReceiveCallback(t.receiveFrame)
	t.ch.SetDeathCallback(t.peerDeath)

	if err := t.ch.Connect(); err != nil {
		t.ch.SetReceiveCallback(nil)
		t.ch.SetDeathCallback(nil)

		t.mu.Lock()
		t.initialized = false
		t.closePipeLocked()
		t.rxBuf = nil
		t.onFrame = nil
		t.mu.Unlock()

		t.logger.Error("failed to connect RCP channel", "error", err)

		return fmt.Errorf("%w: %s", ErrInvalidArgs, err)
	}

	t.stateMgr.ToConnected()
	t.logger.Info("RCP transport initialized", "bus_speed", t.ch.BusSpeed())

	return nil
}

// Deinit tears down the IPC connection, deregisters the callbacks and
// releases the frame buffer reference. It is the only path that stops
// delivery callbacks from firing and must complete before the transport's
// storage is reused.
//
// A logically pending WaitForFrame is released with a timeout-equivalent
// failure rather than left parked.
func (t *Transport) Deinit() {
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return
	}

	t.initialized = false
	waiter := t.waiter
	t.waiter = nil
	t.closePipeLocked()
	t.pending.Reset()
	t.rxBuf = nil
	t.onFrame = nil
	t.mu.Unlock()

	releaseWaiter(waiter)

	t.ch.SetReceiveCallback(nil)
	t.ch.SetDeathCallback(nil)

	if err := t.ch.Disconnect(); err != nil {
		t.logger.Warn("failed to disconnect RCP channel", "error", err)
	}

	t.stateMgr.ToUninitialized()
	t.logger.Info("RCP transport deinitialized")
}

// SendFrame forwards one opaque frame to the RCP over the IPC channel.
//
// It returns ErrBusy if another send is outstanding, ErrNoBufs if the frame
// exceeds the maximum frame size, ErrLinkDown if the transport is not
// initialized, and ErrFailed on any IPC-level rejection.
func (t *Transport) SendFrame(frame []byte) error {
	t.mu.Lock()
	initialized := t.initialized
	t.mu.Unlock()

	if !initialized {
		return ErrLinkDown
	}

	if len(frame) > t.maxFrameSize {
		return ErrNoBufs
	}

	// the channel permits only one frame in flight
	if !t.sendBusy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer t.sendBusy.Store(false)

	if err := t.ch.Send(frame); err != nil {
		t.metrics.incFrameErrCount()

		if errors.Is(err, ErrNoBufs) || errors.Is(err, ErrBusy) {
			return err
		}

		t.logger.Error("failed to send frame to RCP", "len", len(frame), "error", err)

		return fmt.Errorf("%w: %s", ErrFailed, err)
	}

	t.metrics.incTxFrame(len(frame))

	return nil
}

// WaitForFrame blocks the calling context until the delivery callback hands
// over at least one frame or the timeout elapses. It returns nil on delivery
// and ErrResponseTimeout otherwise.
//
// At most one wait may be outstanding at a time; a second concurrent call
// returns ErrBusy. The wait is intended for startup handshakes and reset
// recovery, never for the normal hot path, and is mutually exclusive with
// reactor-driven delivery for the same buffer: a concurrently running Process
// call may consume the frames the waiter was signaled for.
func (t *Transport) WaitForFrame(timeout time.Duration) error {
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return ErrResponseTimeout
	}

	if !t.pending.IsEmpty() {
		chunks := t.deliverLocked()
		onFrame := t.onFrame
		t.mu.Unlock()
		dispatchFrames(onFrame, chunks)

		return nil
	}

	if t.waiter != nil {
		t.mu.Unlock()
		return ErrBusy
	}

	waiter := make(chan struct{}, 1)
	t.waiter = waiter
	t.mu.Unlock()

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case <-waiter:
		t.clearWaiter(waiter)

		if t.deliver() > 0 {
			return nil
		}

		// woken without data: released by a death notification or Deinit
		return ErrResponseTimeout

	case <-timer.C:
		t.clearWaiter(waiter)

		// a delivery may have raced the timeout
		if t.deliver() > 0 {
			return nil
		}

		return ErrResponseTimeout
	}
}

// UpdateFdSet adds the read end of the signal pipe to the interest sets.
func (t *Transport) UpdateFdSet(ctx *reactor.Context) {
	t.mu.Lock()
	pipeRd := t.pipeRd
	t.mu.Unlock()

	if pipeRd >= 0 {
		ctx.AddFd(pipeRd)
	}
}

// Process drains the signal pipe and hands all buffered frames onward, in
// order, appending each to the frame buffer and invoking the frame callback.
//
// Frames enqueued by the delivery callback before this call are guaranteed
// visible to it.
func (t *Transport) Process(ctx *reactor.Context) error {
	t.mu.Lock()
	pipeRd := t.pipeRd
	t.mu.Unlock()

	if pipeRd >= 0 && ctx.CanRead(pipeRd) {
		drainPipe(pipeRd)
	}

	t.deliver()

	return nil
}

// HardwareReset issues a hard reset request to the RCP through the IPC
// channel. It is invoked automatically when a death notification fires and
// may also be invoked explicitly after a software reset attempt fails.
//
// It returns ErrNotImplemented if the channel offers no reset capability.
func (t *Transport) HardwareReset() error {
	if t.ch == nil {
		return ErrNotImplemented
	}

	t.metrics.incHardwareResetCount()

	err := t.ch.RequestHardwareReset()
	if err == nil || errors.Is(err, ErrNotImplemented) {
		return err
	}

	t.logger.Error("hardware reset request rejected", "error", err)

	return fmt.Errorf("%w: %s", ErrFailed, err)
}

// BusSpeed returns the bus speed between the host and the RCP in bits/second.
func (t *Transport) BusSpeed() uint32 {
	if t.ch == nil {
		return 0
	}

	return t.ch.BusSpeed()
}

// Metrics returns the RCP interface metrics. Counters are updated only by the
// send and receive paths and are never reset by accessors.
func (t *Transport) Metrics() *InterfaceMetrics {
	return &t.metrics
}

// State returns the current state of the RCP link.
func (t *Transport) State() LinkState {
	return t.stateMgr.State()
}

// StateMgr returns the link state manager, allowing callers to register state
// change handlers or wait for a specific state.
func (t *Transport) StateMgr() *LinkStateMgr {
	return t.stateMgr
}

// receiveFrame is the channel's delivery callback. It may be invoked on any
// goroutine owned by the IPC runtime; the critical section is limited to the
// queue append and the pipe signal.
func (t *Transport) receiveFrame(frame []byte) {
	// the frame slice is only valid for the duration of the callback
	chunk := make([]byte, len(frame))
	copy(chunk, frame)

	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return
	}

	t.pending.Enqueue(chunk)
	t.metrics.incRxFrame(len(chunk))

	if t.pipeWr >= 0 {
		// level signal for the reactor; EAGAIN means the pipe is already
		// full, which still leaves the read end readable
		_, _ = unix.Write(t.pipeWr, []byte{0})
	}

	waiter := t.waiter
	t.mu.Unlock()

	releaseWaiter(waiter)
}

// peerDeath is the channel's death notification callback. It marks the link
// Disconnected, discards any pending wait and attempts exactly one hardware
// reset before surfacing the failure upward.
func (t *Transport) peerDeath() {
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return
	}

	t.metrics.incUnexpectedDeathCount()
	waiter := t.waiter
	t.waiter = nil
	t.mu.Unlock()

	t.logger.Warn("death notification received for RCP endpoint")
	t.stateMgr.ToDisconnected()

	releaseWaiter(waiter)

	if err := t.HardwareReset(); err != nil {
		t.logger.Error("hardware reset attempt failed", "error", err)
	}

	if t.deathHandler != nil {
		t.deathHandler()
	}
}

// deliver moves all pending frames into the frame buffer and invokes the
// frame callback for each, outside the lock. It returns the number of frames
// handed onward.
func (t *Transport) deliver() int {
	t.mu.Lock()
	chunks := t.deliverLocked()
	onFrame := t.onFrame
	t.mu.Unlock()

	dispatchFrames(onFrame, chunks)

	return len(chunks)
}

func (t *Transport) deliverLocked() [][]byte {
	if t.pending.IsEmpty() {
		return nil
	}

	chunks := make([][]byte, 0, t.pending.Length())
	for {
		chunk, ok := t.pending.Dequeue()
		if !ok {
			break
		}

		if t.rxBuf != nil {
			if err := t.rxBuf.AppendFrame(chunk); err != nil {
				t.metrics.incFrameErrCount()
				t.logger.Warn("receive buffer full, frame dropped", "len", len(chunk))

				continue
			}
		}

		chunks = append(chunks, chunk)
	}

	return chunks
}

func (t *Transport) clearWaiter(waiter chan struct{}) {
	t.mu.Lock()
	if t.waiter == waiter {
		t.waiter = nil
	}
	t.mu.Unlock()
}

func (t *Transport) closePipeLocked() {
	if t.pipeRd >= 0 {
		_ = unix.Close(t.pipeRd)
		t.pipeRd = -1
	}

	if t.pipeWr >= 0 {
		_ = unix.Close(t.pipeWr)
		t.pipeWr = -1
	}
}

func dispatchFrames(onFrame FrameCallback, chunks [][]byte) {
	if onFrame == nil {
		return
	}

	for _, chunk := range chunks {
		onFrame(chunk)
	}
}

func releaseWaiter(waiter chan struct{}) {
	if waiter == nil {
		return
	}

	select {
	case waiter <- struct{}{}:
	default:
	}
}

func drainPipe(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if err != nil || n < len(buf) {
			return
		}
	}
}
