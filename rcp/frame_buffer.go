package rcp

import (
	"sync"
)

const (
	// DefaultFrameBufferSize is the default byte capacity of a FrameBuffer.
	DefaultFrameBufferSize = 32768
)

// FrameBuffer accumulates received RCP frames until the upper radio stack
// consumes them. Frames are appended in delivery order and frame boundaries
// are retained.
//
// The buffer is safe for concurrent use; in the normal flow it is appended to
// on the reactor thread and drained by the upper layer on the same thread.
type FrameBuffer struct {
	mu       sync.Mutex
	capacity int
	data     []byte
	bounds   []int // end offset of each buffered frame
}

// NewFrameBuffer creates a FrameBuffer with the given byte capacity.
// A non-positive capacity selects DefaultFrameBufferSize.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = DefaultFrameBufferSize
	}

	return &FrameBuffer{
		capacity: capacity,
		data:     make([]byte, 0, capacity),
	}
}

// AppendFrame appends one frame to the buffer.
// It returns ErrNoBufs when the frame does not fit in the remaining capacity.
func (b *FrameBuffer) AppendFrame(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data)+len(frame) > b.capacity {
		return ErrNoBufs
	}

	b.data = append(b.data, frame...)
	b.bounds = append(b.bounds, len(b.data))

	return nil
}

// PopFrame removes and returns the oldest buffered frame.
// The second return value is false if the buffer is empty.
func (b *FrameBuffer) PopFrame() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.bounds) == 0 {
		return nil, false
	}

	end := b.bounds[0]
	frame := make([]byte, end)
	copy(frame, b.data[:end])

	b.data = b.data[:copy(b.data, b.data[end:])]
	b.bounds = b.bounds[1:]
	for i := range b.bounds {
		b.bounds[i] -= end
	}

	return frame, true
}

// Bytes returns a copy of all buffered bytes in delivery order.
func (b *FrameBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)

	return out
}

// Len returns the number of buffered bytes.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.data)
}

// FrameCount returns the number of buffered frames.
func (b *FrameBuffer) FrameCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.bounds)
}

// Clear discards all buffered frames.
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = b.data[:0]
	b.bounds = b.bounds[:0]
}
