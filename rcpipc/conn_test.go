package rcpipc

import (
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openrcp/go-rcphost/logger"
	"github.com/openrcp/go-rcphost/rcp"
)

func testLogger() logger.Logger {
	return logger.NewSlog(logger.ErrorLevel, false)
}

// endpoint is a one-connection test stand-in for the RCP side of the socket.
type endpoint struct {
	ln    net.Listener
	conns chan net.Conn
}

func newEndpoint(t *testing.T) (*endpoint, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rcp.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ep := &endpoint{ln: ln, conns: make(chan net.Conn, 1)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		ep.conns <- conn
	}()

	return ep, path
}

func (ep *endpoint) accept(t *testing.T) net.Conn {
	t.Helper()

	select {
	case conn := <-ep.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

// readWireFrame reads one raw frame off the peer side of the stream.
func readWireFrame(t *testing.T, conn net.Conn) (byte, []byte) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	header := make([]byte, headerLen)
	_, err := io.ReadFull(conn, header)
	require.NoError(t, err)

	payload := make([]byte, binary.BigEndian.Uint16(header[1:]))
	_, err = io.ReadFull(conn, payload)
	require.NoError(t, err)

	trailer := make([]byte, fcsLen)
	_, err = io.ReadFull(conn, trailer)
	require.NoError(t, err)

	require.NoError(t, verifyFrame(header, payload, binary.BigEndian.Uint16(trailer)))

	return header[0], payload
}

func TestFrameCodec(t *testing.T) {
	t.Run("Round Trip", func(t *testing.T) {
		require := require.New(t)

		buf, err := encodeFrame(nil, opFrame, []byte{0x81, 0x02, 0x03})
		require.NoError(err)
		require.Len(buf, headerLen+3+fcsLen)

		header := buf[:headerLen]
		payload := buf[headerLen : headerLen+3]
		fcs := binary.BigEndian.Uint16(buf[headerLen+3:])

		require.Equal(opFrame, header[0])
		require.Equal(uint16(3), binary.BigEndian.Uint16(header[1:]))
		require.NoError(verifyFrame(header, payload, fcs))
	})

	t.Run("Corruption Detected", func(t *testing.T) {
		require := require.New(t)

		buf, err := encodeFrame(nil, opFrame, []byte{0x81, 0x02, 0x03})
		require.NoError(err)

		buf[headerLen] ^= 0xff

		err = verifyFrame(buf[:headerLen], buf[headerLen:headerLen+3], binary.BigEndian.Uint16(buf[headerLen+3:]))
		require.ErrorIs(err, ErrFrameCorrupted)
	})

	t.Run("Payload Too Large", func(t *testing.T) {
		require := require.New(t)

		_, err := encodeFrame(nil, opFrame, make([]byte, MaxPayloadLen+1))
		require.ErrorIs(err, ErrFrameTooLarge)
	})
}

func TestConn(t *testing.T) {
	t.Run("Send", func(t *testing.T) {
		require := require.New(t)

		ep, path := newEndpoint(t)
		c := NewConn(path, WithLogger(testLogger()))

		require.NoError(c.Connect())
		defer c.Disconnect()

		peer := ep.accept(t)

		require.NoError(c.Send([]byte{0xca, 0xfe}))

		opcode, payload := readWireFrame(t, peer)
		require.Equal(opFrame, opcode)
		require.Equal([]byte{0xca, 0xfe}, payload)
	})

	t.Run("Send Without Connection", func(t *testing.T) {
		require := require.New(t)

		c := NewConn("/nonexistent.sock", WithLogger(testLogger()))
		require.ErrorIs(c.Send([]byte{1}), rcp.ErrLinkDown)
	})

	t.Run("Receive", func(t *testing.T) {
		require := require.New(t)

		ep, path := newEndpoint(t)
		c := NewConn(path, WithLogger(testLogger()))

		frames := make(chan []byte, 4)
		c.SetReceiveCallback(func(frame []byte) {
			buf := make([]byte, len(frame))
			copy(buf, frame)
			frames <- buf
		})

		require.NoError(c.Connect())
		defer c.Disconnect()

		peer := ep.accept(t)

		wire, err := encodeFrame(nil, opFrame, []byte{0x01, 0x02})
		require.NoError(err)
		_, err = peer.Write(wire)
		require.NoError(err)

		select {
		case frame := <-frames:
			require.Equal([]byte{0x01, 0x02}, frame)
		case <-time.After(2 * time.Second):
			require.Fail("frame not delivered")
		}
	})

	t.Run("Corrupted Frame Dropped", func(t *testing.T) {
		require := require.New(t)

		ml := logger.NewMockLogger()
		ml.On("Warn", "dropping corrupted IPC frame", mock.Anything)

		ep, path := newEndpoint(t)
		c := NewConn(path, WithLogger(ml))

		frames := make(chan []byte, 4)
		c.SetReceiveCallback(func(frame []byte) {
			buf := make([]byte, len(frame))
			copy(buf, frame)
			frames <- buf
		})

		require.NoError(c.Connect())
		defer c.Disconnect()

		peer := ep.accept(t)

		bad, err := encodeFrame(nil, opFrame, []byte{0xbb})
		require.NoError(err)
		bad[headerLen] ^= 0xff
		good, err := encodeFrame(nil, opFrame, []byte{0x99})
		require.NoError(err)

		_, err = peer.Write(append(bad, good...))
		require.NoError(err)

		select {
		case frame := <-frames:
			// the corrupted frame never surfaces, the stream keeps going
			require.Equal([]byte{0x99}, frame)
		case <-time.After(2 * time.Second):
			require.Fail("frame not delivered")
		}

		ml.AssertCalled(t, "Warn", "dropping corrupted IPC frame", mock.Anything)
	})

	t.Run("Hardware Reset Opcode", func(t *testing.T) {
		require := require.New(t)

		ep, path := newEndpoint(t)
		c := NewConn(path, WithLogger(testLogger()))

		require.NoError(c.Connect())
		defer c.Disconnect()

		peer := ep.accept(t)

		require.NoError(c.RequestHardwareReset())

		opcode, payload := readWireFrame(t, peer)
		require.Equal(opReset, opcode)
		require.Empty(payload)
	})

	t.Run("Peer Close Fires Death Callback", func(t *testing.T) {
		require := require.New(t)

		ep, path := newEndpoint(t)
		c := NewConn(path, WithLogger(testLogger()))

		died := make(chan struct{})
		c.SetDeathCallback(func() { close(died) })

		require.NoError(c.Connect())
		defer c.Disconnect()

		peer := ep.accept(t)
		peer.Close()

		select {
		case <-died:
		case <-time.After(2 * time.Second):
			require.Fail("death callback not invoked")
		}
	})

	t.Run("Disconnect Is Silent", func(t *testing.T) {
		require := require.New(t)

		ep, path := newEndpoint(t)
		c := NewConn(path, WithLogger(testLogger()))

		died := make(chan struct{}, 1)
		c.SetDeathCallback(func() { died <- struct{}{} })

		require.NoError(c.Connect())
		ep.accept(t)

		require.NoError(c.Disconnect())

		select {
		case <-died:
			require.Fail("deliberate disconnect must not signal death")
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("Double Connect", func(t *testing.T) {
		require := require.New(t)

		ep, path := newEndpoint(t)
		c := NewConn(path, WithLogger(testLogger()))

		require.NoError(c.Connect())
		defer c.Disconnect()
		ep.accept(t)

		require.ErrorIs(c.Connect(), rcp.ErrAlready)
	})
}
