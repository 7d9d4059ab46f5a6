package reactor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// pipeParticipant owns the read end of a pipe and records readiness.
type pipeParticipant struct {
	name      string
	fd        int
	order     *[]string
	readable  bool
	processed int
	failWith  error
}

func (p *pipeParticipant) UpdateFdSet(ctx *Context) {
	ctx.AddFd(p.fd)
}

func (p *pipeParticipant) Process(ctx *Context) error {
	p.processed++
	if p.order != nil {
		*p.order = append(*p.order, p.name)
	}

	if ctx.CanRead(p.fd) {
		p.readable = true
		buf := make([]byte, 16)
		_, _ = unix.Read(p.fd, buf)
	}

	return p.failWith
}

func newPipe(t *testing.T) (readFd, writeFd int) {
	t.Helper()

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})

	return fds[0], fds[1]
}

func TestReactorStep(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	t.Run("Readable Descriptor", func(t *testing.T) {
		readFd, writeFd := newPipe(t)

		p := &pipeParticipant{name: "pipe", fd: readFd}
		r := New(WithPollInterval(100 * time.Millisecond))
		r.Add(p)

		_, err := unix.Write(writeFd, []byte{0x7e})
		require.NoError(err)

		require.NoError(r.Step(ctx))
		require.True(p.readable)
		require.Equal(1, p.processed)
	})

	t.Run("Deadline Elapses Without Readiness", func(t *testing.T) {
		readFd, _ := newPipe(t)

		p := &pipeParticipant{name: "pipe", fd: readFd}
		r := New(WithPollInterval(20 * time.Millisecond))
		r.Add(p)

		begin := time.Now()
		require.NoError(r.Step(ctx))
		require.GreaterOrEqual(time.Since(begin), 15*time.Millisecond)
		require.False(p.readable)
		require.Equal(1, p.processed)
	})

	t.Run("Deterministic Service Order", func(t *testing.T) {
		var order []string

		first := &pipeParticipant{name: "first", fd: -1, order: &order}
		second := &pipeParticipant{name: "second", fd: -1, order: &order}

		r := New(WithPollInterval(time.Millisecond))
		r.Add(first)
		r.Add(second)

		for i := 0; i < 3; i++ {
			require.NoError(r.Step(ctx))
		}

		require.Equal([]string{"first", "second", "first", "second", "first", "second"}, order)
	})

	t.Run("Duplicate Add Is NoOp", func(t *testing.T) {
		p := &pipeParticipant{name: "dup", fd: -1}
		r := New(WithPollInterval(time.Millisecond))
		r.Add(p)
		r.Add(p)

		require.Equal(1, r.Len())
		require.NoError(r.Step(ctx))
		require.Equal(1, p.processed)
	})

	t.Run("Remove Participant", func(t *testing.T) {
		p := &pipeParticipant{name: "removed", fd: -1}
		r := New(WithPollInterval(time.Millisecond))
		r.Add(p)
		r.Remove(p)

		require.Equal(0, r.Len())
		require.NoError(r.Step(ctx))
		require.Equal(0, p.processed)
	})

	t.Run("Fatal Error Escalates", func(t *testing.T) {
		fatal := errors.New("endpoint gone")
		p := &pipeParticipant{name: "fatal", fd: -1, failWith: fatal}
		r := New(WithPollInterval(time.Millisecond))
		r.Add(p)

		err := r.Step(ctx)
		require.ErrorIs(err, fatal)
	})
}

func TestReactorRun(t *testing.T) {
	require := require.New(t)

	t.Run("Stops On Context Cancel", func(t *testing.T) {
		p := &pipeParticipant{name: "idle", fd: -1}
		r := New(WithPollInterval(5 * time.Millisecond))
		r.Add(p)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		require.NoError(r.Run(ctx))
		require.Greater(p.processed, 0)
	})

	t.Run("Stops On Fatal Error", func(t *testing.T) {
		fatal := errors.New("listen socket error")
		p := &pipeParticipant{name: "fatal", fd: -1, failWith: fatal}
		r := New(WithPollInterval(time.Millisecond))
		r.Add(p)

		err := r.Run(context.Background())
		require.ErrorIs(err, fatal)
	})
}
