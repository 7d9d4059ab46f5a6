package rcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openrcp/go-rcphost/logger"
)

func TestLinkState(t *testing.T) {
	t.Run("String", func(t *testing.T) {
		require := require.New(t)

		require.Equal("uninitialized", UninitializedState.String())
		require.Equal("connected", ConnectedState.String())
		require.Equal("disconnected", DisconnectedState.String())
		require.Equal("unknown", LinkState(99).String())
	})

	t.Run("Transitions", func(t *testing.T) {
		require := require.New(t)

		mgr := NewLinkStateMgr(logger.NewSlog(logger.ErrorLevel, false))
		require.True(mgr.State().IsUninitialized())

		mgr.ToConnected()
		require.True(mgr.IsConnected())

		mgr.ToDisconnected()
		require.True(mgr.State().IsDisconnected())

		// link recovery
		mgr.ToConnected()
		require.True(mgr.IsConnected())

		mgr.ToUninitialized()
		require.True(mgr.State().IsUninitialized())
	})

	t.Run("Handlers", func(t *testing.T) {
		require := require.New(t)

		type change struct {
			prev LinkState
			next LinkState
		}

		var changes []change
		mgr := NewLinkStateMgr(logger.NewSlog(logger.ErrorLevel, false),
			func(prev LinkState, next LinkState) {
				changes = append(changes, change{prev, next})
			},
		)

		mgr.ToConnected()
		mgr.ToConnected() // no-op, handler must not fire
		mgr.ToDisconnected()

		require.Len(changes, 2)
		require.Equal(change{UninitializedState, ConnectedState}, changes[0])
		require.Equal(change{ConnectedState, DisconnectedState}, changes[1])
	})

	t.Run("WaitState", func(t *testing.T) {
		require := require.New(t)

		mgr := NewLinkStateMgr(logger.NewSlog(logger.ErrorLevel, false))

		go func() {
			time.Sleep(20 * time.Millisecond)
			mgr.ToConnected()
		}()

		ctx, cancel := context.WithTimeout(t.Context(), time.Second)
		defer cancel()

		require.NoError(mgr.WaitState(ctx, ConnectedState))
		require.True(mgr.IsConnected())
	})

	t.Run("WaitState Timeout", func(t *testing.T) {
		require := require.New(t)

		mgr := NewLinkStateMgr(logger.NewSlog(logger.ErrorLevel, false))

		ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
		defer cancel()

		err := mgr.WaitState(ctx, ConnectedState)
		require.ErrorIs(err, context.DeadlineExceeded)
	})
}
