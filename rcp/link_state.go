package rcp

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/openrcp/go-rcphost/logger"
)

// LinkState represents the stages of the logical connection to the RCP.
type LinkState uint32

// RCP link states.
const (
	// UninitializedState indicates that the transport has not been initialized.
	UninitializedState LinkState = iota
	// ConnectedState indicates that the IPC connection to the RCP is established.
	ConnectedState
	// DisconnectedState indicates that the RCP endpoint died or the IPC
	// connection was lost.
	DisconnectedState
)

// IsUninitialized returns if the current state is uninitialized.
func (ls LinkState) IsUninitialized() bool { return ls == UninitializedState }

// IsConnected returns if the current state is connected.
func (ls LinkState) IsConnected() bool { return ls == ConnectedState }

// IsDisconnected returns if the current state is disconnected.
func (ls LinkState) IsDisconnected() bool { return ls == DisconnectedState }

// String returns string representation of the current state.
func (ls LinkState) String() string {
	switch ls {
	case UninitializedState:
		return "uninitialized"
	case ConnectedState:
		return "connected"
	case DisconnectedState:
		return "disconnected"
	default:
		return "unknown"
	}
}

// LinkStateChangeHandler is a function type that represents a handler for link
// state changes. It is invoked when the state of the RCP link changes.
//
// Note: the handler will be invoked in a blocking mode. Take care with
// long-running implementations.
type LinkStateChangeHandler func(prevState LinkState, newState LinkState)

// LinkStateMgr manages the state of the RCP link.
//
// It provides methods for managing state transitions and notifying listeners
// of state changes. The state transitions are thread safe in concurrent
// environments; transitions may originate from the reactor thread or from the
// IPC channel's delivery goroutine.
type LinkStateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []LinkStateChangeHandler
}

// NewLinkStateMgr creates a new LinkStateMgr instance, initializing it to the
// UninitializedState.
//
// It accepts optional LinkStateChangeHandler functions that will be invoked
// when the link state changes.
func NewLinkStateMgr(l logger.Logger, handlers ...LinkStateChangeHandler) *LinkStateMgr {
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &LinkStateMgr{
		logger:   l,
		handlers: append([]LinkStateChangeHandler{}, handlers...),
	}

	mgr.state.Store(uint32(UninitializedState))
	mgr.cond = sync.NewCond(&mgr.mu)

	return mgr
}

// State returns the current link state.
func (mgr *LinkStateMgr) State() LinkState {
	return LinkState(mgr.state.Load())
}

// AddHandler adds one or more LinkStateChangeHandler functions to be invoked
// on state changes.
func (mgr *LinkStateMgr) AddHandler(handlers ...LinkStateChangeHandler) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.handlers = append(mgr.handlers, handlers...)
}

// WaitState waits for the link state to reach the specified state or until the
// context is done. It returns nil if the desired state is reached, or an error
// if the context is canceled or times out.
func (mgr *LinkStateMgr) WaitState(ctx context.Context, state LinkState) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		mgr.cond.Broadcast()
	})
	defer stopFunc()

	for mgr.State() != state {
		select {
		case <-ctx.Done():
			mgr.logger.Debug("wait link state canceled", "cur_state", mgr.State(), "desired_state", state)
			return ctx.Err()
		default:
			mgr.cond.Wait()
		}
	}

	return nil
}

// ToUninitialized transitions the link state to UninitializedState.
// This transition is allowed from any state and represents a deinitialized
// transport.
func (mgr *LinkStateMgr) ToUninitialized() {
	mgr.transition(UninitializedState)
}

// ToConnected transitions the link state to ConnectedState.
// This transition is allowed from any state; a Disconnected-to-Connected
// transition represents a recovered link and never resets interface metrics.
func (mgr *LinkStateMgr) ToConnected() {
	mgr.transition(ConnectedState)
}

// ToDisconnected transitions the link state to DisconnectedState.
// This transition represents the death of the RCP endpoint or the loss of the
// IPC connection.
func (mgr *LinkStateMgr) ToDisconnected() {
	mgr.transition(DisconnectedState)
}

// IsConnected returns if the current state is connected.
func (mgr *LinkStateMgr) IsConnected() bool {
	return mgr.State().IsConnected()
}

func (mgr *LinkStateMgr) transition(newState LinkState) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	curState := mgr.State()
	if curState == newState {
		return // no-op transition
	}

	// change state before handlers run so waiters observe the new state
	mgr.state.Store(uint32(newState))
	mgr.cond.Broadcast()

	mgr.logger.Debug("link state changed", "prevState", curState, "newState", newState)

	for _, handler := range mgr.handlers {
		if handler != nil {
			handler(curState, newState)
		}
	}
}
