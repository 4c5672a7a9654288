// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/log"
	"github.com/luxfi/zap"
)

// ErrIllegalTransition is a StateError (spec.md §7): the API call was
// attempted in a state that forbids it. The participant remains in
// its current state.
var ErrIllegalTransition = errors.New("lifecycle: illegal state transition")

// Gate is consulted by coordinated mode when entering one of the
// states in coordinatedGates: it must return a channel that closes
// once every required participant has reached at least that state
// (spec.md §4.8; the wait itself is implemented by pkg/systemstate).
type Gate func(target State) <-chan struct{}

// AbortHandler observes the state the participant was in immediately
// before Abort fired (spec.md §8 scenario 5).
type AbortHandler func(lastState State)

// FSM is one participant's lifecycle state machine. All transitions
// run on the connection's single I/O progress context (spec.md §5);
// FSM itself only serializes its own state under mu so that State()
// and RequestStop/RequestPause remain safe to call from other
// goroutines (e.g. a CLI signal handler).
type FSM struct {
	log  log.Logger
	mode OperationMode
	gate Gate

	mu             sync.Mutex
	state          State
	stopRequested  bool
	pauseRequested bool

	commReadyFired bool
	commReadyAsync bool
	commReadyDone  chan struct{}
	startingFired  bool
	stopFired      bool
	shutdownFired  bool
	abortFired     bool

	onCommunicationReady func()
	onStarting           func()
	onStop               func()
	onShutdown           func()
	onAbort              AbortHandler
}

// New creates an FSM in Invalid state. gate may be nil for
// ModeAutonomous; ModeCoordinated requires a non-nil gate.
func New(mode OperationMode, gate Gate, logger log.Logger) *FSM {
	return &FSM{
		log:   logger,
		mode:  mode,
		gate:  gate,
		state: Invalid,
	}
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FSM) Mode() OperationMode { return f.mode }

// OnCommunicationReady, OnStarting, OnStop, OnShutdown, OnAbort
// install the handler hooks fired exactly once on their respective
// transitions (spec.md §4.8). Must be called before the corresponding
// transition; installing twice replaces the previous hook.
func (f *FSM) OnCommunicationReady(fn func()) { f.onCommunicationReady = fn }
func (f *FSM) OnStarting(fn func())           { f.onStarting = fn }
func (f *FSM) OnStop(fn func())               { f.onStop = fn }
func (f *FSM) OnShutdown(fn func())           { f.onShutdown = fn }
func (f *FSM) OnAbort(fn AbortHandler)        { f.onAbort = fn }

// RequestAsyncCommunicationReady marks the CommunicationReady handler
// as asynchronous: Enter(CommunicationInitialized) will not proceed to
// the coordinated gate until CompleteCommunicationReadyHandlerAsync is
// called (spec.md §4.8).
func (f *FSM) RequestAsyncCommunicationReady() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commReadyAsync = true
}

// CompleteCommunicationReadyHandlerAsync releases an Enter call
// blocked waiting for an async CommunicationReady handler.
func (f *FSM) CompleteCommunicationReadyHandlerAsync() {
	f.mu.Lock()
	done := f.commReadyDone
	f.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	default:
		close(done)
	}
}

// RequestStop records that Stop was requested; the time-sync barrier
// consults StopRequested before advancing a step (spec.md §4.7 item 3).
func (f *FSM) RequestStop() {
	f.mu.Lock()
	f.stopRequested = true
	f.mu.Unlock()
}

// RequestPause mirrors RequestStop for Pause.
func (f *FSM) RequestPause() {
	f.mu.Lock()
	f.pauseRequested = true
	f.mu.Unlock()
}

func (f *FSM) StopRequested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopRequested
}

func (f *FSM) PauseRequested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauseRequested
}

// Enter attempts the transition to. It validates legality, fires the
// handler bound to entering that state exactly once, and — in
// coordinated mode, for the states coordinatedGates names — blocks
// until the gate reports every required participant has caught up, or
// ctx is cancelled.
func (f *FSM) Enter(ctx context.Context, to State) error {
	f.mu.Lock()
	from := f.state
	if !legalTransition(from, to) {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	f.state = to
	f.mu.Unlock()

	f.log.Debug("lifecycle: state transition", zap.String("from", from.String()), zap.String("to", to.String()))

	switch to {
	case CommunicationInitialized:
		f.fireCommReady()
	case Running:
		f.fireOnce(&f.startingFired, f.onStarting)
	case Stopping:
		f.fireOnce(&f.stopFired, f.onStop)
	case ShuttingDown:
		f.fireOnce(&f.shutdownFired, f.onShutdown)
	case Aborting:
		f.fireAbort(from)
	}

	if to == CommunicationInitialized {
		f.mu.Lock()
		done := f.commReadyDone
		f.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if f.mode == ModeCoordinated && f.gate != nil && coordinatedGates[to] {
		select {
		case <-f.gate(to):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *FSM) fireOnce(fired *bool, fn func()) {
	f.mu.Lock()
	if *fired {
		f.mu.Unlock()
		return
	}
	*fired = true
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *FSM) fireCommReady() {
	f.mu.Lock()
	if f.commReadyFired {
		f.mu.Unlock()
		return
	}
	f.commReadyFired = true
	f.commReadyDone = make(chan struct{})
	handler := f.onCommunicationReady
	f.mu.Unlock()

	if handler == nil {
		close(f.commReadyDone)
		return
	}
	handler()

	f.mu.Lock()
	async := f.commReadyAsync
	f.mu.Unlock()
	if !async {
		close(f.commReadyDone)
	}
}

func (f *FSM) fireAbort(lastState State) {
	f.mu.Lock()
	if f.abortFired {
		f.mu.Unlock()
		return
	}
	f.abortFired = true
	handler := f.onAbort
	f.mu.Unlock()
	if handler != nil {
		handler(lastState)
	}
}
