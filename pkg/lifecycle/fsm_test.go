// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lifecycle

import (
	"context"
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

func TestIllegalTransitionIsRejected(t *testing.T) {
	f := New(ModeAutonomous, nil, log.NewNoOpLogger())
	err := f.Enter(context.Background(), Running)
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.Equal(t, Invalid, f.State())
}

func TestHappyPathAutonomous(t *testing.T) {
	f := New(ModeAutonomous, nil, log.NewNoOpLogger())
	var startingFired int
	f.OnStarting(func() { startingFired++ })

	for _, s := range []State{ServicesCreated, CommunicationInitializing, CommunicationInitialized, ReadyToRun, Running} {
		require.NoError(t, f.Enter(context.Background(), s))
	}
	require.Equal(t, Running, f.State())
	require.Equal(t, 1, startingFired)
}

func TestHandlersFireExactlyOnce(t *testing.T) {
	f := New(ModeAutonomous, nil, log.NewNoOpLogger())
	var stopCount int
	f.OnStop(func() { stopCount++ })

	for _, s := range []State{ServicesCreated, CommunicationInitializing, CommunicationInitialized, ReadyToRun, Running, Stopping} {
		require.NoError(t, f.Enter(context.Background(), s))
	}
	require.Equal(t, 1, stopCount)
}

func TestCoordinatedModeBlocksOnGate(t *testing.T) {
	release := make(chan struct{})
	gate := func(State) <-chan struct{} { return release }
	f := New(ModeCoordinated, gate, log.NewNoOpLogger())

	done := make(chan error, 1)
	go func() { done <- f.Enter(context.Background(), ServicesCreated) }()

	select {
	case <-done:
		t.Fatal("Enter returned before the gate released")
	default:
	}
	close(release)
	require.NoError(t, <-done)
}

func TestAsyncCommunicationReadyBlocksUntilCompleted(t *testing.T) {
	f := New(ModeAutonomous, nil, log.NewNoOpLogger())
	f.OnCommunicationReady(func() { f.RequestAsyncCommunicationReady() })
	require.NoError(t, f.Enter(context.Background(), ServicesCreated))
	require.NoError(t, f.Enter(context.Background(), CommunicationInitializing))

	done := make(chan error, 1)
	go func() { done <- f.Enter(context.Background(), CommunicationInitialized) }()

	select {
	case <-done:
		t.Fatal("Enter returned before CompleteCommunicationReadyHandlerAsync")
	default:
	}
	f.CompleteCommunicationReadyHandlerAsync()
	require.NoError(t, <-done)
}

func TestAbortFromPausedReportsLastState(t *testing.T) {
	f := New(ModeAutonomous, nil, log.NewNoOpLogger())
	var lastState State
	f.OnAbort(func(ls State) { lastState = ls })

	for _, s := range []State{ServicesCreated, CommunicationInitializing, CommunicationInitialized, ReadyToRun, Running, Paused} {
		require.NoError(t, f.Enter(context.Background(), s))
	}
	require.NoError(t, f.Enter(context.Background(), Aborting))
	require.Equal(t, Paused, lastState)
	require.NoError(t, f.Enter(context.Background(), Shutdown))
}
