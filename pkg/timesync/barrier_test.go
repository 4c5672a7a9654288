// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package timesync

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/vectorgrp/sil-kit-sub006/pkg/conn"
	"github.com/vectorgrp/sil-kit-sub006/pkg/lifecycle"
)

func runningFSM(t *testing.T) *lifecycle.FSM {
	t.Helper()
	f := lifecycle.New(lifecycle.ModeAutonomous, nil, log.NewNoOpLogger())
	ctx := context.Background()
	for _, s := range []lifecycle.State{lifecycle.ServicesCreated, lifecycle.CommunicationInitializing,
		lifecycle.CommunicationInitialized, lifecycle.ReadyToRun, lifecycle.Running} {
		require.NoError(t, f.Enter(ctx, s))
	}
	return f
}

func TestSoloParticipantAdvancesImmediately(t *testing.T) {
	logger := log.NewNoOpLogger()
	c := conn.New("P1", logger)
	f := runningFSM(t)
	b := New("P1", c, f, Config{StepDuration: time.Millisecond}, logger)

	var got []time.Duration
	done := make(chan struct{})
	b.SetSyncStepHandler(func(ctx context.Context, now, dur time.Duration) {
		got = append(got, now)
		if len(got) == 3 {
			close(done)
		}
	})

	require.NoError(t, b.Start(context.Background()))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("steps never progressed")
	}
	require.Equal(t, []time.Duration{0, time.Millisecond, 2 * time.Millisecond}, got[:3])
}

func TestAdvanceBlocksOnSlowerPeer(t *testing.T) {
	logger := log.NewNoOpLogger()
	c := conn.New("P1", logger)
	f := runningFSM(t)
	b := New("P1", c, f, Config{StepDuration: time.Millisecond}, logger)

	invoked := make(chan time.Duration, 8)
	b.SetSyncStepHandler(func(ctx context.Context, now, dur time.Duration) {
		invoked <- now
	})

	b.mu.Lock()
	b.others["P2"] = Task{TimePoint: 0, Duration: int64(time.Millisecond)}
	b.mu.Unlock()

	require.NoError(t, b.Start(context.Background()))

	select {
	case now := <-invoked:
		require.Equal(t, time.Duration(0), now)
	case <-time.After(time.Second):
		t.Fatal("round 0 should run with both at timePoint 0")
	}

	select {
	case <-invoked:
		t.Fatal("round 1 must not run before P2 reports timePoint 1ms")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAsyncStepRequiresExplicitCompletion(t *testing.T) {
	logger := log.NewNoOpLogger()
	c := conn.New("P1", logger)
	f := runningFSM(t)
	cfg := Config{StepDuration: time.Millisecond, StepMode: Asynchronous}
	b := New("P1", c, f, cfg, logger)

	invocations := 0
	b.SetAsyncStepHandler(func(now, dur time.Duration) { invocations++ })

	require.NoError(t, b.Start(context.Background()))
	require.Eventually(t, func() bool { return invocations == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, invocations, "at most one step may be in flight at a time")

	b.CompleteSimulationStep()
	require.Eventually(t, func() bool { return invocations == 2 }, time.Second, time.Millisecond)
}

func TestRemovePeerUnblocksAdvance(t *testing.T) {
	logger := log.NewNoOpLogger()
	c := conn.New("P1", logger)
	f := runningFSM(t)
	b := New("P1", c, f, Config{StepDuration: time.Millisecond}, logger)

	invoked := make(chan time.Duration, 8)
	b.SetSyncStepHandler(func(ctx context.Context, now, dur time.Duration) { invoked <- now })

	b.mu.Lock()
	b.others["Stuck"] = Task{TimePoint: -1, Duration: int64(time.Millisecond)}
	b.mu.Unlock()

	require.NoError(t, b.Start(context.Background()))
	select {
	case <-invoked:
		t.Fatal("must not advance while Stuck reports a timePoint behind ours")
	case <-time.After(100 * time.Millisecond):
	}

	b.RemovePeer("Stuck")
	select {
	case <-invoked:
	case <-time.After(time.Second):
		t.Fatal("removing the stuck peer should unblock the barrier")
	}
}
