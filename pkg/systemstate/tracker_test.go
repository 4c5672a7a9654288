// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package systemstate

import (
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/vectorgrp/sil-kit-sub006/pkg/lifecycle"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

func TestSystemStateIsMinimumOverRequired(t *testing.T) {
	tr := New([]string{"P1", "P2"}, log.NewNoOpLogger())
	tr.Ingest(wire.ParticipantStatus{ParticipantName: "P1", State: uint8(lifecycle.Running)})
	require.Equal(t, lifecycle.Invalid, tr.SystemState(), "P2 has not reported yet")

	tr.Ingest(wire.ParticipantStatus{ParticipantName: "P2", State: uint8(lifecycle.ReadyToRun)})
	require.Equal(t, lifecycle.ReadyToRun, tr.SystemState())
}

func TestAnyRequiredErrorWins(t *testing.T) {
	tr := New([]string{"P1", "P2"}, log.NewNoOpLogger())
	tr.Ingest(wire.ParticipantStatus{ParticipantName: "P1", State: uint8(lifecycle.Running)})
	tr.Ingest(wire.ParticipantStatus{ParticipantName: "P2", State: uint8(lifecycle.Error)})
	require.Equal(t, lifecycle.Error, tr.SystemState())
}

func TestNonRequiredParticipantIsIgnored(t *testing.T) {
	tr := New([]string{"P1"}, log.NewNoOpLogger())
	tr.Ingest(wire.ParticipantStatus{ParticipantName: "P1", State: uint8(lifecycle.Running)})
	tr.Ingest(wire.ParticipantStatus{ParticipantName: "Observer", State: uint8(lifecycle.Error)})
	require.Equal(t, lifecycle.Running, tr.SystemState())
}

func TestSystemStateHandlerFiresOnlyOnChange(t *testing.T) {
	tr := New([]string{"P1"}, log.NewNoOpLogger())
	var fired int
	tr.OnSystemStateHandler(func(lifecycle.State) { fired++ })
	tr.Ingest(wire.ParticipantStatus{ParticipantName: "P1", State: uint8(lifecycle.Running)})
	tr.Ingest(wire.ParticipantStatus{ParticipantName: "P1", State: uint8(lifecycle.Running)})
	require.Equal(t, 1, fired)
}

func TestGateUnblocksWhenRequiredReachTarget(t *testing.T) {
	tr := New([]string{"P1", "P2"}, log.NewNoOpLogger())
	gate := tr.Gate(lifecycle.ReadyToRun)

	select {
	case <-gate:
		t.Fatal("gate closed before participants reported in")
	case <-time.After(20 * time.Millisecond):
	}

	tr.Ingest(wire.ParticipantStatus{ParticipantName: "P1", State: uint8(lifecycle.ReadyToRun)})
	tr.Ingest(wire.ParticipantStatus{ParticipantName: "P2", State: uint8(lifecycle.ReadyToRun)})

	select {
	case <-gate:
	case <-time.After(2 * time.Second):
		t.Fatal("gate never closed")
	}
}

func TestGateWithNoRequiredParticipantsIsVacuouslySatisfied(t *testing.T) {
	tr := New(nil, log.NewNoOpLogger())
	select {
	case <-tr.Gate(lifecycle.Running):
	case <-time.After(time.Second):
		t.Fatal("gate should close immediately with no required participants")
	}
}
