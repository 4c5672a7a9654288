// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package busif

import (
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/vectorgrp/sil-kit-sub006/pkg/conn"
	"github.com/vectorgrp/sil-kit-sub006/pkg/router"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

func TestCanControllerRoundTripsFramesLocally(t *testing.T) {
	logger := log.NewNoOpLogger()
	c := conn.New("ECU1", logger)
	r := router.New(c, logger)
	self := wire.ServiceDescriptor{ParticipantName: "ECU1"}
	can := NewCanController(r, self, "CAN1")

	type received struct {
		frame       wire.CanFrame
		userContext uint64
	}
	var got []received
	can.OnFrame(func(from wire.ServiceDescriptor, frame wire.CanFrame, timestamp int64, userContext uint64) {
		got = append(got, received{frame: frame, userContext: userContext})
	})

	for i := uint32(0); i < 4; i++ {
		frame := wire.CanFrame{CanID: i, DLC: 8, Data: make([]byte, 8)}
		require.NoError(t, can.SendFrame(frame, uint64(i)+1))
	}

	require.Len(t, got, 4)
	for i, r := range got {
		require.Equal(t, uint32(i), r.frame.CanID)
		require.Equal(t, uint8(8), r.frame.DLC)
		require.Equal(t, uint64(i)+1, r.userContext)
	}
}

func TestCanControllerStatusDelivery(t *testing.T) {
	logger := log.NewNoOpLogger()
	c := conn.New("ECU1", logger)
	r := router.New(c, logger)
	self := wire.ServiceDescriptor{ParticipantName: "ECU1"}
	can := NewCanController(r, self, "CAN1")

	var got wire.BusControllerStatus
	can.OnStatus(func(from wire.ServiceDescriptor, status wire.BusControllerStatus) { got = status })

	status := wire.BusControllerStatus{LinkID: "CAN1", NetworkType: wire.NetworkCAN, StatusCode: 1}
	require.NoError(t, r.Broadcast(self, conn.ReceiverKey{Kind: wire.KindBusControllerStatus, LinkID: "CAN1"},
		wire.MarshalBusControllerStatus(status), 0))

	require.Equal(t, status, got)
}

func TestCanControllerModeDirectives(t *testing.T) {
	logger := log.NewNoOpLogger()
	c := conn.New("ECU1", logger)
	r := router.New(c, logger)
	self := wire.ServiceDescriptor{ParticipantName: "ECU1"}
	can := NewCanController(r, self, "CAN1")

	var modes []uint8
	r.AddReceiver(conn.ReceiverKey{Kind: wire.KindBusSetControllerMode, LinkID: "CAN1"}, func(from wire.ServiceDescriptor, payload []byte) {
		m, err := wire.UnmarshalBusSetControllerMode(payload)
		require.NoError(t, err)
		modes = append(modes, m.Mode)
	})

	require.NoError(t, can.Start())
	require.NoError(t, can.Stop())
	require.NoError(t, can.Reset())
	require.Equal(t, []uint8{ModeStart, ModeStop, ModeReset}, modes)
}
