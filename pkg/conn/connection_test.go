// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package conn

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/vectorgrp/sil-kit-sub006/pkg/transport"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

func TestSelfDeliveryIsSynchronous(t *testing.T) {
	c := New("P1", log.NewNoOpLogger())
	key := ReceiverKey{Kind: wire.KindDataMessageEvent, LinkID: "topic-T"}

	delivered := false
	c.AddReceiver(key, func(from wire.ServiceDescriptor, payload []byte) {
		delivered = true
	})

	require.NoError(t, c.SendMsg(wire.ServiceDescriptor{ParticipantName: "P1"}, key,
		wire.MarshalDataMessageEvent(wire.DataMessageEvent{LinkID: "topic-T", Payload: []byte{0x01}})))
	require.True(t, delivered, "self delivery must be visible before SendMsg returns")
}

func TestRemoteReceiverBroadcastAndCount(t *testing.T) {
	logger := log.NewNoOpLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, client := pipePeers(t, logger)
	c := New("P1", logger)
	c.AddPeer("P2", client)
	go c.Run(ctx)

	key := ReceiverKey{Kind: wire.KindDataMessageEvent, LinkID: "topic-T"}
	require.Equal(t, 0, c.GetNumberOfRemoteReceivers(key))
	c.AddRemoteReceiver(key, "P2")
	require.Equal(t, 1, c.GetNumberOfRemoteReceivers(key))
	require.Equal(t, []string{"P2"}, c.GetParticipantNamesOfRemoteReceivers(key))

	require.NoError(t, c.SendMsg(wire.ServiceDescriptor{ParticipantName: "P1"}, key,
		wire.MarshalDataMessageEvent(wire.DataMessageEvent{LinkID: "topic-T", Payload: []byte{0x01}})))

	select {
	case frame := <-server.Frames():
		require.Equal(t, wire.KindDataMessageEvent, frame.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("remote peer never received broadcast frame")
	}
}

func TestHistoryCachesOnePayloadPerLink(t *testing.T) {
	c := New("P1", log.NewNoOpLogger())
	c.CacheHistory("L1", []byte("first"))
	c.CacheHistory("L1", []byte("second"))
	payload, ok := c.HistoryFor("L1")
	require.True(t, ok)
	require.Equal(t, []byte("second"), payload)
}

// pipePeers returns two transport.Peer values connected over a real
// loopback TCP socket, named server and client by accept/dial role.
func pipePeers(t *testing.T, logger log.Logger) (server, client *transport.Peer) {
	t.Helper()
	ln, err := transport.Listen(transport.Endpoint{Scheme: transport.SchemeTCP, Address: "127.0.0.1:0"}, transport.AggregationOff, logger)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	resolved, err := ln.ResolvedEndpoint()
	require.NoError(t, err)

	client, err = transport.Dial(context.Background(), []transport.Endpoint{resolved}, transport.AggregationOff, time.Second, logger)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-ln.Accepted():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
	t.Cleanup(func() { server.Close() })
	return server, client
}
