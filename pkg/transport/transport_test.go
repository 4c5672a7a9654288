// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

func TestDialAcceptRoundTrip(t *testing.T) {
	logger := log.NewNoOpLogger()

	ln, err := Listen(Endpoint{Scheme: SchemeTCP, Address: "127.0.0.1:0"}, AggregationOff, logger)
	require.NoError(t, err)
	defer ln.Close()

	resolved, err := ln.ResolvedEndpoint()
	require.NoError(t, err)

	client, err := Dial(context.Background(), []Endpoint{resolved}, AggregationOff, time.Second, logger)
	require.NoError(t, err)
	defer client.Close()

	var server *Peer
	select {
	case server = <-ln.Accepted():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
	defer server.Close()

	require.NoError(t, client.Send(wire.KindNextSimTask, wire.MarshalNextSimTask(wire.NextSimTask{TimePoint: 1, Duration: 1})))

	select {
	case frame := <-server.Frames():
		require.Equal(t, wire.KindNextSimTask, frame.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestDialSkipsUnreachableEndpoints(t *testing.T) {
	logger := log.NewNoOpLogger()

	ln, err := Listen(Endpoint{Scheme: SchemeTCP, Address: "127.0.0.1:0"}, AggregationOff, logger)
	require.NoError(t, err)
	defer ln.Close()
	good, err := ln.ResolvedEndpoint()
	require.NoError(t, err)

	unreachable := Endpoint{Scheme: SchemeTCP, Address: "127.0.0.1:1"}
	peer, err := Dial(context.Background(), []Endpoint{unreachable, good}, AggregationOff, 200*time.Millisecond, logger)
	require.NoError(t, err)
	defer peer.Close()
}

func TestAggregationModeResolve(t *testing.T) {
	require.Equal(t, AggregationOn, AggregationAuto.Resolve(true))
	require.Equal(t, AggregationOff, AggregationAuto.Resolve(false))
	require.Equal(t, AggregationOn, AggregationOn.Resolve(false))
}
