// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package participant

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/vectorgrp/sil-kit-sub006/pkg/registry"
	"github.com/vectorgrp/sil-kit-sub006/pkg/transport"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

// startRegistry starts a loopback registry and returns its effective
// listenUri, mirroring spec.md §4.4's bootstrap broker.
func startRegistry(t *testing.T, ctx context.Context, logger log.Logger) string {
	t.Helper()
	ln, err := transport.Listen(transport.Endpoint{Scheme: transport.SchemeTCP, Address: "127.0.0.1:0"}, transport.AggregationOff, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	resolved, err := ln.ResolvedEndpoint()
	require.NoError(t, err)

	reg := registry.New(logger)
	go reg.Serve(ctx, ln)
	return resolved.String()
}

func newTestParticipant(t *testing.T, ctx context.Context, registryURI, simName, name string, logger log.Logger) *Participant {
	t.Helper()
	ln, err := transport.Listen(transport.Endpoint{Scheme: transport.SchemeTCP, Address: "127.0.0.1:0"}, transport.AggregationOff, logger)
	require.NoError(t, err)
	resolved, err := ln.ResolvedEndpoint()
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	opts := Options{
		SimulationName: simName,
		ParticipantName: name,
		RegistryURI:     registryURI,
		ListenURI:       resolved.String(),
		ConnectTimeout:  time.Second,
		Mode:            0,
	}
	p, err := New(ctx, opts, logger)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

// TestTwoParticipantPubSubPing implements spec.md §8 scenario 1: P1
// publishes on topic "T" media "m", P2 subscribes to the same, and
// within a bounded wait P2 observes exactly one message.
func TestTwoParticipantPubSubPing(t *testing.T) {
	logger := log.NewNoOpLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registryURI := startRegistry(t, ctx, logger)

	p1 := newTestParticipant(t, ctx, registryURI, "Sim1", "P1", logger)
	p2 := newTestParticipant(t, ctx, registryURI, "Sim1", "P2", logger)

	received := make(chan []byte, 4)
	p2.CreateDataSubscriber("Sub", "T", "m", nil, false, func(from wire.ServiceDescriptor, payload []byte, ts int64) {
		received <- payload
	})

	// Give P1 time to register its inbound connection from P2 before
	// the publisher is created, so the publisher's announcement and the
	// published message are both sent to P2.
	time.Sleep(50 * time.Millisecond)

	pub := p1.CreateDataPublisher("Pub", "T", "m", nil)
	require.NoError(t, pub.Publish([]byte{0x01}))

	select {
	case payload := <-received:
		require.Equal(t, []byte{0x01}, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscriber to observe published message")
	}

	select {
	case extra := <-received:
		t.Fatalf("observed unexpected extra message: %v", extra)
	default:
	}
}

// TestRpcClientServerRoundTrip exercises the symmetric RPC pairing of
// spec.md §4.6: a client call is answered by the matched server and
// the response carries the same payload back.
func TestRpcClientServerRoundTrip(t *testing.T) {
	logger := log.NewNoOpLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registryURI := startRegistry(t, ctx, logger)

	p1 := newTestParticipant(t, ctx, registryURI, "Sim2", "Caller", logger)
	p2 := newTestParticipant(t, ctx, registryURI, "Sim2", "Callee", logger)

	p2.CreateRpcServer("Server", "Double", "", nil, func(from wire.ServiceDescriptor, callHandle uint64, payload []byte) []byte {
		out := make([]byte, len(payload))
		for i, b := range payload {
			out[i] = b * 2
		}
		return out
	})

	client := p1.CreateRpcClient("Client", "Double", "", nil)
	time.Sleep(50 * time.Millisecond)

	callCtx, callCancel := context.WithTimeout(ctx, 2*time.Second)
	defer callCancel()
	resp, err := client.Call(callCtx, []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, []byte{2, 4, 6}, resp.Payload)
}
