// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"context"
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/vectorgrp/sil-kit-sub006/pkg/conn"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func TestBroadcastDeliversLocally(t *testing.T) {
	c := conn.New("P1", log.NewNoOpLogger())
	r := New(c, log.NewNoOpLogger())

	key := conn.ReceiverKey{Kind: wire.KindDataMessageEvent, LinkID: "T"}
	var delivered bool
	r.AddReceiver(key, func(from wire.ServiceDescriptor, payload []byte) { delivered = true })

	require.NoError(t, r.Broadcast(wire.ServiceDescriptor{ParticipantName: "P1"}, key,
		wire.MarshalDataMessageEvent(wire.DataMessageEvent{LinkID: "T", Payload: []byte{1}}), 0))
	require.True(t, delivered)
}

func TestExecuteDeferredRunsOnConnection(t *testing.T) {
	c := conn.New("P1", log.NewNoOpLogger())
	r := New(c, log.NewNoOpLogger())

	done := make(chan struct{})
	r.ExecuteDeferred(func() { close(done) })

	go c.Run(testContext(t))
	<-done
}
