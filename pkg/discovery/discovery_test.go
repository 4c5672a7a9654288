// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package discovery

import (
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/vectorgrp/sil-kit-sub006/pkg/conn"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

func TestCreateServiceAssignsMonotonicIDs(t *testing.T) {
	d := New("P1", conn.New("P1", log.NewNoOpLogger()), log.NewNoOpLogger())
	d1 := d.CreateService(wire.ServiceDescriptor{ServiceName: "CanWriter"})
	d2 := d.CreateService(wire.ServiceDescriptor{ServiceName: "CanReader"})
	require.Equal(t, uint64(1), d1.ServiceID)
	require.Equal(t, uint64(2), d2.ServiceID)
	require.Equal(t, "P1", d1.ParticipantName)
}

func TestAddHandlerReplaysKnownSet(t *testing.T) {
	d := New("P1", conn.New("P1", log.NewNoOpLogger()), log.NewNoOpLogger())
	d.CreateService(wire.ServiceDescriptor{ServiceName: "CanWriter", ServiceType: wire.ServiceController})

	var seen []wire.ServiceDescriptor
	d.AddHandler(func(wire.ServiceDescriptor) bool { return true }, func(ev wire.ServiceDiscoveryEvent) {
		seen = append(seen, ev.Descriptor)
	})
	require.Len(t, seen, 1)
	require.Equal(t, "CanWriter", seen[0].ServiceName)
}

func TestAddHandlerFiltersByPredicate(t *testing.T) {
	d := New("P1", conn.New("P1", log.NewNoOpLogger()), log.NewNoOpLogger())
	d.CreateService(wire.ServiceDescriptor{ServiceName: "CanWriter", ServiceType: wire.ServiceController})
	d.CreateService(wire.ServiceDescriptor{ServiceName: "Lifecycle", ServiceType: wire.ServiceInternalController})

	var seen int
	d.AddHandler(func(desc wire.ServiceDescriptor) bool {
		return desc.ServiceType == wire.ServiceController
	}, func(wire.ServiceDiscoveryEvent) { seen++ })
	require.Equal(t, 1, seen)
}

func TestRemoveServiceFiresRemovalEvent(t *testing.T) {
	d := New("P1", conn.New("P1", log.NewNoOpLogger()), log.NewNoOpLogger())
	desc := d.CreateService(wire.ServiceDescriptor{ServiceName: "CanWriter"})

	var lastKind wire.DiscoveryEventKind
	count := 0
	d.AddHandler(func(wire.ServiceDescriptor) bool { return true }, func(ev wire.ServiceDiscoveryEvent) {
		count++
		lastKind = ev.EventKind
	})
	require.Equal(t, 1, count) // replay of the create

	d.RemoveService(desc.ServiceID)
	require.Equal(t, 2, count)
	require.Equal(t, wire.ServiceRemoved, lastKind)
}

func TestOnPeerDisconnectedSynthesizesRemoval(t *testing.T) {
	d := New("P1", conn.New("P1", log.NewNoOpLogger()), log.NewNoOpLogger())
	remote := wire.ServiceDescriptor{ParticipantName: "P2", ServiceID: 5, ServiceName: "CanReader"}
	d.recordRemote("P2", wire.ServiceDiscoveryEvent{EventKind: wire.ServiceCreated, Descriptor: remote})

	var removed []wire.ServiceDescriptor
	d.AddHandler(func(wire.ServiceDescriptor) bool { return true }, func(ev wire.ServiceDiscoveryEvent) {
		if ev.EventKind == wire.ServiceRemoved {
			removed = append(removed, ev.Descriptor)
		}
	})

	d.OnPeerDisconnected("P2")
	require.Len(t, removed, 1)
	require.Equal(t, "CanReader", removed[0].ServiceName)
}
