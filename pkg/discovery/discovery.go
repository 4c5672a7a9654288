// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package discovery implements the per-participant service-discovery
// controller (spec.md §4.5): it announces local service
// creation/removal to peers, replays the current known set to local
// handlers at registration time and to newly connected peers, and
// synthesizes removal events when a peer disconnects.
package discovery

import (
	"sync"

	"github.com/luxfi/log"
	"github.com/luxfi/zap"

	"github.com/vectorgrp/sil-kit-sub006/pkg/conn"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

// Predicate selects which events a registered Handler is interested
// in, by ServiceType and supplemental-data keys (spec.md §4.5).
type Predicate func(wire.ServiceDescriptor) bool

// Handler observes every matching discovery event, including the
// replay of already-known services performed synchronously at
// AddHandler time.
type Handler func(wire.ServiceDiscoveryEvent)

type registeredHandler struct {
	predicate Predicate
	handler   Handler
}

// Discovery tracks this participant's own live services plus every
// descriptor learned from peers, and drives the notification rules of
// spec.md §4.5.
type Discovery struct {
	log      log.Logger
	conn     *conn.Connection
	selfName string

	mu            sync.Mutex
	nextServiceID uint64
	own           map[uint64]wire.ServiceDescriptor
	fromPeer      map[string]map[uint64]wire.ServiceDescriptor
	handlers      []registeredHandler
}

// New creates a Discovery for the participant named selfName, wired
// to c for broadcasting and inbound dispatch.
func New(selfName string, c *conn.Connection, logger log.Logger) *Discovery {
	d := &Discovery{
		log:      logger,
		conn:     c,
		selfName: selfName,
		own:      make(map[uint64]wire.ServiceDescriptor),
		fromPeer: make(map[string]map[uint64]wire.ServiceDescriptor),
	}
	c.AddReceiver(conn.ReceiverKey{Kind: wire.KindServiceDiscoveryEvent}, d.handleRemoteEvent)
	c.AddReceiver(conn.ReceiverKey{Kind: wire.KindParticipantDiscoveryEvent}, d.handleRemoteSnapshot)
	return d
}

// CreateService allocates the next monotonically increasing serviceId
// for desc (spec.md §3: "never reused within a participant's
// lifetime"), records it as locally live, and broadcasts
// ServiceCreated to every connected peer and every local handler whose
// predicate matches.
func (d *Discovery) CreateService(desc wire.ServiceDescriptor) wire.ServiceDescriptor {
	d.mu.Lock()
	d.nextServiceID++
	desc.ParticipantName = d.selfName
	desc.ServiceID = d.nextServiceID
	d.own[desc.ServiceID] = desc
	d.mu.Unlock()

	d.announce(wire.ServiceDiscoveryEvent{EventKind: wire.ServiceCreated, Descriptor: desc})
	return desc
}

// RemoveService tears down the local service serviceID and broadcasts
// ServiceRemoved (spec.md §4.5 removal trigger (a)).
func (d *Discovery) RemoveService(serviceID uint64) {
	d.mu.Lock()
	desc, ok := d.own[serviceID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.own, serviceID)
	d.mu.Unlock()

	d.announce(wire.ServiceDiscoveryEvent{EventKind: wire.ServiceRemoved, Descriptor: desc})
}

func (d *Discovery) announce(ev wire.ServiceDiscoveryEvent) {
	d.dispatchLocal(ev)
	from := wire.ServiceDescriptor{ParticipantName: d.selfName}
	key := conn.ReceiverKey{Kind: wire.KindServiceDiscoveryEvent}
	payload := wire.MarshalServiceDiscoveryEvent(ev)
	for _, name := range d.conn.PeerNames() {
		if err := d.conn.SendMsgTo(from, name, key, payload); err != nil {
			d.log.Warn("discovery: failed to announce event", zap.String("peer", name), zap.Error(err))
		}
	}
}

// AddHandler registers fn for every future event whose descriptor
// matches predicate, and immediately replays the current known set —
// own services and every descriptor already learned from peers — so a
// late registrant sees pre-existing services without racing the
// handshake (spec.md §4.5).
func (d *Discovery) AddHandler(predicate Predicate, fn Handler) {
	d.mu.Lock()
	d.handlers = append(d.handlers, registeredHandler{predicate: predicate, handler: fn})
	replay := make([]wire.ServiceDescriptor, 0, len(d.own))
	for _, desc := range d.own {
		replay = append(replay, desc)
	}
	for _, descs := range d.fromPeer {
		for _, desc := range descs {
			replay = append(replay, desc)
		}
	}
	d.mu.Unlock()

	for _, desc := range replay {
		if predicate(desc) {
			fn(wire.ServiceDiscoveryEvent{EventKind: wire.ServiceCreated, Descriptor: desc})
		}
	}
}

func (d *Discovery) dispatchLocal(ev wire.ServiceDiscoveryEvent) {
	d.mu.Lock()
	handlers := append([]registeredHandler(nil), d.handlers...)
	d.mu.Unlock()
	for _, h := range handlers {
		if h.predicate(ev.Descriptor) {
			h.handler(ev)
		}
	}
}

func (d *Discovery) handleRemoteEvent(from wire.ServiceDescriptor, payload []byte) {
	ev, err := wire.UnmarshalServiceDiscoveryEvent(payload)
	if err != nil {
		d.log.Warn("discovery: malformed ServiceDiscoveryEvent", zap.Error(err))
		return
	}
	d.recordRemote(from.ParticipantName, ev)
	d.dispatchLocal(ev)
}

func (d *Discovery) handleRemoteSnapshot(from wire.ServiceDescriptor, payload []byte) {
	snap, err := wire.UnmarshalParticipantDiscoveryEvent(payload)
	if err != nil {
		d.log.Warn("discovery: malformed ParticipantDiscoveryEvent", zap.Error(err))
		return
	}
	for _, desc := range snap.Descriptors {
		ev := wire.ServiceDiscoveryEvent{EventKind: wire.ServiceCreated, Descriptor: desc}
		d.recordRemote(desc.ParticipantName, ev)
		d.dispatchLocal(ev)
	}
}

func (d *Discovery) recordRemote(peerName string, ev wire.ServiceDiscoveryEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	descs, ok := d.fromPeer[peerName]
	if !ok {
		descs = make(map[uint64]wire.ServiceDescriptor)
		d.fromPeer[peerName] = descs
	}
	switch ev.EventKind {
	case wire.ServiceCreated:
		descs[ev.Descriptor.ServiceID] = ev.Descriptor
	case wire.ServiceRemoved:
		delete(descs, ev.Descriptor.ServiceID)
	}
}

// SnapshotEvent builds the ParticipantDiscoveryEvent of this
// participant's currently-live services, sent to every newly
// connecting peer so late joiners learn pre-existing services
// (spec.md §4.5).
func (d *Discovery) SnapshotEvent() wire.ParticipantDiscoveryEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	descs := make([]wire.ServiceDescriptor, 0, len(d.own))
	for _, desc := range d.own {
		descs = append(descs, desc)
	}
	return wire.ParticipantDiscoveryEvent{Descriptors: descs}
}

// OnPeerConnected sends this participant's live-service snapshot to
// peerName (spec.md §4.5: "each participant re-emits its own service
// set during the handshake").
func (d *Discovery) OnPeerConnected(peerName string) {
	key := conn.ReceiverKey{Kind: wire.KindParticipantDiscoveryEvent}
	from := wire.ServiceDescriptor{ParticipantName: d.selfName}
	payload := wire.MarshalParticipantDiscoveryEvent(d.SnapshotEvent())
	if err := d.conn.SendMsgTo(from, peerName, key, payload); err != nil {
		d.log.Warn("discovery: failed to send snapshot", zap.String("peer", peerName), zap.Error(err))
	}
}

// OnPeerDisconnected synthesizes ServiceRemoved for every descriptor
// previously announced by peerName (spec.md §4.5 removal trigger (b)).
func (d *Discovery) OnPeerDisconnected(peerName string) {
	d.mu.Lock()
	descs := d.fromPeer[peerName]
	delete(d.fromPeer, peerName)
	d.mu.Unlock()

	for _, desc := range descs {
		d.dispatchLocal(wire.ServiceDiscoveryEvent{EventKind: wire.ServiceRemoved, Descriptor: desc})
	}
}
