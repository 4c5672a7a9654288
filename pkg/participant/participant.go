// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package participant wires the connection, discovery, system-state,
// lifecycle, time-sync, and metrics layers into one live simulation
// participant (spec.md §2's control flow): it owns every controller's
// dependencies with stable addresses, and controllers reach back into
// the core only through the router/discovery handles handed to them,
// never by holding pointers inside wire messages.
package participant

import (
	"context"
	"fmt"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/zap"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vectorgrp/sil-kit-sub006/pkg/conn"
	"github.com/vectorgrp/sil-kit-sub006/pkg/discovery"
	"github.com/vectorgrp/sil-kit-sub006/pkg/lifecycle"
	"github.com/vectorgrp/sil-kit-sub006/pkg/metrics"
	"github.com/vectorgrp/sil-kit-sub006/pkg/registry"
	"github.com/vectorgrp/sil-kit-sub006/pkg/router"
	"github.com/vectorgrp/sil-kit-sub006/pkg/systemstate"
	"github.com/vectorgrp/sil-kit-sub006/pkg/timesync"
	"github.com/vectorgrp/sil-kit-sub006/pkg/transport"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

// Options configures participant construction (spec.md §6.2's
// middleware section plus the programmatic parameters every
// CreateParticipant call takes).
type Options struct {
	SimulationName string
	ParticipantName string

	RegistryURI    string
	ListenURI      string // empty disables the inbound acceptor
	ConnectTimeout time.Duration
	Aggregation    transport.AggregationMode

	Mode                 lifecycle.OperationMode
	RequiredParticipants []string
	TimeSync             timesync.Config
}

// Participant is one live node of the simulation: the connection, its
// peers, and every core service built on top of it.
type Participant struct {
	log  log.Logger
	self wire.PeerInfo
	opts Options

	Conn      *conn.Connection
	Router    *router.Router
	Discovery *discovery.Discovery
	Tracker   *systemstate.Tracker
	FSM       *lifecycle.FSM
	Barrier   *timesync.Barrier
	Metrics   *metrics.Registry

	registryPeer *transport.Peer
	listener     *transport.Listener

	statusSeq int64
}

// New builds a Participant, joins the registry named by
// opts.RegistryURI, and opens direct connections to every peer the
// registry reports already in the simulation (spec.md §4.4 steps 1-4).
// If opts.ListenURI is set, it also starts accepting inbound peer
// connections.
func New(ctx context.Context, opts Options, logger log.Logger) (*Participant, error) {
	id := deriveParticipantID(opts.SimulationName, opts.ParticipantName)

	var acceptorURIs []string
	var ln *transport.Listener
	if opts.ListenURI != "" {
		ep, err := transport.ParseEndpoint(opts.ListenURI)
		if err != nil {
			return nil, fmt.Errorf("participant: %w", err)
		}
		ln, err = transport.Listen(ep, opts.Aggregation, logger)
		if err != nil {
			return nil, fmt.Errorf("participant: listen: %w", err)
		}
		resolved, err := ln.ResolvedEndpoint()
		if err != nil {
			return nil, fmt.Errorf("participant: resolve listen endpoint: %w", err)
		}
		acceptorURIs = []string{resolved.String()}
	}

	self := wire.PeerInfo{
		ParticipantName: opts.ParticipantName,
		ParticipantID:   id,
		AcceptorURIs:    acceptorURIs,
		Version:         wire.CurrentProtocolVersion,
		SimulationName:  opts.SimulationName,
	}

	c := conn.New(opts.ParticipantName, logger)
	r := router.New(c, logger)
	d := discovery.New(opts.ParticipantName, c, logger)
	tracker := systemstate.New(opts.RequiredParticipants, logger)
	fsm := lifecycle.New(opts.Mode, tracker.Gate, logger)
	barrier := timesync.New(opts.ParticipantName, c, fsm, opts.TimeSync, logger)
	metricsReg := metrics.NewRegistry(prometheus.NewRegistry())

	p := &Participant{
		log: logger, self: self, opts: opts,
		Conn: c, Router: r, Discovery: d, Tracker: tracker, FSM: fsm, Barrier: barrier, Metrics: metricsReg,
		listener: ln,
	}

	c.AddReceiver(conn.ReceiverKey{Kind: wire.KindParticipantStatus}, p.handleRemoteStatus)
	c.AddReceiver(conn.ReceiverKey{Kind: wire.KindWorkflowConfiguration}, p.handleWorkflowConfiguration)

	go c.Run(ctx)

	if ln != nil {
		go p.acceptLoop(ctx, ln)
	}

	registryEndpoints, err := parseEndpoints(opts.RegistryURI)
	if err != nil {
		return nil, fmt.Errorf("participant: %w", err)
	}
	registryPeer, known, err := registry.Join(ctx, registryEndpoints, self, opts.SimulationName, opts.ConnectTimeout, logger)
	if err != nil {
		return nil, err
	}
	p.registryPeer = registryPeer

	for _, peerInfo := range known {
		if err := p.connectPeer(ctx, peerInfo); err != nil {
			logger.Warn("participant: failed to connect to known peer",
				zap.String("peer", peerInfo.ParticipantName), zap.Error(err))
		}
	}

	return p, nil
}

func parseEndpoints(uri string) ([]transport.Endpoint, error) {
	ep, err := transport.ParseEndpoint(uri)
	if err != nil {
		return nil, err
	}
	return []transport.Endpoint{ep}, nil
}

// acceptLoop wires every inbound connection into the same
// announce-then-register pipeline used for outbound connects.
func (p *Participant) acceptLoop(ctx context.Context, ln *transport.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		case peer, ok := <-ln.Accepted():
			if !ok {
				return
			}
			go p.handleInboundPeer(ctx, peer)
		}
	}
}

func (p *Participant) handleInboundPeer(ctx context.Context, peer *transport.Peer) {
	remote, err := registry.AnnounceDirect(ctx, peer, p.self, p.opts.SimulationName)
	if err != nil {
		p.log.Warn("participant: inbound announcement failed", zap.Error(err))
		_ = peer.Close()
		return
	}
	p.registerPeer(remote.ParticipantName, peer)
}

func (p *Participant) connectPeer(ctx context.Context, remote wire.PeerInfo) error {
	endpoints := make([]transport.Endpoint, 0, len(remote.AcceptorURIs))
	for _, uri := range remote.AcceptorURIs {
		ep, err := transport.ParseEndpoint(uri)
		if err != nil {
			p.log.Warn("participant: skipping malformed acceptor uri", zap.String("uri", uri), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, ep)
	}
	peer, err := transport.Dial(ctx, endpoints, p.opts.Aggregation, p.opts.ConnectTimeout, p.log)
	if err != nil {
		return fmt.Errorf("participant: dial %s: %w", remote.ParticipantName, err)
	}
	if _, err := registry.AnnounceDirect(ctx, peer, p.self, p.opts.SimulationName); err != nil {
		_ = peer.Close()
		return err
	}
	p.registerPeer(remote.ParticipantName, peer)
	return nil
}

func (p *Participant) registerPeer(name string, peer *transport.Peer) {
	p.Conn.AddPeer(name, peer)
	p.Discovery.OnPeerConnected(name)
	peer.OnClose(func(error) {
		p.Conn.ExecuteDeferred(func() {
			p.Discovery.OnPeerDisconnected(name)
			p.synthesizeDisconnectStatus(name)
		})
	})
}

// synthesizeDisconnectStatus ingests the status a disconnected peer
// would have published itself had it shut down cleanly. A transport
// close is not evidence of a graceful Shutdown: per
// _examples/original_source/SilKit/source/services/orchestration/
// SystemMonitor.cpp's OnParticipantDisconnected, a peer whose last
// known state was already Shutdown is left alone, but anything else is
// an ungraceful loss and must surface as Error so a required
// participant's crash propagates to SystemState::Error instead of
// being mistaken for a clean exit by any Gate waiter (spec.md §4.9).
func (p *Participant) synthesizeDisconnectStatus(name string) {
	if last, ok := p.Tracker.LastStatus(name); ok && lifecycle.State(last.State) == lifecycle.Shutdown {
		return
	}
	now := time.Now().UnixNano()
	p.Tracker.Ingest(wire.ParticipantStatus{
		ParticipantName: name,
		State:           uint8(lifecycle.Error),
		EnterReason:     "Connection Lost",
		EnterTime:       now,
		RefreshTime:     now,
	})
}

func (p *Participant) handleRemoteStatus(from wire.ServiceDescriptor, payload []byte) {
	status, err := wire.UnmarshalParticipantStatus(payload)
	if err != nil {
		p.log.Warn("participant: malformed ParticipantStatus", zap.Error(err))
		return
	}
	p.Tracker.Ingest(status)
}

func (p *Participant) handleWorkflowConfiguration(from wire.ServiceDescriptor, payload []byte) {
	cfg, err := wire.UnmarshalWorkflowConfiguration(payload)
	if err != nil {
		p.log.Warn("participant: malformed WorkflowConfiguration", zap.Error(err))
		return
	}
	p.Tracker.SetRequiredParticipants(cfg.RequiredParticipantNames)
}

// SetRequiredParticipants installs the required-participant set
// locally and broadcasts it, the way a designated system-controller
// service configures every other participant's coordination gate
// (spec.md §4.9).
func (p *Participant) SetRequiredParticipants(names []string) {
	p.Tracker.SetRequiredParticipants(names)
	cfg := wire.WorkflowConfiguration{RequiredParticipantNames: names}
	key := conn.ReceiverKey{Kind: wire.KindWorkflowConfiguration}
	payload := wire.MarshalWorkflowConfiguration(cfg)
	from := wire.ServiceDescriptor{ParticipantName: p.opts.ParticipantName}
	for _, name := range p.Conn.PeerNames() {
		if err := p.Conn.SendMsgTo(from, name, key, payload); err != nil {
			p.log.Warn("participant: failed to broadcast workflow configuration", zap.String("peer", name), zap.Error(err))
		}
	}
}

// PublishStatus broadcasts this participant's current lifecycle state
// to every peer and to its own tracker, the ParticipantStatus ingress
// the system-state aggregate is built from (spec.md §4.9).
func (p *Participant) PublishStatus(reason string) {
	p.statusSeq++
	now := time.Now().UnixNano()
	status := wire.ParticipantStatus{
		ParticipantName: p.opts.ParticipantName,
		State:           uint8(p.FSM.State()),
		EnterReason:     reason,
		EnterTime:       now,
		RefreshTime:     now,
	}
	p.Tracker.Ingest(status)

	key := conn.ReceiverKey{Kind: wire.KindParticipantStatus}
	payload := wire.MarshalParticipantStatus(status)
	from := wire.ServiceDescriptor{ParticipantName: p.opts.ParticipantName}
	for _, name := range p.Conn.PeerNames() {
		if err := p.Conn.SendMsgTo(from, name, key, payload); err != nil {
			p.log.Warn("participant: failed to publish status", zap.String("peer", name), zap.Error(err))
		}
	}
}

// Close tears down every inbound/outbound connection and stops
// accepting new ones.
func (p *Participant) Close() {
	if p.listener != nil {
		_ = p.listener.Close()
	}
	if p.registryPeer != nil {
		_ = p.registryPeer.Close()
	}
	for _, name := range p.Conn.PeerNames() {
		if peer, ok := p.Conn.Peer(name); ok {
			_ = peer.Close()
		}
	}
}

// Self returns the PeerInfo this participant announced.
func (p *Participant) Self() wire.PeerInfo { return p.self }
