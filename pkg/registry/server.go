// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry implements the rendezvous broker (spec.md §4.4): a
// standalone participant with fixed id 0 and name SilKitRegistry that
// bootstraps the full mesh and then gets out of the data path.
package registry

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/luxfi/log"
	"github.com/luxfi/zap"

	"github.com/vectorgrp/sil-kit-sub006/pkg/transport"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

// Name is the registry's fixed participant name.
const Name = "SilKitRegistry"

// ID is the registry's fixed participant id.
const ID uint64 = 0

// simKey identifies a connected peer uniquely: (simulationName,
// participantName) (spec.md §3).
type simKey struct {
	simulation  string
	participant string
}

type connectedPeer struct {
	info *transport.Peer
	pi   wire.PeerInfo
}

// Registry accepts announcements, answers with the known-peer list,
// and tracks per-simulation membership. It never forwards data
// messages after the handshake (spec.md §4.4).
type Registry struct {
	log log.Logger

	mu          sync.Mutex
	connected   map[simKey]*connectedPeer
	bySimulation map[string]int

	onAllConnected    func(simulation string)
	onAllDisconnected func(simulation string)
}

// New creates an empty Registry.
func New(logger log.Logger) *Registry {
	return &Registry{
		log:          logger,
		connected:    make(map[simKey]*connectedPeer),
		bySimulation: make(map[string]int),
	}
}

// OnAllConnected stores an all-connected callback. Serve never invokes
// it: the Registry does not track which participants are expected, so
// no all-connected event is raised.
func (r *Registry) OnAllConnected(fn func(simulation string)) { r.onAllConnected = fn }

// OnAllDisconnected installs the callback fired when a simulation's
// membership drops to zero.
func (r *Registry) OnAllDisconnected(fn func(simulation string)) { r.onAllDisconnected = fn }

// ErrDuplicateParticipant is the ProtocolError surfaced when a
// (simulation, participant) pair is already connected (spec.md §4.4
// item 2, §8 scenario 6). The newcomer is rejected; the existing
// holder is left untouched (Open Question 1, resolved in SPEC_FULL.md).
var ErrDuplicateParticipant = errors.New("registry: participant already connected for this simulation")

// Serve accepts connections from ln until ctx is done, running the
// handshake protocol of spec.md §4.4 on each.
func (r *Registry) Serve(ctx context.Context, ln *transport.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		case peer, ok := <-ln.Accepted():
			if !ok {
				return
			}
			go r.handleNewPeer(ctx, peer)
		}
	}
}

func (r *Registry) handleNewPeer(ctx context.Context, peer *transport.Peer) {
	var frame wire.Frame
	select {
	case f, ok := <-peer.Frames():
		if !ok {
			return
		}
		frame = f
	case <-ctx.Done():
		_ = peer.Close()
		return
	}

	if frame.Kind != wire.KindParticipantAnnouncement {
		r.log.Warn("registry: expected ParticipantAnnouncement, closing peer", zap.String("kind", frame.Kind.String()))
		_ = peer.Close()
		return
	}
	ann, err := wire.UnmarshalParticipantAnnouncement(frame.Payload)
	if err != nil {
		r.log.Warn("registry: malformed announcement, closing peer", zap.Error(err))
		_ = peer.Close()
		return
	}

	remoteAddr := peerRemoteHost(peer)
	key := simKey{simulation: ann.SimulationName, participant: ann.Peer.ParticipantName}

	r.mu.Lock()
	if _, exists := r.connected[key]; exists {
		r.mu.Unlock()
		r.log.Warn("registry: rejecting duplicate participant",
			zap.String("simulation", key.simulation), zap.String("participant", key.participant))
		_ = peer.Send(wire.KindParticipantAnnouncementReply, wire.MarshalParticipantAnnouncementReply(
			wire.ParticipantAnnouncementReply{Accepted: false, Reason: ErrDuplicateParticipant.Error()}))
		<-peer.Flush()
		_ = peer.Close()
		return
	}

	known := make([]wire.PeerInfo, 0, r.bySimulation[key.simulation])
	for k, cp := range r.connected {
		if k.simulation == key.simulation {
			known = append(known, rewriteAcceptorURIs(cp.pi, remoteAddr))
		}
	}
	r.connected[key] = &connectedPeer{info: peer, pi: ann.Peer}
	r.bySimulation[key.simulation]++
	r.mu.Unlock()

	if err := peer.Send(wire.KindKnownParticipants, wire.MarshalKnownParticipants(wire.KnownParticipants{Peers: known})); err != nil {
		r.log.Warn("registry: failed to send known participants", zap.Error(err))
	}

	peer.OnClose(func(error) {
		r.removePeer(key)
	})
}

func (r *Registry) removePeer(key simKey) {
	r.mu.Lock()
	if _, ok := r.connected[key]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.connected, key)
	r.bySimulation[key.simulation]--
	remaining := r.bySimulation[key.simulation]
	if remaining <= 0 {
		delete(r.bySimulation, key.simulation)
	}
	r.mu.Unlock()

	if remaining <= 0 && r.onAllDisconnected != nil {
		r.onAllDisconnected(key.simulation)
	}
}

// rewriteAcceptorURIs transforms a known peer's acceptor URIs to be
// reachable from the joining peer: loopback TCP addresses are rewritten
// to the registry-observed remote IP, and local-IPC URIs are retained
// only when both peers live on the same host (spec.md §4.4 item 3).
// Without a per-peer notion of "same host" beyond the registry's own
// vantage point, this only rewrites loopback TCP and otherwise passes
// URIs through unchanged.
func rewriteAcceptorURIs(pi wire.PeerInfo, joinerRemoteHost string) wire.PeerInfo {
	if joinerRemoteHost == "" {
		return pi
	}
	rewritten := make([]string, len(pi.AcceptorURIs))
	for i, uri := range pi.AcceptorURIs {
		ep, err := transport.ParseEndpoint(uri)
		if err != nil || ep.Scheme != transport.SchemeTCP {
			rewritten[i] = uri
			continue
		}
		host, port, ok := strings.Cut(ep.Address, ":")
		if !ok || !isLoopback(host) {
			rewritten[i] = uri
			continue
		}
		rewritten[i] = "silkit://" + joinerRemoteHost + ":" + port
	}
	out := pi
	out.AcceptorURIs = rewritten
	return out
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func peerRemoteHost(peer *transport.Peer) string {
	addr := peer.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
