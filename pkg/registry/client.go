// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/luxfi/log"

	"github.com/vectorgrp/sil-kit-sub006/pkg/transport"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

// Join performs steps 1-3 of the bootstrap protocol (spec.md §4.4):
// dial the registry, announce self, and return the list of peers
// already in the same simulation. The caller (pkg/participant) is
// responsible for step 4, opening direct connections to each returned
// peer and repeating the announcement exchange with it.
func Join(ctx context.Context, registryEndpoints []transport.Endpoint, self wire.PeerInfo, simulationName string, connectTimeout time.Duration, logger log.Logger) (*transport.Peer, []wire.PeerInfo, error) {
	peer, err := transport.Dial(ctx, registryEndpoints, transport.AggregationOff, connectTimeout, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: dial failed: %w", err)
	}

	ann := wire.ParticipantAnnouncement{Peer: self, SimulationName: simulationName}
	if err := peer.Send(wire.KindParticipantAnnouncement, wire.MarshalParticipantAnnouncement(ann)); err != nil {
		_ = peer.Close()
		return nil, nil, fmt.Errorf("registry: send announcement: %w", err)
	}

	select {
	case frame, ok := <-peer.Frames():
		if !ok {
			return nil, nil, fmt.Errorf("registry: connection closed before reply: %w", peer.Err())
		}
		switch frame.Kind {
		case wire.KindParticipantAnnouncementReply:
			reply, err := wire.UnmarshalParticipantAnnouncementReply(frame.Payload)
			if err != nil {
				_ = peer.Close()
				return nil, nil, fmt.Errorf("registry: malformed reply: %w", err)
			}
			_ = peer.Close()
			return nil, nil, fmt.Errorf("registry: join rejected: %s", reply.Reason)
		case wire.KindKnownParticipants:
			known, err := wire.UnmarshalKnownParticipants(frame.Payload)
			if err != nil {
				_ = peer.Close()
				return nil, nil, fmt.Errorf("registry: malformed known-participants: %w", err)
			}
			return peer, known.Peers, nil
		default:
			_ = peer.Close()
			return nil, nil, fmt.Errorf("registry: unexpected frame kind %s from registry", frame.Kind)
		}
	case <-ctx.Done():
		_ = peer.Close()
		return nil, nil, ctx.Err()
	}
}

// AnnounceDirect performs the peer-to-peer announcement exchange used
// for step 4 of the bootstrap protocol and for hop-on reconnects:
// send our PeerInfo, then read and validate the remote's.
func AnnounceDirect(ctx context.Context, peer *transport.Peer, self wire.PeerInfo, simulationName string) (wire.PeerInfo, error) {
	ann := wire.ParticipantAnnouncement{Peer: self, SimulationName: simulationName}
	if err := peer.Send(wire.KindParticipantAnnouncement, wire.MarshalParticipantAnnouncement(ann)); err != nil {
		return wire.PeerInfo{}, err
	}
	select {
	case frame, ok := <-peer.Frames():
		if !ok {
			return wire.PeerInfo{}, fmt.Errorf("registry: peer closed before announcement: %w", peer.Err())
		}
		if frame.Kind != wire.KindParticipantAnnouncement {
			return wire.PeerInfo{}, fmt.Errorf("registry: expected ParticipantAnnouncement, got %s", frame.Kind)
		}
		remote, err := wire.UnmarshalParticipantAnnouncement(frame.Payload)
		if err != nil {
			return wire.PeerInfo{}, err
		}
		if remote.Peer.Version.Major != self.Version.Major {
			return wire.PeerInfo{}, fmt.Errorf("registry: incompatible protocol version %s (we speak %s)",
				remote.Peer.Version, self.Version)
		}
		return remote.Peer, nil
	case <-ctx.Done():
		return wire.PeerInfo{}, ctx.Err()
	}
}
