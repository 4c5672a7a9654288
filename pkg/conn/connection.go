// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package conn implements the connection layer (spec.md §4.3): the set
// of peers, the in-process receiver table, and the single I/O progress
// context every dispatch, send, and deferred call runs on (spec.md §5).
package conn

import (
	"context"
	"sync"

	"github.com/luxfi/log"
	"github.com/luxfi/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vectorgrp/sil-kit-sub006/pkg/transport"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

// ReceiverKey identifies a local receiver slot: a message kind on a
// named link (spec.md §4.3).
type ReceiverKey struct {
	Kind   wire.Kind
	LinkID string
}

// Handler is a local endpoint's callback for one ReceiverKey. from is
// the originating service descriptor, payload the kind-specific body.
type Handler func(from wire.ServiceDescriptor, payload []byte)

type frameFromPeer struct {
	peerName string
	frame    wire.Frame
}

// Connection owns peers and local receivers for one participant. Its
// maps are guarded by mu. Handlers for inbound frames, and deferred
// closures, run on the single goroutine started by Run — the "I/O
// progress context" of spec.md §5; SendMsg's delivery to local
// receivers runs on the caller's goroutine.
type Connection struct {
	log      log.Logger
	selfName string

	mu        sync.RWMutex
	peers     map[string]*transport.Peer
	receivers map[ReceiverKey][]Handler
	// remoteReceivers records, per ReceiverKey, the set of participant
	// names a caller has explicitly registered as having a matched
	// receiver, for GetNumberOfRemoteReceivers/
	// GetParticipantNamesOfRemoteReceivers accounting (spec.md §4.3).
	// SendMsg itself floods every connected peer regardless of this set.
	remoteReceivers map[ReceiverKey]map[string]struct{}
	history         map[string][]byte // last payload per link, depth-1 history (spec.md §4.6)

	deferredCh chan func()
	inboundCh  chan frameFromPeer
}

// New creates a Connection for the participant named selfName.
func New(selfName string, logger log.Logger) *Connection {
	return &Connection{
		log:             logger,
		selfName:        selfName,
		peers:           make(map[string]*transport.Peer),
		receivers:       make(map[ReceiverKey][]Handler),
		remoteReceivers: make(map[ReceiverKey]map[string]struct{}),
		history:         make(map[string][]byte),
		deferredCh:      make(chan func(), 256),
		inboundCh:       make(chan frameFromPeer, 256),
	}
}

// Run drains deferred closures and dispatches inbound frames until ctx
// is done. It must be started on its own goroutine exactly once; all
// inbound-frame dispatch and deferred work happens here, never
// concurrently (spec.md §5).
func (c *Connection) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.deferredCh:
			fn()
		case ff := <-c.inboundCh:
			c.dispatchRemote(ff)
		}
	}
}

// ExecuteDeferred schedules fn to run on the I/O progress context.
func (c *Connection) ExecuteDeferred(fn func()) {
	c.deferredCh <- fn
}

// AddPeer registers a connected peer and starts forwarding its frames
// into the dispatch loop. It is removed automatically when the peer's
// transport closes.
func (c *Connection) AddPeer(name string, peer *transport.Peer) {
	c.mu.Lock()
	c.peers[name] = peer
	c.mu.Unlock()

	go func() {
		for frame := range peer.Frames() {
			c.inboundCh <- frameFromPeer{peerName: name, frame: frame}
		}
	}()
	peer.OnClose(func(err error) {
		c.ExecuteDeferred(func() {
			c.removePeer(name)
		})
	})
}

func (c *Connection) removePeer(name string) {
	c.mu.Lock()
	delete(c.peers, name)
	for _, names := range c.remoteReceivers {
		delete(names, name)
	}
	c.mu.Unlock()
}

// Peer returns the connected peer named name, if any.
func (c *Connection) Peer(name string) (*transport.Peer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.peers[name]
	return p, ok
}

// PeerNames returns the names of all currently connected peers.
func (c *Connection) PeerNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.peers))
	for name := range c.peers {
		names = append(names, name)
	}
	return names
}

// AddReceiver registers a local Handler for key. Registration never
// replaces previously delivered history: callers that need the
// history replay rule read HistoryFor themselves (spec.md §4.6).
func (c *Connection) AddReceiver(key ReceiverKey, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivers[key] = append(c.receivers[key], h)
}

// AddRemoteReceiver records that participantName has a matched
// receiver for key, for GetNumberOfRemoteReceivers/
// GetParticipantNamesOfRemoteReceivers. It does not change which peers
// SendMsg sends to: SendMsg floods every connected peer.
func (c *Connection) AddRemoteReceiver(key ReceiverKey, participantName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.remoteReceivers[key]
	if !ok {
		set = make(map[string]struct{})
		c.remoteReceivers[key] = set
	}
	set[participantName] = struct{}{}
}

// RemoveRemoteReceiver undoes AddRemoteReceiver.
func (c *Connection) RemoveRemoteReceiver(key ReceiverKey, participantName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.remoteReceivers[key]; ok {
		delete(set, participantName)
	}
}

// GetNumberOfRemoteReceivers reflects the state at the moment of the
// call (spec.md §4.3): no snapshots.
func (c *Connection) GetNumberOfRemoteReceivers(key ReceiverKey) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.remoteReceivers[key])
}

// GetParticipantNamesOfRemoteReceivers mirrors
// GetNumberOfRemoteReceivers but returns the names.
func (c *Connection) GetParticipantNamesOfRemoteReceivers(key ReceiverKey) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.remoteReceivers[key]
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	return names
}

// SendMsg broadcasts payload on key.LinkID to every connected peer, and
// delivers locally first if the sending service has local subscribers —
// synchronously, so self delivery is visible to the caller before
// SendMsg returns (spec.md §8). A peer with no registered receiver for
// key simply drops the frame on arrival, so flooding to every peer
// still yields exactly the matched subset as observable recipients;
// AddRemoteReceiver/GetNumberOfRemoteReceivers remain available for
// callers that track the matched set explicitly for accounting.
func (c *Connection) SendMsg(from wire.ServiceDescriptor, key ReceiverKey, payload []byte) error {
	c.deliverLocal(from, key, payload)

	c.mu.RLock()
	peers := make(map[string]*transport.Peer, len(c.peers))
	for name, p := range c.peers {
		peers[name] = p
	}
	c.mu.RUnlock()

	for name, peer := range peers {
		if err := peer.Send(key.Kind, payload); err != nil {
			c.log.Warn("conn: broadcast send failed", zap.String("peer", name), zap.Error(err))
		}
	}
	return nil
}

// SendMsgTo unicasts payload to a single named participant.
func (c *Connection) SendMsgTo(from wire.ServiceDescriptor, targetParticipantName string, key ReceiverKey, payload []byte) error {
	c.deliverLocalIfSelf(from, targetParticipantName, key, payload)

	peer, ok := c.Peer(targetParticipantName)
	if !ok {
		return nil
	}
	return peer.Send(key.Kind, payload)
}

func (c *Connection) deliverLocalIfSelf(from wire.ServiceDescriptor, target string, key ReceiverKey, payload []byte) {
	if target == c.selfName {
		c.deliverLocal(from, key, payload)
	}
}

func (c *Connection) deliverLocal(from wire.ServiceDescriptor, key ReceiverKey, payload []byte) {
	c.mu.RLock()
	handlers := append([]Handler(nil), c.receivers[key]...)
	c.mu.RUnlock()
	for _, h := range handlers {
		h(from, payload)
	}
}

func (c *Connection) dispatchRemote(ff frameFromPeer) {
	link, ok := linkIDOf(ff.frame)
	key := ReceiverKey{Kind: ff.frame.Kind, LinkID: link}
	if !ok {
		key.LinkID = ""
	}

	c.mu.RLock()
	handlers := append([]Handler(nil), c.receivers[key]...)
	c.mu.RUnlock()

	from := wire.ServiceDescriptor{ParticipantName: ff.peerName}
	for _, h := range handlers {
		h(from, ff.frame.Payload)
	}
}

// linkIDOf extracts the link identifier from frame kinds that carry
// one, so inbound frames can be routed to the right ReceiverKey
// without re-parsing the full message in the dispatch hot path.
func linkIDOf(frame wire.Frame) (string, bool) {
	switch frame.Kind {
	case wire.KindDataMessageEvent:
		m, err := wire.UnmarshalDataMessageEvent(frame.Payload)
		if err != nil {
			return "", false
		}
		return m.LinkID, true
	case wire.KindBusFrameEvent:
		m, err := wire.UnmarshalBusFrameEvent(frame.Payload)
		if err != nil {
			return "", false
		}
		return m.LinkID, true
	case wire.KindFunctionCall:
		m, err := wire.UnmarshalFunctionCall(frame.Payload)
		if err != nil {
			return "", false
		}
		return m.LinkID, true
	case wire.KindFunctionCallResponse:
		m, err := wire.UnmarshalFunctionCallResponse(frame.Payload)
		if err != nil {
			return "", false
		}
		return m.LinkID, true
	case wire.KindBusControllerStatus:
		m, err := wire.UnmarshalBusControllerStatus(frame.Payload)
		if err != nil {
			return "", false
		}
		return m.LinkID, true
	case wire.KindBusConfigureBaudrate:
		m, err := wire.UnmarshalBusConfigureBaudrate(frame.Payload)
		if err != nil {
			return "", false
		}
		return m.LinkID, true
	case wire.KindBusSetControllerMode:
		m, err := wire.UnmarshalBusSetControllerMode(frame.Payload)
		if err != nil {
			return "", false
		}
		return m.LinkID, true
	default:
		return "", false
	}
}

// OnAllMessagesDelivered invokes fn once every connected peer's
// outbound queue has drained past the current write cursor (spec.md
// §4.3). Used by the lifecycle FSM to flush Stop/Shutdown/Abort
// handler traffic before remote peers reach Shutdown.
func (c *Connection) OnAllMessagesDelivered(ctx context.Context, fn func()) {
	c.mu.RLock()
	peers := make([]*transport.Peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.RUnlock()

	go func() {
		g, gctx := errgroup.WithContext(ctx)
		for _, p := range peers {
			p := p
			g.Go(func() error {
				select {
				case <-p.Flush():
				case <-gctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
		c.ExecuteDeferred(fn)
	}()
}

// CacheHistory stores payload as the single retained message for
// linkID, overwriting any previous value (spec.md §4.6a: "the
// connection layer stores one message per link regardless of the
// number of receivers").
func (c *Connection) CacheHistory(linkID string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[linkID] = payload
}

// HistoryFor returns the retained payload for linkID, if any.
func (c *Connection) HistoryFor(linkID string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.history[linkID]
	return p, ok
}
