// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"fmt"
	"net"

	"github.com/luxfi/log"
	"github.com/luxfi/zap"
)

// Listener accepts inbound connections on one endpoint and hands each
// back as a Peer through Accepted(). The registry (spec.md §4.4) and
// every participant's acceptor URIs (spec.md §3) are built on this.
type Listener struct {
	net.Listener
	endpoint Endpoint
	mode     AggregationMode
	log      log.Logger

	peers chan *Peer
	done  chan struct{}
}

// Listen starts accepting on ep. For SchemeTCP, binding to port 0
// resolves an ephemeral port; call ResolvedEndpoint afterward to learn
// it, matching the registry's "effective listenUri" contract.
func Listen(ep Endpoint, mode AggregationMode, logger log.Logger) (*Listener, error) {
	ln, err := net.Listen(ep.Network(), ep.Addr())
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", ep, err)
	}
	l := &Listener{
		Listener: ln,
		endpoint: ep,
		mode:     mode,
		log:      logger,
		peers:    make(chan *Peer),
		done:     make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

// ResolvedEndpoint returns the endpoint actually bound, with any
// ephemeral port resolved to its assigned value.
func (l *Listener) ResolvedEndpoint() (Endpoint, error) {
	return ResolveListenAddr(l.endpoint.Scheme, l.Listener.Addr())
}

// Accepted yields one Peer per successfully accepted connection. It is
// closed when the listener stops.
func (l *Listener) Accepted() <-chan *Peer { return l.peers }

func (l *Listener) acceptLoop() {
	defer close(l.peers)
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
				l.log.Debug("transport: accept loop terminating", zap.Error(err))
				return
			}
		}
		peer := newPeer(conn, l.mode, l.log)
		select {
		case l.peers <- peer:
		case <-l.done:
			_ = peer.Close()
			return
		}
	}
}

// Close stops accepting new connections. Already-accepted peers are
// unaffected.
func (l *Listener) Close() error {
	close(l.done)
	return l.Listener.Close()
}
