// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/zap"

	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

// DefaultConnectTimeout is used when the caller does not supply one
// (spec.md §6.2's middleware.connectTimeoutSeconds).
const DefaultConnectTimeout = 10 * time.Second

// sendQueueDepth bounds how many framed writes may be outstanding
// before Peer.Send blocks, giving the connection layer backpressure
// (spec.md §4.2).
const sendQueueDepth = 1024

type outboundFrame struct {
	kind    wire.Kind
	payload []byte
	// ack, when non-nil, marks a flush barrier rather than a real
	// frame: writeLoop closes it once every frame queued ahead of it
	// has been written, without putting anything on the wire. This is
	// what OnAllMessagesDelivered (spec.md §4.3) waits on.
	ack chan struct{}
}

// Peer is one bidirectional, FIFO-ordered byte stream to a remote
// participant or the registry (spec.md §4.2). Frames enqueued with
// Send are delivered in send order; frames from different Peers carry
// no relative ordering guarantee (spec.md §5).
type Peer struct {
	conn net.Conn
	log  log.Logger
	mode AggregationMode

	outbound chan outboundFrame
	inbound  chan wire.Frame

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error

	mu         sync.Mutex
	onCloseFns []func(error)
}

// newPeer wraps an already-established net.Conn (either side of
// Dial/Accept) and starts its read/write loops.
func newPeer(conn net.Conn, mode AggregationMode, logger log.Logger) *Peer {
	p := &Peer{
		conn:     conn,
		log:      logger,
		mode:     mode,
		outbound: make(chan outboundFrame, sendQueueDepth),
		inbound:  make(chan wire.Frame, sendQueueDepth),
		closed:   make(chan struct{}),
	}
	go p.readLoop()
	go p.writeLoop()
	return p
}

// Dial connects to the first reachable of the given endpoints in
// order, logging and skipping unreachable ones (spec.md §5: "failure
// to reach an advertised acceptor URI is logged and skipped as long
// as at least one alternative URI succeeds").
func Dial(ctx context.Context, endpoints []Endpoint, mode AggregationMode, timeout time.Duration, logger log.Logger) (*Peer, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	var lastErr error
	dialer := net.Dialer{Timeout: timeout}
	for _, ep := range endpoints {
		conn, err := dialer.DialContext(ctx, ep.Network(), ep.Addr())
		if err != nil {
			logger.Warn("transport: dial failed, trying next acceptor uri",
				zap.String("endpoint", ep.String()), zap.Error(err))
			lastErr = err
			continue
		}
		return newPeer(conn, mode, logger), nil
	}
	return nil, lastErr
}

// Accept wraps an inbound net.Conn produced by a Listener.
func Accept(conn net.Conn, mode AggregationMode, logger log.Logger) *Peer {
	return newPeer(conn, mode, logger)
}

// Send enqueues a frame for delivery. It never blocks past the queue
// depth bound; a full queue is backpressure surfaced to the caller.
func (p *Peer) Send(kind wire.Kind, payload []byte) error {
	select {
	case <-p.closed:
		return p.closeErr
	default:
	}
	select {
	case p.outbound <- outboundFrame{kind: kind, payload: payload}:
		return nil
	case <-p.closed:
		return p.closeErr
	}
}

// Flush returns a channel closed once every frame enqueued before this
// call has been written to the connection. It never itself appears on
// the wire.
func (p *Peer) Flush() <-chan struct{} {
	ack := make(chan struct{})
	select {
	case p.outbound <- outboundFrame{ack: ack}:
	case <-p.closed:
		close(ack)
	}
	return ack
}

// Frames returns the channel of successfully decoded inbound frames.
// It is closed when the peer closes.
func (p *Peer) Frames() <-chan wire.Frame { return p.inbound }

// RemoteAddr returns the underlying connection's remote address, used
// by the registry to rewrite loopback acceptor URIs (spec.md §4.4).
func (p *Peer) RemoteAddr() net.Addr { return p.conn.RemoteAddr() }

// Done is closed once the peer's transport has closed, for any reason.
func (p *Peer) Done() <-chan struct{} { return p.closed }

// Err returns the reason the peer closed, or nil if still open.
func (p *Peer) Err() error { return p.closeErr }

// OnClose registers a shutdown callback. Per spec.md §4.2, shutdown
// callbacks run exactly once per peer.
func (p *Peer) OnClose(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.closed:
		fn(p.closeErr)
	default:
		p.onCloseFns = append(p.onCloseFns, fn)
	}
}

// Close tears the peer down. Any further Send calls fail.
func (p *Peer) Close() error {
	p.closeWithErr(nil)
	return p.conn.Close()
}

func (p *Peer) closeWithErr(err error) {
	p.closeOnce.Do(func() {
		if err == nil {
			err = net.ErrClosed
		}
		p.closeErr = err
		close(p.closed)
		_ = p.conn.Close()
		drainPendingAcks(p.outbound)

		p.mu.Lock()
		fns := p.onCloseFns
		p.onCloseFns = nil
		p.mu.Unlock()
		for _, fn := range fns {
			fn(err)
		}
	})
}

func (p *Peer) readLoop() {
	defer close(p.inbound)
	for {
		frame, err := wire.ReadFrame(p.conn)
		if err != nil {
			p.log.Debug("transport: read loop terminating", zap.Error(err))
			p.closeWithErr(err)
			return
		}
		if !frame.Kind.Valid() {
			err := fmt.Errorf("transport: unknown frame kind %d", uint8(frame.Kind))
			p.log.Warn("transport: malformed frame, closing peer", zap.Error(err))
			p.closeWithErr(err)
			return
		}
		select {
		case p.inbound <- frame:
		case <-p.closed:
			return
		}
	}
}

// writeLoop drains the outbound queue. With AggregationOn (or
// AggregationAuto) it writes every frame already queued in one pass via
// flushBatch; AggregationOff writes one frame per iteration. Either way
// each frame is its own WriteFrame call (spec.md §4.2).
func (p *Peer) writeLoop() {
	for {
		select {
		case first, ok := <-p.outbound:
			if !ok {
				return
			}
			if p.mode == AggregationOff {
				if err := writeOrAck(p.conn, first); err != nil {
					p.closeWithErr(err)
					return
				}
				continue
			}
			if err := p.flushBatch(first); err != nil {
				p.closeWithErr(err)
				return
			}
		case <-p.closed:
			return
		}
	}
}

// drainPendingAcks releases any Flush callers blocked on a barrier
// still sitting in the queue when the peer closes.
func drainPendingAcks(outbound chan outboundFrame) {
	for {
		select {
		case f := <-outbound:
			if f.ack != nil {
				close(f.ack)
			}
		default:
			return
		}
	}
}

func writeOrAck(conn net.Conn, f outboundFrame) error {
	if f.ack != nil {
		close(f.ack)
		return nil
	}
	return wire.WriteFrame(conn, f.kind, f.payload)
}

// flushBatch writes first plus every frame already queued behind it,
// without blocking for more. Each frame is written with its own
// WriteFrame call; the frames are not merged into one Write.
func (p *Peer) flushBatch(first outboundFrame) error {
	if err := writeOrAck(p.conn, first); err != nil {
		return err
	}
	for {
		select {
		case next, ok := <-p.outbound:
			if !ok {
				return nil
			}
			if err := writeOrAck(p.conn, next); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
