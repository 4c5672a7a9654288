// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package router is the thin, typed adapter controllers use to reach
// the connection layer (spec.md §4.10): broadcast, targeted send, and
// self-deferred execution, with every TX/RX traced at log level Trace.
package router

import (
	"github.com/luxfi/log"
	"github.com/luxfi/zap"

	"github.com/vectorgrp/sil-kit-sub006/pkg/conn"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

// Router exposes the connection layer to controllers without handing
// them the connection's peer/receiver maps directly.
type Router struct {
	log  log.Logger
	conn *conn.Connection
}

// New creates a Router over c.
func New(c *conn.Connection, logger log.Logger) *Router {
	return &Router{log: logger, conn: c}
}

// Broadcast sends payload on key.LinkID to every connected peer and
// delivers locally first (spec.md §4.3's SendMsg); a peer with no
// receiver registered for key drops it on arrival.
func (r *Router) Broadcast(from wire.ServiceDescriptor, key conn.ReceiverKey, payload []byte, timestamp int64) error {
	r.trace("tx-broadcast", from, key, timestamp)
	return r.conn.SendMsg(from, key, payload)
}

// Targeted unicasts payload to a single named participant (spec.md
// §4.3's SendMsg(from, targetParticipantName, msg) overload).
func (r *Router) Targeted(from wire.ServiceDescriptor, target string, key conn.ReceiverKey, payload []byte, timestamp int64) error {
	r.trace("tx-targeted", from, key, timestamp)
	return r.conn.SendMsgTo(from, target, key, payload)
}

// AddReceiver registers h for inbound frames on key, wrapping it so
// every successful dispatch is also traced (spec.md §4.10).
func (r *Router) AddReceiver(key conn.ReceiverKey, h conn.Handler) {
	r.conn.AddReceiver(key, func(from wire.ServiceDescriptor, payload []byte) {
		r.trace("rx", from, key, 0)
		h(from, payload)
	})
}

// ExecuteDeferred runs fn on the connection's I/O progress context —
// the "self-deferred execution" primitive of spec.md §4.10.
func (r *Router) ExecuteDeferred(fn func()) {
	r.conn.ExecuteDeferred(fn)
}

// NumberOfRemoteReceivers and ParticipantNamesOfRemoteReceivers mirror
// the connection layer's metrics/logging helpers (spec.md §4.3).
func (r *Router) NumberOfRemoteReceivers(key conn.ReceiverKey) int {
	return r.conn.GetNumberOfRemoteReceivers(key)
}

func (r *Router) ParticipantNamesOfRemoteReceivers(key conn.ReceiverKey) []string {
	return r.conn.GetParticipantNamesOfRemoteReceivers(key)
}

func (r *Router) trace(direction string, from wire.ServiceDescriptor, key conn.ReceiverKey, timestamp int64) {
	fields := []zap.Field{
		zap.String("direction", direction),
		zap.String("kind", key.Kind.String()),
		zap.String("link", key.LinkID),
		zap.String("from", from.ParticipantName),
	}
	if timestamp != 0 {
		fields = append(fields, zap.Int64("timestamp", timestamp))
	}
	r.log.Trace("router: message", fields...)
}
