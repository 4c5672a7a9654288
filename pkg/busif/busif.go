// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package busif implements the bus controller shims of spec.md §1 and
// §6.1: a typed front-end over the opaque BusFrameEvent/CanFrame
// envelopes. Only a CAN controller is provided; there are no Ethernet,
// FlexRay or LIN controllers. The core (pkg/router,
// pkg/conn) never interprets network-specific content, so this package
// stays on the standard library — there is no third-party protocol
// stack in the retrieved examples to delegate bus semantics to, and
// the spec explicitly keeps bus bodies out of scope beyond the
// envelope (SPEC_FULL.md §2).
package busif

import (
	"time"

	"github.com/vectorgrp/sil-kit-sub006/pkg/conn"
	"github.com/vectorgrp/sil-kit-sub006/pkg/router"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

// CanController is a single named CAN link, bound to a Router the way
// every controller reaches the connection layer (spec.md §4.10).
type CanController struct {
	r      *router.Router
	self   wire.ServiceDescriptor
	linkID string
}

// NewCanController creates a controller for the named link. self
// identifies this controller as the sender of outbound frames.
func NewCanController(r *router.Router, self wire.ServiceDescriptor, linkID string) *CanController {
	return &CanController{r: r, self: self, linkID: linkID}
}

func (c *CanController) key() conn.ReceiverKey {
	return conn.ReceiverKey{Kind: wire.KindBusFrameEvent, LinkID: c.linkID}
}

// SendFrame transmits one CAN frame, tagging it with userContext, which
// receivers' OnFrame handlers see on the delivered BusFrameEvent. No
// transmit confirmation is sent back to the sender.
func (c *CanController) SendFrame(frame wire.CanFrame, userContext uint64) error {
	evt := wire.BusFrameEvent{
		LinkID:      c.linkID,
		NetworkType: wire.NetworkCAN,
		Payload:     wire.MarshalCanFrame(frame),
		Timestamp:   int64(time.Now().UnixNano()),
		UserContext: userContext,
	}
	return c.r.Broadcast(c.self, c.key(), wire.MarshalBusFrameEvent(evt), evt.Timestamp)
}

// CanFrameHandler receives a decoded CAN frame, its wrapping
// timestamp, and the user context supplied by SendFrame.
type CanFrameHandler func(from wire.ServiceDescriptor, frame wire.CanFrame, timestamp int64, userContext uint64)

// OnFrame registers h for every inbound CAN frame on this link,
// decoding the CanFrame payload before dispatch.
func (c *CanController) OnFrame(h CanFrameHandler) {
	c.r.AddReceiver(c.key(), func(from wire.ServiceDescriptor, payload []byte) {
		evt, err := wire.UnmarshalBusFrameEvent(payload)
		if err != nil {
			return
		}
		frame, err := wire.UnmarshalCanFrame(evt.Payload)
		if err != nil {
			return
		}
		h(from, frame, evt.Timestamp, evt.UserContext)
	})
}

// SetBaudrate forwards an opaque baud-rate directive (spec.md §6.1);
// the core never validates the rate values themselves.
func (c *CanController) SetBaudrate(rate, fdRate uint32) error {
	m := wire.BusConfigureBaudrate{LinkID: c.linkID, Rate: rate, FDRate: fdRate}
	return c.r.Broadcast(c.self, conn.ReceiverKey{Kind: wire.KindBusConfigureBaudrate, LinkID: c.linkID},
		wire.MarshalBusConfigureBaudrate(m), 0)
}

// Controller-mode directive codes carried by BusSetControllerMode.Mode.
const (
	ModeStart uint8 = iota
	ModeStop
	ModeReset
)

// Start, Stop, and Reset send the corresponding controller-mode
// directive (spec.md §6.1).
func (c *CanController) Start() error { return c.setMode(ModeStart) }
func (c *CanController) Stop() error  { return c.setMode(ModeStop) }
func (c *CanController) Reset() error { return c.setMode(ModeReset) }

func (c *CanController) setMode(mode uint8) error {
	m := wire.BusSetControllerMode{LinkID: c.linkID, Mode: mode}
	return c.r.Broadcast(c.self, conn.ReceiverKey{Kind: wire.KindBusSetControllerMode, LinkID: c.linkID},
		wire.MarshalBusSetControllerMode(m), 0)
}

// OnStatus registers h for controller-status announcements on this
// link (spec.md §6.1's BusControllerStatus).
func (c *CanController) OnStatus(h func(from wire.ServiceDescriptor, status wire.BusControllerStatus)) {
	c.r.AddReceiver(conn.ReceiverKey{Kind: wire.KindBusControllerStatus, LinkID: c.linkID}, func(from wire.ServiceDescriptor, payload []byte) {
		status, err := wire.UnmarshalBusControllerStatus(payload)
		if err != nil {
			return
		}
		h(from, status)
	})
}
