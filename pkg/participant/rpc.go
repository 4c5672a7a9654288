// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package participant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vectorgrp/sil-kit-sub006/pkg/conn"
	"github.com/vectorgrp/sil-kit-sub006/pkg/match"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

// RpcClient is a named RPC client (spec.md §3, §4.6): it owns a fresh
// UUID link, the same way a DataPublisher owns one, and every
// discovered server whose Endpoint matches attaches an internal server
// onto that link.
type RpcClient struct {
	p    *Participant
	desc wire.ServiceDescriptor

	mu         sync.Mutex
	nextHandle uint64
	pending    map[uint64]chan wire.FunctionCallResponse
}

// CreateRpcClient registers an RPC client for functionName on its own
// link. The client is the link owner and plays the "publisher" role in
// matching (spec.md §4.6: "RPC follows the symmetric pattern").
func (p *Participant) CreateRpcClient(serviceName, functionName, mediaType string, labels []match.Label) *RpcClient {
	linkID := "urn:silkit:rpc:" + p.opts.ParticipantName + ":" + serviceName
	p.Discovery.CreateService(wire.ServiceDescriptor{
		ServiceName:      serviceName,
		ServiceType:      wire.ServiceController,
		NetworkType:      wire.NetworkRPC,
		NetworkName:      linkID,
		SupplementalData: encodeLabels(functionName, mediaType, labels),
	})
	client := &RpcClient{
		p:       p,
		desc:    wire.ServiceDescriptor{ParticipantName: p.opts.ParticipantName, ServiceName: serviceName, NetworkName: linkID},
		pending: make(map[uint64]chan wire.FunctionCallResponse),
	}
	p.Router.AddReceiver(conn.ReceiverKey{Kind: wire.KindFunctionCallResponse, LinkID: linkID}, client.onResponse)
	return client
}

// Call sends payload as a FunctionCall on the client's link and blocks
// until the matched server's FunctionCallResponse with the same
// CallHandle arrives or ctx is done.
func (c *RpcClient) Call(ctx context.Context, payload []byte) (wire.FunctionCallResponse, error) {
	c.mu.Lock()
	c.nextHandle++
	handle := c.nextHandle
	ch := make(chan wire.FunctionCallResponse, 1)
	c.pending[handle] = ch
	c.mu.Unlock()

	msg := wire.FunctionCall{LinkID: c.desc.NetworkName, CallHandle: handle, Payload: payload, Timestamp: time.Now().UnixNano()}
	key := conn.ReceiverKey{Kind: wire.KindFunctionCall, LinkID: c.desc.NetworkName}
	if err := c.p.Router.Broadcast(c.desc, key, wire.MarshalFunctionCall(msg), msg.Timestamp); err != nil {
		c.mu.Lock()
		delete(c.pending, handle)
		c.mu.Unlock()
		return wire.FunctionCallResponse{}, fmt.Errorf("rpc: call: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, handle)
		c.mu.Unlock()
		return wire.FunctionCallResponse{}, ctx.Err()
	}
}

func (c *RpcClient) onResponse(from wire.ServiceDescriptor, payload []byte) {
	resp, err := wire.UnmarshalFunctionCallResponse(payload)
	if err != nil {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[resp.CallHandle]
	if ok {
		delete(c.pending, resp.CallHandle)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// RpcCallHandler answers one inbound FunctionCall; its return value is
// sent back as the FunctionCallResponse payload.
type RpcCallHandler func(from wire.ServiceDescriptor, callHandle uint64, payload []byte) []byte

// RpcServer is a named RPC server: it discovers matching RpcClient
// services and attaches an internal server onto each one's link,
// playing the "subscriber" role in matching.
type RpcServer struct {
	p        *Participant
	endpoint match.Endpoint
	handler  RpcCallHandler
	attached map[string]bool
}

// CreateRpcServer registers an RPC server for functionName. handler
// fires for every call on every currently-known and future client
// whose Endpoint matches (spec.md §4.6).
func (p *Participant) CreateRpcServer(serviceName, functionName, mediaType string, labels []match.Label, handler RpcCallHandler) *RpcServer {
	srv := &RpcServer{
		p:        p,
		endpoint: match.Endpoint{Topic: functionName, MediaType: mediaType, Labels: labels},
		handler:  handler,
		attached: make(map[string]bool),
	}
	p.Discovery.AddHandler(
		func(desc wire.ServiceDescriptor) bool {
			return desc.ServiceType == wire.ServiceController && desc.NetworkType == wire.NetworkRPC
		},
		srv.onEvent,
	)
	return srv
}

func (srv *RpcServer) onEvent(ev wire.ServiceDiscoveryEvent) {
	desc := ev.Descriptor

	if ev.EventKind == wire.ServiceRemoved {
		if srv.attached[desc.NetworkName] {
			key := conn.ReceiverKey{Kind: wire.KindFunctionCall, LinkID: desc.NetworkName}
			srv.p.Conn.RemoveRemoteReceiver(key, desc.ParticipantName)
			delete(srv.attached, desc.NetworkName)
		}
		return
	}
	if ev.EventKind != wire.ServiceCreated {
		return
	}

	clientEndpoint := match.Endpoint{
		Topic:     desc.SupplementalData["topic"],
		MediaType: desc.SupplementalData["mediaType"],
		Labels:    decodeLabels(desc.SupplementalData),
	}
	if !match.Matches(clientEndpoint, srv.endpoint) {
		return
	}
	if srv.attached[desc.NetworkName] {
		return
	}
	srv.attached[desc.NetworkName] = true

	key := conn.ReceiverKey{Kind: wire.KindFunctionCall, LinkID: desc.NetworkName}
	srv.p.Router.AddReceiver(key, func(from wire.ServiceDescriptor, payload []byte) {
		call, err := wire.UnmarshalFunctionCall(payload)
		if err != nil {
			return
		}
		respPayload := srv.handler(from, call.CallHandle, call.Payload)
		resp := wire.FunctionCallResponse{LinkID: desc.NetworkName, CallHandle: call.CallHandle, Payload: respPayload, Timestamp: time.Now().UnixNano()}
		respKey := conn.ReceiverKey{Kind: wire.KindFunctionCallResponse, LinkID: desc.NetworkName}
		self := wire.ServiceDescriptor{ParticipantName: srv.p.opts.ParticipantName}
		_ = srv.p.Router.Broadcast(self, respKey, wire.MarshalFunctionCallResponse(resp), resp.Timestamp)
	})
	srv.p.Conn.AddRemoteReceiver(key, desc.ParticipantName)
}
