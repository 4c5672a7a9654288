// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package participant

import (
	"time"

	"github.com/vectorgrp/sil-kit-sub006/pkg/conn"
	"github.com/vectorgrp/sil-kit-sub006/pkg/match"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

// DataPublisher is a named PubSub publisher (spec.md §4.6): creating
// one announces a ServiceDescriptor via discovery so remote
// subscribers with a matching Endpoint learn to route to its LinkID.
type DataPublisher struct {
	p        *Participant
	desc     wire.ServiceDescriptor
	endpoint match.Endpoint
}

// encodeLabels packs match.Label values into a ServiceDescriptor's
// SupplementalData map so they survive the wire (spec.md §3's
// supplemental-data mechanism), using "label:<key>" keys and
// "<kind>:<value>" values. topic rides alongside under the reserved
// "topic" key, since ServiceDescriptor has no dedicated topic field.
func encodeLabels(topic, mediaType string, labels []match.Label) map[string]string {
	out := make(map[string]string, len(labels)+2)
	out["topic"] = topic
	out["mediaType"] = mediaType
	for _, l := range labels {
		kind := "optional"
		if l.Kind == match.Mandatory {
			kind = "mandatory"
		}
		out["label:"+l.Key] = kind + ":" + l.Value
	}
	return out
}

func decodeLabels(data map[string]string) []match.Label {
	labels := make([]match.Label, 0, len(data))
	for k, v := range data {
		if len(k) <= 6 || k[:6] != "label:" {
			continue
		}
		key := k[6:]
		kind := match.Optional
		value := v
		if len(v) > 10 && v[:10] == "mandatory:" {
			kind = match.Mandatory
			value = v[10:]
		} else if len(v) > 9 && v[:9] == "optional:" {
			value = v[9:]
		}
		labels = append(labels, match.Label{Key: key, Value: value, Kind: kind})
	}
	return labels
}

// CreateDataPublisher registers a publisher for topic on its own
// link (spec.md §4.6: every publisher gets a dedicated link to avoid
// cross-talk between differently-labeled publishers of the same
// topic).
func (p *Participant) CreateDataPublisher(serviceName, topic, mediaType string, labels []match.Label) *DataPublisher {
	linkID := "urn:silkit:pubsub:" + p.opts.ParticipantName + ":" + serviceName
	p.Discovery.CreateService(wire.ServiceDescriptor{
		ServiceName:      serviceName,
		ServiceType:      wire.ServiceController,
		NetworkType:      wire.NetworkData,
		NetworkName:      linkID,
		SupplementalData: encodeLabels(topic, mediaType, labels),
	})
	return &DataPublisher{p: p, desc: wire.ServiceDescriptor{
		ParticipantName: p.opts.ParticipantName, ServiceName: serviceName, NetworkName: linkID,
	}, endpoint: match.Endpoint{Topic: topic, MediaType: mediaType, Labels: labels}}
}

// Publish broadcasts payload on the publisher's link and caches it as
// the link's one-deep history (spec.md §4.6a).
func (pub *DataPublisher) Publish(payload []byte) error {
	key := conn.ReceiverKey{Kind: wire.KindDataMessageEvent, LinkID: pub.desc.NetworkName}
	msg := wire.DataMessageEvent{LinkID: pub.desc.NetworkName, Payload: payload, Timestamp: time.Now().UnixNano()}
	encoded := wire.MarshalDataMessageEvent(msg)
	pub.p.Conn.CacheHistory(pub.desc.NetworkName, encoded)
	return pub.p.Router.Broadcast(pub.desc, key, encoded, msg.Timestamp)
}

// DataMessageHandler observes one inbound DataMessageEvent's decoded
// payload and timestamp.
type DataMessageHandler func(from wire.ServiceDescriptor, payload []byte, timestamp int64)

// DataSubscriber is a named PubSub subscriber. It discovers matching
// publishers via the shared discovery controller and attaches a
// receiver to each one's link as it appears (spec.md §4.6).
type DataSubscriber struct {
	p        *Participant
	endpoint match.Endpoint
	handler  DataMessageHandler
	attached map[string]bool
}

// CreateDataSubscriber registers a subscriber for topic. handler fires
// for every message on every currently-known and future publisher
// whose Endpoint matches (mediaType/labels per spec.md §4.6). When
// replayHistory is true, a newly matched publisher's last payload is
// replayed synchronously if this participant's own Connection cached
// it, i.e. only for publishers in the same participant; history of
// remote publishers is not replayed (spec.md §4.6a).
func (p *Participant) CreateDataSubscriber(serviceName, topic, mediaType string, labels []match.Label, replayHistory bool, handler DataMessageHandler) *DataSubscriber {
	sub := &DataSubscriber{
		p:        p,
		endpoint: match.Endpoint{Topic: topic, MediaType: mediaType, Labels: labels},
		handler:  handler,
		attached: make(map[string]bool),
	}
	p.Discovery.AddHandler(
		func(desc wire.ServiceDescriptor) bool {
			return desc.ServiceType == wire.ServiceController && desc.NetworkType == wire.NetworkData
		},
		func(ev wire.ServiceDiscoveryEvent) { sub.onEvent(ev, replayHistory) },
	)
	return sub
}

func (sub *DataSubscriber) onEvent(ev wire.ServiceDiscoveryEvent, replayHistory bool) {
	desc := ev.Descriptor

	if ev.EventKind == wire.ServiceRemoved {
		if sub.attached[desc.NetworkName] {
			key := conn.ReceiverKey{Kind: wire.KindDataMessageEvent, LinkID: desc.NetworkName}
			sub.p.Conn.RemoveRemoteReceiver(key, desc.ParticipantName)
			delete(sub.attached, desc.NetworkName)
		}
		return
	}
	if ev.EventKind != wire.ServiceCreated {
		return
	}

	pubEndpoint := match.Endpoint{Topic: sub.pubTopicOf(desc), MediaType: desc.SupplementalData["mediaType"], Labels: decodeLabels(desc.SupplementalData)}
	if !match.Matches(pubEndpoint, sub.endpoint) {
		return
	}
	if sub.attached[desc.NetworkName] {
		return
	}
	sub.attached[desc.NetworkName] = true

	key := conn.ReceiverKey{Kind: wire.KindDataMessageEvent, LinkID: desc.NetworkName}
	sub.p.Router.AddReceiver(key, func(from wire.ServiceDescriptor, payload []byte) {
		msg, err := wire.UnmarshalDataMessageEvent(payload)
		if err != nil {
			return
		}
		sub.handler(from, msg.Payload, msg.Timestamp)
	})
	sub.p.Conn.AddRemoteReceiver(key, desc.ParticipantName)

	if replayHistory {
		if cached, ok := sub.p.Conn.HistoryFor(desc.NetworkName); ok {
			if msg, err := wire.UnmarshalDataMessageEvent(cached); err == nil {
				sub.handler(desc, msg.Payload, msg.Timestamp)
			}
		}
	}
}

// pubTopicOf recovers the topic a publisher announced. Publishers
// don't carry Topic directly on ServiceDescriptor (spec.md §3 has no
// such field); this module stores it under a reserved supplemental key
// so subscribers can still match on it without a wire format change.
func (sub *DataSubscriber) pubTopicOf(desc wire.ServiceDescriptor) string {
	return desc.SupplementalData["topic"]
}
