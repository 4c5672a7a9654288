// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

// Kind tags the payload layout of a frame (spec.md §6.1). Every Kind
// below except KindUnknown, KindLogMsg and KindMetricsUpdate has exactly
// one Marshal/Unmarshal pair in this package; LogMsg and MetricsUpdate
// payloads have no codec here. This is how dynamic dispatch by message kind
// (Design Notes §9) collapses into a single switch per receiver role
// instead of per-message virtual dispatch.
type Kind uint8

const (
	KindUnknown Kind = iota

	// Handshake (registry <-> participant, participant <-> participant).
	KindParticipantAnnouncement
	KindParticipantAnnouncementReply
	KindKnownParticipants

	// Service discovery.
	KindServiceDiscoveryEvent
	KindParticipantDiscoveryEvent

	// Time synchronization and lifecycle.
	KindNextSimTask
	KindParticipantStatus
	KindSystemCommand
	KindWorkflowConfiguration

	// Ambient / out-of-scope collaborators, opaque payloads.
	KindLogMsg
	KindMetricsUpdate

	// Generic data plane.
	KindDataMessageEvent
	KindFunctionCall
	KindFunctionCallResponse

	// Bus controllers (CAN, Ethernet, FlexRay, LIN) share one opaque
	// envelope tagged by NetworkType; the core never interprets the
	// bus payload itself (spec.md §1).
	KindBusFrameEvent
	KindBusControllerStatus
	KindBusConfigureBaudrate
	KindBusSetControllerMode

	kindSentinel // must stay last; used by Kind.Valid
)

// Valid reports whether k is a tag this build recognizes. An unknown
// kind on an otherwise well-formed frame is a ProtocolError (spec.md §7)
// and closes the peer, since the core has no handler table entry for it.
func (k Kind) Valid() bool {
	return k > KindUnknown && k < kindSentinel
}

func (k Kind) String() string {
	switch k {
	case KindParticipantAnnouncement:
		return "ParticipantAnnouncement"
	case KindParticipantAnnouncementReply:
		return "ParticipantAnnouncementReply"
	case KindKnownParticipants:
		return "KnownParticipants"
	case KindServiceDiscoveryEvent:
		return "ServiceDiscoveryEvent"
	case KindParticipantDiscoveryEvent:
		return "ParticipantDiscoveryEvent"
	case KindNextSimTask:
		return "NextSimTask"
	case KindParticipantStatus:
		return "ParticipantStatus"
	case KindSystemCommand:
		return "SystemCommand"
	case KindWorkflowConfiguration:
		return "WorkflowConfiguration"
	case KindLogMsg:
		return "LogMsg"
	case KindMetricsUpdate:
		return "MetricsUpdate"
	case KindDataMessageEvent:
		return "DataMessageEvent"
	case KindFunctionCall:
		return "FunctionCall"
	case KindFunctionCallResponse:
		return "FunctionCallResponse"
	case KindBusFrameEvent:
		return "BusFrameEvent"
	case KindBusControllerStatus:
		return "BusControllerStatus"
	case KindBusConfigureBaudrate:
		return "BusConfigureBaudrate"
	case KindBusSetControllerMode:
		return "BusSetControllerMode"
	default:
		return "Unknown"
	}
}

// NetworkType identifies the bus protocol family a service/link speaks.
// The core only ever handles the envelope; the bus semantics themselves
// are out of scope (spec.md §1).
type NetworkType uint8

const (
	NetworkUndefined NetworkType = iota
	NetworkCAN
	NetworkEthernet
	NetworkFlexRay
	NetworkLIN
	NetworkData
	NetworkRPC
)

// ServiceType classifies a service descriptor (spec.md §3).
type ServiceType uint8

const (
	ServiceUndefined ServiceType = iota
	ServiceController
	ServiceInternalController
	ServiceLink
	ServiceSimulatedNetwork
)
