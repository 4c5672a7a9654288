// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import "fmt"

// PeerInfo is what a peer announces about itself (spec.md §3).
type PeerInfo struct {
	ParticipantName string
	ParticipantID   uint64
	AcceptorURIs    []string
	Version         ProtocolVersion
	Capabilities    []string
	SimulationName  string
}

func (p PeerInfo) marshal(e *Encoder) {
	e.PutString(p.ParticipantName)
	e.PutU64(p.ParticipantID)
	e.PutStrings(p.AcceptorURIs)
	e.PutU16(p.Version.Major)
	e.PutU16(p.Version.Minor)
	e.PutStrings(p.Capabilities)
	e.PutString(p.SimulationName)
}

func unmarshalPeerInfo(d *Decoder) (PeerInfo, error) {
	var p PeerInfo
	var err error
	if p.ParticipantName, err = d.String(); err != nil {
		return p, fmt.Errorf("peerInfo.participantName: %w", err)
	}
	if p.ParticipantID, err = d.U64(); err != nil {
		return p, fmt.Errorf("peerInfo.participantId: %w", err)
	}
	if p.AcceptorURIs, err = d.Strings(); err != nil {
		return p, fmt.Errorf("peerInfo.acceptorUris: %w", err)
	}
	if p.Version.Major, err = d.U16(); err != nil {
		return p, fmt.Errorf("peerInfo.version.major: %w", err)
	}
	if p.Version.Minor, err = d.U16(); err != nil {
		return p, fmt.Errorf("peerInfo.version.minor: %w", err)
	}
	if p.Capabilities, err = d.Strings(); err != nil {
		return p, fmt.Errorf("peerInfo.capabilities: %w", err)
	}
	if p.SimulationName, err = d.String(); err != nil {
		return p, fmt.Errorf("peerInfo.simulationName: %w", err)
	}
	return p, nil
}

// ServiceDescriptor identifies a controller/endpoint (spec.md §3).
type ServiceDescriptor struct {
	ParticipantName  string
	ParticipantID    uint64
	NetworkName      string
	ServiceName      string
	ServiceType      ServiceType
	NetworkType      NetworkType
	ServiceID        uint64
	SupplementalData map[string]string
}

func (s ServiceDescriptor) marshal(e *Encoder) {
	e.PutString(s.ParticipantName)
	e.PutU64(s.ParticipantID)
	e.PutString(s.NetworkName)
	e.PutString(s.ServiceName)
	e.PutU8(uint8(s.ServiceType))
	e.PutU8(uint8(s.NetworkType))
	e.PutU64(s.ServiceID)
	e.PutStringMap(s.SupplementalData)
}

func unmarshalServiceDescriptor(d *Decoder) (ServiceDescriptor, error) {
	var s ServiceDescriptor
	var err error
	if s.ParticipantName, err = d.String(); err != nil {
		return s, err
	}
	if s.ParticipantID, err = d.U64(); err != nil {
		return s, err
	}
	if s.NetworkName, err = d.String(); err != nil {
		return s, err
	}
	if s.ServiceName, err = d.String(); err != nil {
		return s, err
	}
	st, err := d.U8()
	if err != nil {
		return s, err
	}
	s.ServiceType = ServiceType(st)
	nt, err := d.U8()
	if err != nil {
		return s, err
	}
	s.NetworkType = NetworkType(nt)
	if s.ServiceID, err = d.U64(); err != nil {
		return s, err
	}
	if s.SupplementalData, err = d.StringMap(); err != nil {
		return s, err
	}
	return s, nil
}

// ParticipantAnnouncement is the handshake message sent on opening a
// connection, to the registry or directly to a peer (spec.md §4.4).
type ParticipantAnnouncement struct {
	Peer           PeerInfo
	SimulationName string
}

func MarshalParticipantAnnouncement(m ParticipantAnnouncement) []byte {
	e := NewEncoder(128)
	m.Peer.marshal(e)
	e.PutString(m.SimulationName)
	return e.Bytes()
}

func UnmarshalParticipantAnnouncement(payload []byte) (ParticipantAnnouncement, error) {
	d := NewDecoder(payload)
	peer, err := unmarshalPeerInfo(d)
	if err != nil {
		return ParticipantAnnouncement{}, err
	}
	sim, err := d.String()
	if err != nil {
		return ParticipantAnnouncement{}, err
	}
	return ParticipantAnnouncement{Peer: peer, SimulationName: sim}, nil
}

// ParticipantAnnouncementReply is sent by the registry when the
// protocol version supports a diagnostic reply before closing a
// rejected connection (spec.md §4.4 item 2).
type ParticipantAnnouncementReply struct {
	Accepted bool
	Reason   string
}

func MarshalParticipantAnnouncementReply(m ParticipantAnnouncementReply) []byte {
	e := NewEncoder(16)
	e.PutBool(m.Accepted)
	e.PutString(m.Reason)
	return e.Bytes()
}

func UnmarshalParticipantAnnouncementReply(payload []byte) (ParticipantAnnouncementReply, error) {
	d := NewDecoder(payload)
	ok, err := d.Bool()
	if err != nil {
		return ParticipantAnnouncementReply{}, err
	}
	reason, err := d.String()
	if err != nil {
		return ParticipantAnnouncementReply{}, err
	}
	return ParticipantAnnouncementReply{Accepted: ok, Reason: reason}, nil
}

// KnownParticipants lists the peers already in the same simulation,
// with acceptor URIs rewritten for reachability from the joiner
// (spec.md §4.4 item 3).
type KnownParticipants struct {
	Peers []PeerInfo
}

func MarshalKnownParticipants(m KnownParticipants) []byte {
	e := NewEncoder(256)
	e.PutU32(uint32(len(m.Peers)))
	for _, p := range m.Peers {
		p.marshal(e)
	}
	return e.Bytes()
}

func UnmarshalKnownParticipants(payload []byte) (KnownParticipants, error) {
	d := NewDecoder(payload)
	n, err := d.U32()
	if err != nil {
		return KnownParticipants{}, err
	}
	peers := make([]PeerInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := unmarshalPeerInfo(d)
		if err != nil {
			return KnownParticipants{}, fmt.Errorf("knownParticipants[%d]: %w", i, err)
		}
		peers = append(peers, p)
	}
	return KnownParticipants{Peers: peers}, nil
}

// DiscoveryEventKind distinguishes creation from removal (spec.md §4.5).
type DiscoveryEventKind uint8

const (
	ServiceCreated DiscoveryEventKind = iota
	ServiceRemoved
)

// ServiceDiscoveryEvent announces a single service creation/removal.
type ServiceDiscoveryEvent struct {
	EventKind  DiscoveryEventKind
	Descriptor ServiceDescriptor
}

func MarshalServiceDiscoveryEvent(m ServiceDiscoveryEvent) []byte {
	e := NewEncoder(64)
	e.PutU8(uint8(m.EventKind))
	m.Descriptor.marshal(e)
	return e.Bytes()
}

func UnmarshalServiceDiscoveryEvent(payload []byte) (ServiceDiscoveryEvent, error) {
	d := NewDecoder(payload)
	k, err := d.U8()
	if err != nil {
		return ServiceDiscoveryEvent{}, err
	}
	desc, err := unmarshalServiceDescriptor(d)
	if err != nil {
		return ServiceDiscoveryEvent{}, err
	}
	return ServiceDiscoveryEvent{EventKind: DiscoveryEventKind(k), Descriptor: desc}, nil
}

// ParticipantDiscoveryEvent is the snapshot of a participant's
// currently-live services, replayed to every newly connected peer
// (spec.md §4.5).
type ParticipantDiscoveryEvent struct {
	Descriptors []ServiceDescriptor
}

func MarshalParticipantDiscoveryEvent(m ParticipantDiscoveryEvent) []byte {
	e := NewEncoder(256)
	e.PutU32(uint32(len(m.Descriptors)))
	for _, d := range m.Descriptors {
		d.marshal(e)
	}
	return e.Bytes()
}

func UnmarshalParticipantDiscoveryEvent(payload []byte) (ParticipantDiscoveryEvent, error) {
	d := NewDecoder(payload)
	n, err := d.U32()
	if err != nil {
		return ParticipantDiscoveryEvent{}, err
	}
	descs := make([]ServiceDescriptor, 0, n)
	for i := uint32(0); i < n; i++ {
		desc, err := unmarshalServiceDescriptor(d)
		if err != nil {
			return ParticipantDiscoveryEvent{}, fmt.Errorf("participantDiscoveryEvent[%d]: %w", i, err)
		}
		descs = append(descs, desc)
	}
	return ParticipantDiscoveryEvent{Descriptors: descs}, nil
}

// NextSimTask is the barrier message of the time-sync core (spec.md §4.7).
type NextSimTask struct {
	TimePoint int64 // nanoseconds
	Duration  int64 // nanoseconds
}

func MarshalNextSimTask(m NextSimTask) []byte {
	e := NewEncoder(16)
	e.PutI64(m.TimePoint)
	e.PutI64(m.Duration)
	return e.Bytes()
}

func UnmarshalNextSimTask(payload []byte) (NextSimTask, error) {
	d := NewDecoder(payload)
	tp, err := d.I64()
	if err != nil {
		return NextSimTask{}, err
	}
	dur, err := d.I64()
	if err != nil {
		return NextSimTask{}, err
	}
	return NextSimTask{TimePoint: tp, Duration: dur}, nil
}

// ParticipantStatus is the lifecycle status broadcast consumed by the
// system-state tracker (spec.md §4.9).
type ParticipantStatus struct {
	ParticipantName string
	State           uint8
	EnterReason     string
	EnterTime       int64
	RefreshTime     int64
}

func MarshalParticipantStatus(m ParticipantStatus) []byte {
	e := NewEncoder(64)
	e.PutString(m.ParticipantName)
	e.PutU8(m.State)
	e.PutString(m.EnterReason)
	e.PutI64(m.EnterTime)
	e.PutI64(m.RefreshTime)
	return e.Bytes()
}

func UnmarshalParticipantStatus(payload []byte) (ParticipantStatus, error) {
	d := NewDecoder(payload)
	var m ParticipantStatus
	var err error
	if m.ParticipantName, err = d.String(); err != nil {
		return m, err
	}
	if m.State, err = d.U8(); err != nil {
		return m, err
	}
	if m.EnterReason, err = d.String(); err != nil {
		return m, err
	}
	if m.EnterTime, err = d.I64(); err != nil {
		return m, err
	}
	if m.RefreshTime, err = d.I64(); err != nil {
		return m, err
	}
	return m, nil
}

// DataMessageEvent is the PubSub payload frame routed over a link
// (spec.md §4.6, §6.1); RPC uses FunctionCall/FunctionCallResponse.
type DataMessageEvent struct {
	LinkID    string
	Payload   []byte
	Timestamp int64
}

func MarshalDataMessageEvent(m DataMessageEvent) []byte {
	e := NewEncoder(32 + len(m.Payload))
	e.PutString(m.LinkID)
	e.PutBytes(m.Payload)
	e.PutI64(m.Timestamp)
	return e.Bytes()
}

func UnmarshalDataMessageEvent(payload []byte) (DataMessageEvent, error) {
	d := NewDecoder(payload)
	var m DataMessageEvent
	var err error
	if m.LinkID, err = d.String(); err != nil {
		return m, err
	}
	if m.Payload, err = d.Bytes(); err != nil {
		return m, err
	}
	if m.Timestamp, err = d.I64(); err != nil {
		return m, err
	}
	return m, nil
}

// BusFrameEvent is the opaque, kind-tagged bus envelope shared by CAN,
// Ethernet, FlexRay, and LIN controllers (spec.md §1, §6.1): the core
// transports it without interpreting NetworkType-specific content.
type BusFrameEvent struct {
	LinkID      string
	NetworkType NetworkType
	Payload     []byte
	Timestamp   int64
	UserContext uint64
}

func MarshalBusFrameEvent(m BusFrameEvent) []byte {
	e := NewEncoder(32 + len(m.Payload))
	e.PutString(m.LinkID)
	e.PutU8(uint8(m.NetworkType))
	e.PutBytes(m.Payload)
	e.PutI64(m.Timestamp)
	e.PutU64(m.UserContext)
	return e.Bytes()
}

func UnmarshalBusFrameEvent(payload []byte) (BusFrameEvent, error) {
	d := NewDecoder(payload)
	var m BusFrameEvent
	var err error
	if m.LinkID, err = d.String(); err != nil {
		return m, err
	}
	nt, err := d.U8()
	if err != nil {
		return m, err
	}
	m.NetworkType = NetworkType(nt)
	if m.Payload, err = d.Bytes(); err != nil {
		return m, err
	}
	if m.Timestamp, err = d.I64(); err != nil {
		return m, err
	}
	if m.UserContext, err = d.U64(); err != nil {
		return m, err
	}
	return m, nil
}

// FunctionCall is an RPC invocation routed over a client's UUID link
// (spec.md §3, §6.1).
type FunctionCall struct {
	LinkID     string
	CallHandle uint64
	Payload    []byte
	Timestamp  int64
}

func MarshalFunctionCall(m FunctionCall) []byte {
	e := NewEncoder(32 + len(m.Payload))
	e.PutString(m.LinkID)
	e.PutU64(m.CallHandle)
	e.PutBytes(m.Payload)
	e.PutI64(m.Timestamp)
	return e.Bytes()
}

func UnmarshalFunctionCall(payload []byte) (FunctionCall, error) {
	d := NewDecoder(payload)
	var m FunctionCall
	var err error
	if m.LinkID, err = d.String(); err != nil {
		return m, err
	}
	if m.CallHandle, err = d.U64(); err != nil {
		return m, err
	}
	if m.Payload, err = d.Bytes(); err != nil {
		return m, err
	}
	if m.Timestamp, err = d.I64(); err != nil {
		return m, err
	}
	return m, nil
}

// FunctionCallResponse answers a FunctionCall on the same link, keyed
// by CallHandle.
type FunctionCallResponse struct {
	LinkID     string
	CallHandle uint64
	Payload    []byte
	Timestamp  int64
}

func MarshalFunctionCallResponse(m FunctionCallResponse) []byte {
	e := NewEncoder(32 + len(m.Payload))
	e.PutString(m.LinkID)
	e.PutU64(m.CallHandle)
	e.PutBytes(m.Payload)
	e.PutI64(m.Timestamp)
	return e.Bytes()
}

func UnmarshalFunctionCallResponse(payload []byte) (FunctionCallResponse, error) {
	d := NewDecoder(payload)
	var m FunctionCallResponse
	var err error
	if m.LinkID, err = d.String(); err != nil {
		return m, err
	}
	if m.CallHandle, err = d.U64(); err != nil {
		return m, err
	}
	if m.Payload, err = d.Bytes(); err != nil {
		return m, err
	}
	if m.Timestamp, err = d.I64(); err != nil {
		return m, err
	}
	return m, nil
}

// SystemCommandKind is the set of controller-issued directives that
// drive the coordinated lifecycle FSM (spec.md §4.8, §4.9).
type SystemCommandKind uint8

const (
	SystemCommandInvalid SystemCommandKind = iota
	SystemCommandRun
	SystemCommandStop
	SystemCommandShutdown
	SystemCommandAbortSimulation
	SystemCommandPause
	SystemCommandResume
)

func (k SystemCommandKind) String() string {
	switch k {
	case SystemCommandRun:
		return "Run"
	case SystemCommandStop:
		return "Stop"
	case SystemCommandShutdown:
		return "Shutdown"
	case SystemCommandAbortSimulation:
		return "AbortSimulation"
	case SystemCommandPause:
		return "Pause"
	case SystemCommandResume:
		return "Resume"
	default:
		return "Invalid"
	}
}

// SystemCommand is broadcast by a system controller to every
// participant (spec.md §6.1).
type SystemCommand struct {
	Kind SystemCommandKind
}

func MarshalSystemCommand(m SystemCommand) []byte {
	e := NewEncoder(1)
	e.PutU8(uint8(m.Kind))
	return e.Bytes()
}

func UnmarshalSystemCommand(payload []byte) (SystemCommand, error) {
	d := NewDecoder(payload)
	k, err := d.U8()
	if err != nil {
		return SystemCommand{}, err
	}
	return SystemCommand{Kind: SystemCommandKind(k)}, nil
}

// WorkflowConfiguration carries the required-participants set that
// the system-state tracker restricts its aggregate computation to
// (spec.md §4.9).
type WorkflowConfiguration struct {
	RequiredParticipantNames []string
}

func MarshalWorkflowConfiguration(m WorkflowConfiguration) []byte {
	e := NewEncoder(64)
	e.PutStrings(m.RequiredParticipantNames)
	return e.Bytes()
}

func UnmarshalWorkflowConfiguration(payload []byte) (WorkflowConfiguration, error) {
	d := NewDecoder(payload)
	names, err := d.Strings()
	if err != nil {
		return WorkflowConfiguration{}, err
	}
	return WorkflowConfiguration{RequiredParticipantNames: names}, nil
}

// BusControllerStatus reports a bus controller's operational state
// (spec.md §6.1); the core forwards it without interpreting
// NetworkType-specific status codes beyond the raw byte.
type BusControllerStatus struct {
	LinkID      string
	NetworkType NetworkType
	StatusCode  uint8
}

func MarshalBusControllerStatus(m BusControllerStatus) []byte {
	e := NewEncoder(16)
	e.PutString(m.LinkID)
	e.PutU8(uint8(m.NetworkType))
	e.PutU8(m.StatusCode)
	return e.Bytes()
}

func UnmarshalBusControllerStatus(payload []byte) (BusControllerStatus, error) {
	d := NewDecoder(payload)
	var m BusControllerStatus
	var err error
	if m.LinkID, err = d.String(); err != nil {
		return m, err
	}
	nt, err := d.U8()
	if err != nil {
		return m, err
	}
	m.NetworkType = NetworkType(nt)
	if m.StatusCode, err = d.U8(); err != nil {
		return m, err
	}
	return m, nil
}

// BusConfigureBaudrate is an opaque configuration directive forwarded
// to the bus controller named by LinkID (spec.md §1, §6.1).
type BusConfigureBaudrate struct {
	LinkID string
	Rate   uint32
	FDRate uint32
}

func MarshalBusConfigureBaudrate(m BusConfigureBaudrate) []byte {
	e := NewEncoder(16)
	e.PutString(m.LinkID)
	e.PutU32(m.Rate)
	e.PutU32(m.FDRate)
	return e.Bytes()
}

func UnmarshalBusConfigureBaudrate(payload []byte) (BusConfigureBaudrate, error) {
	d := NewDecoder(payload)
	var m BusConfigureBaudrate
	var err error
	if m.LinkID, err = d.String(); err != nil {
		return m, err
	}
	if m.Rate, err = d.U32(); err != nil {
		return m, err
	}
	if m.FDRate, err = d.U32(); err != nil {
		return m, err
	}
	return m, nil
}

// BusSetControllerMode is the opaque start/stop/reset directive for a
// bus controller (spec.md §1, §6.1).
type BusSetControllerMode struct {
	LinkID string
	Mode   uint8
}

func MarshalBusSetControllerMode(m BusSetControllerMode) []byte {
	e := NewEncoder(16)
	e.PutString(m.LinkID)
	e.PutU8(m.Mode)
	return e.Bytes()
}

func UnmarshalBusSetControllerMode(payload []byte) (BusSetControllerMode, error) {
	d := NewDecoder(payload)
	var m BusSetControllerMode
	var err error
	if m.LinkID, err = d.String(); err != nil {
		return m, err
	}
	if m.Mode, err = d.U8(); err != nil {
		return m, err
	}
	return m, nil
}
