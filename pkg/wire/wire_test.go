// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	msg := ParticipantAnnouncement{
		Peer: PeerInfo{
			ParticipantName: "P1",
			ParticipantID:   42,
			AcceptorURIs:    []string{"silkit://127.0.0.1:8501"},
			Version:         CurrentProtocolVersion,
			Capabilities:    []string{"timesync"},
			SimulationName:  "Sim",
		},
		SimulationName: "Sim",
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, KindParticipantAnnouncement, MarshalParticipantAnnouncement(msg)))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, KindParticipantAnnouncement, frame.Kind)

	got, err := UnmarshalParticipantAnnouncement(frame.Payload)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestReadFrameRejectsBitFlippedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, KindNextSimTask, MarshalNextSimTask(NextSimTask{TimePoint: 1, Duration: 2})))

	raw := buf.Bytes()
	raw[0] ^= 0xFF // flip a length bit, pushing the declared length past EOF
	_, err := ReadFrame(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestReadFrameRejectsOversizePayload(t *testing.T) {
	var lenBuf [4]byte
	lenBuf[0], lenBuf[1], lenBuf[2], lenBuf[3] = 0xFF, 0xFF, 0xFF, 0x7F
	_, err := ReadFrame(bytes.NewReader(lenBuf[:]))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecoderToleratesTrailingUnknownFields(t *testing.T) {
	e := NewEncoder(32)
	e.PutI64(10)
	e.PutI64(5)
	e.PutString("future-minor-version-field")

	d := NewDecoder(e.Bytes())
	task, err := func() (NextSimTask, error) {
		tp, err := d.I64()
		if err != nil {
			return NextSimTask{}, err
		}
		dur, err := d.I64()
		if err != nil {
			return NextSimTask{}, err
		}
		return NextSimTask{TimePoint: tp, Duration: dur}, nil
	}()
	require.NoError(t, err)
	require.Equal(t, NextSimTask{TimePoint: 10, Duration: 5}, task)
	require.Greater(t, d.Remaining(), 0)
}

func TestCanFrameFlagBitsRoundTrip(t *testing.T) {
	f := CanFrame{
		CanID: 0x123,
		Flags: CanFlagIDE | CanFlagFDF | canFlagReservedMask,
		DLC:   8,
		Data:  []byte("Test Message 0"),
	}
	got, err := UnmarshalCanFrame(MarshalCanFrame(f))
	require.NoError(t, err)
	require.Equal(t, CanFlagIDE|CanFlagFDF, got.Flags, "reserved bits must be cleared on write")
	require.Equal(t, f.Data, got.Data)
}

func TestServiceDiscoveryEventRoundTrip(t *testing.T) {
	ev := ServiceDiscoveryEvent{
		EventKind: ServiceCreated,
		Descriptor: ServiceDescriptor{
			ParticipantName:  "P1",
			ParticipantID:    7,
			NetworkName:      "CAN1",
			ServiceName:      "CanWriter",
			ServiceType:      ServiceController,
			NetworkType:      NetworkCAN,
			ServiceID:        3,
			SupplementalData: map[string]string{"topic": "T"},
		},
	}
	got, err := UnmarshalServiceDiscoveryEvent(MarshalServiceDiscoveryEvent(ev))
	require.NoError(t, err)
	require.Equal(t, ev, got)
}
