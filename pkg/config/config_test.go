// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

const validDoc = `
participantName: ECU1
middleware:
  registryUri: silkit://localhost:8500
logging:
  sinks:
    - type: Stdout
      level: Info
canControllers:
  - name: CAN1
    network: CAN1
dataPublishers:
  - name: Pub1
    topic: Temperature
    labels:
      - key: VIN
        value: "1234"
        kind: Mandatory
`

func TestParseValidDocument(t *testing.T) {
	doc, err := Parse([]byte(validDoc))
	require.NoError(t, err)
	require.Equal(t, "ECU1", doc.ParticipantName)
	require.Len(t, doc.CanControllers, 1)
	require.Equal(t, "CAN1", doc.CanControllers[0].Network)
	require.Len(t, doc.DataPublishers, 1)
	require.Equal(t, LabelMandatory, doc.DataPublishers[0].Labels[0].Kind)
}

func TestValidateRejectsDuplicateName(t *testing.T) {
	_, err := Parse([]byte(`
canControllers:
  - name: Dup
dataPublishers:
  - name: Dup
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate service name")
}

func TestValidateRejectsHistoryOutOfRange(t *testing.T) {
	_, err := Parse([]byte(`
dataSubscribers:
  - name: Sub1
    topic: T
    replay: 5
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "history depth")
}

func TestValidateRejectsUnknownLabelKind(t *testing.T) {
	_, err := Parse([]byte(`
dataPublishers:
  - name: Pub1
    topic: T
    labels:
      - key: K
        value: V
        kind: Weird
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown kind")
}

func TestValidateRejectsUnknownSinkType(t *testing.T) {
	_, err := Parse([]byte(`
logging:
  sinks:
    - type: Carrier
      level: Info
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown sink type")
}

func TestValidateRejectsMissingName(t *testing.T) {
	_, err := Parse([]byte(`
canControllers:
  - network: CAN1
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing required field")
}

func TestResolveParticipantNameConfigurationWins(t *testing.T) {
	doc := &Document{ParticipantName: "FromConfig"}
	got := ResolveParticipantName("FromCode", doc, log.NewNoOpLogger())
	require.Equal(t, "FromConfig", got)
}

func TestResolveParticipantNameFallsBackToProgrammatic(t *testing.T) {
	doc := &Document{}
	got := ResolveParticipantName("FromCode", doc, log.NewNoOpLogger())
	require.Equal(t, "FromCode", got)
}
