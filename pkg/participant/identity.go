// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package participant

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/luxfi/ids"
)

// deriveParticipantID computes the wire-level participant id of
// spec.md §3 — a u64 unique within a simulation — from
// sha256(simulationName + "/" + participantName), the same hashing
// idiom the teacher uses to derive ids.ID values elsewhere in the
// stack. Only the low 64 bits, read big-endian from the 32-byte
// digest, are kept: they are all the wire format carries.
func deriveParticipantID(simulationName, participantName string) uint64 {
	digest := sha256.Sum256([]byte(simulationName + "/" + participantName))
	id := ids.ID(digest)
	return binary.BigEndian.Uint64(id[24:32])
}
