// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire implements the length-prefixed, version-tagged binary
// framing used between participants and the registry (spec.md §4.1,
// §6.1): a u32 length prefix (exclusive of itself), a u8 message-kind
// tag, and a kind-specific little-endian payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLength bounds a single frame's payload to guard against a
// corrupt or hostile length prefix forcing an unbounded allocation.
const MaxFrameLength = 64 << 20 // 64 MiB

// ErrFrameTooLarge is returned when a declared frame length exceeds
// MaxFrameLength.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum length")

// ErrShortFrame is returned when a frame is too small to carry even a
// kind byte.
var ErrShortFrame = errors.New("wire: frame shorter than kind byte")

// ErrLengthMismatch reports a payload whose length differs from the
// frame's declared length. Nothing in this package returns it: ReadFrame
// reads exactly the declared length, and the Unmarshal functions accept
// trailing bytes.
var ErrLengthMismatch = errors.New("wire: payload length does not match frame length")

// Frame is one decoded wire frame: a kind tag plus its raw payload
// (the kind-specific body, not including the length prefix or the
// kind byte itself).
type Frame struct {
	Kind    Kind
	Payload []byte
}

// WriteFrame writes the length prefix, kind byte, and payload to w.
// A malformed write (w returning an error) must be treated by the
// caller as a TransportError that closes the peer (spec.md §7).
func WriteFrame(w io.Writer, kind Kind, payload []byte) error {
	if len(payload) > MaxFrameLength {
		return ErrFrameTooLarge
	}
	var header [5]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(1+len(payload)))
	header[4] = byte(kind)
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r. A malformed frame
// (declared length that does not fit, or an I/O error mid-read) is a
// ProtocolError/TransportError that terminates the peer connection.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length == 0 {
		return Frame{}, ErrShortFrame
	}
	if length > MaxFrameLength {
		return Frame{}, ErrFrameTooLarge
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("wire: read frame body: %w", err)
	}
	return Frame{Kind: Kind(body[0]), Payload: body[1:]}, nil
}
