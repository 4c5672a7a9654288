// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

// CAN frame flag bits (resolves spec.md §9's open question on the
// byte layout of CanFrame.flags; see SPEC_FULL.md §4.2a).
const (
	CanFlagIDE uint8 = 1 << 0 // extended identifier
	CanFlagRTR uint8 = 1 << 1 // remote transmission request
	CanFlagFDF uint8 = 1 << 2 // CAN FD frame
	CanFlagBRS uint8 = 1 << 3 // bit-rate switch
	CanFlagESI uint8 = 1 << 4 // error state indicator
	// bits 5-7 reserved: writers must clear them, readers must ignore them.
	canFlagReservedMask uint8 = 0b1110_0000
)

// CanFrame is the payload carried inside a BusFrameEvent whose
// NetworkType is NetworkCAN. The core never inspects CanID/Data; it
// only needs the fixed header to size the frame for transport.
type CanFrame struct {
	CanID uint32
	Flags uint8
	DLC   uint8
	Data  []byte
}

func (f CanFrame) marshal(e *Encoder) {
	e.PutU32(f.CanID)
	e.PutU8(f.Flags &^ canFlagReservedMask)
	e.PutU8(f.DLC)
	e.PutBytes(f.Data)
}

func unmarshalCanFrame(d *Decoder) (CanFrame, error) {
	var f CanFrame
	var err error
	if f.CanID, err = d.U32(); err != nil {
		return f, err
	}
	if f.Flags, err = d.U8(); err != nil {
		return f, err
	}
	f.Flags &^= canFlagReservedMask
	if f.DLC, err = d.U8(); err != nil {
		return f, err
	}
	if f.Data, err = d.Bytes(); err != nil {
		return f, err
	}
	return f, nil
}

// MarshalCanFrame encodes f as a standalone buffer, suitable as the
// Payload of a BusFrameEvent{NetworkType: NetworkCAN}.
func MarshalCanFrame(f CanFrame) []byte {
	e := NewEncoder(16 + len(f.Data))
	f.marshal(e)
	return e.Bytes()
}

// UnmarshalCanFrame decodes a buffer previously produced by MarshalCanFrame.
func UnmarshalCanFrame(payload []byte) (CanFrame, error) {
	return unmarshalCanFrame(NewDecoder(payload))
}
