// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned by a Decoder read when fewer bytes remain
// than the value being decoded requires.
var ErrTruncated = errors.New("wire: truncated payload")

// Encoder appends fixed-width and length-prefixed values to an
// in-memory buffer using the wire layout of spec.md §3: little-endian
// numbers, u32-length-prefixed strings, u32-counted sequences and maps.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with capacity hinted by sizeHint.
func NewEncoder(sizeHint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the accumulated payload.
func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) PutU8(v uint8)   { e.buf = append(e.buf, v) }
func (e *Encoder) PutBool(v bool) {
	if v {
		e.PutU8(1)
	} else {
		e.PutU8(0)
	}
}

func (e *Encoder) PutU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) PutU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) PutU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) PutI64(v int64) { e.PutU64(uint64(v)) }

func (e *Encoder) PutBytes(v []byte) {
	e.PutU32(uint32(len(v)))
	e.buf = append(e.buf, v...)
}

func (e *Encoder) PutString(v string) {
	e.PutBytes([]byte(v))
}

// PutStrings writes a u32-counted sequence of length-prefixed strings.
func (e *Encoder) PutStrings(v []string) {
	e.PutU32(uint32(len(v)))
	for _, s := range v {
		e.PutString(s)
	}
}

// PutStringMap writes a u32-counted sequence of (key, value) string pairs.
func (e *Encoder) PutStringMap(v map[string]string) {
	e.PutU32(uint32(len(v)))
	for k, val := range v {
		e.PutString(k)
		e.PutString(val)
	}
}

// Decoder reads values out of a payload buffer in the same order an
// Encoder wrote them, tracking a cursor. Deserializers must tolerate
// trailing unknown fields (spec.md §4.1): callers stop decoding once
// they have read the fields their version understands and ignore
// whatever remains in Decoder.Remaining().
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps payload for sequential decoding.
func NewDecoder(payload []byte) *Decoder {
	return &Decoder{buf: payload}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

// Exhausted reports whether every byte was consumed. The Unmarshal
// functions in this package do not call it.
func (d *Decoder) Exhausted() bool { return d.pos == len(d.buf) }

func (d *Decoder) need(n int) error {
	if d.Remaining() < n {
		return ErrTruncated
	}
	return nil
}

func (d *Decoder) U8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *Decoder) Bool() (bool, error) {
	v, err := d.U8()
	return v != 0, err
}

func (d *Decoder) U16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *Decoder) U32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *Decoder) U64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *Decoder) I64() (int64, error) {
	v, err := d.U64()
	return int64(v), err
}

func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.U32()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	v := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return v, nil
}

func (d *Decoder) String() (string, error) {
	b, err := d.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) Strings() ([]string, error) {
	n, err := d.U32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := d.String()
		if err != nil {
			return nil, fmt.Errorf("wire: string element %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *Decoder) StringMap() (map[string]string, error) {
	n, err := d.U32()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := d.String()
		if err != nil {
			return nil, fmt.Errorf("wire: map key %d: %w", i, err)
		}
		v, err := d.String()
		if err != nil {
			return nil, fmt.Errorf("wire: map value %d: %w", i, err)
		}
		out[k] = v
	}
	return out, nil
}
