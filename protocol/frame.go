// File: protocol/frame.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Minimal WebSocket frame codec for the client side. Outgoing frames
// are always masked, as the protocol demands from clients; incoming
// server frames arrive unmasked. Encoding appends into caller-owned
// buffers so the codec itself never allocates on the hot path.

package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// Frame opcodes and header bits.
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA

	FinBit  byte = 0x80
	MaskBit byte = 0x80
)

// MaxFramePayload caps a single parsed frame. Larger frames are a
// protocol failure, not a reason to allocate without bound.
const MaxFramePayload = 1 << 20

var (
	ErrFrameTooLarge = errors.New("frame: payload exceeds the size limit")
	ErrFrameEntropy  = errors.New("frame: mask key generation failed")
)

// Frame is one parsed server frame. Payload aliases the input buffer;
// it is only valid while that buffer is.
type Frame struct {
	Final   bool
	Opcode  byte
	Payload []byte
}

// AppendClientFrame appends a complete masked frame carrying payload
// to dst and returns the extended slice. The mask key comes from
// entropy.
func AppendClientFrame(dst []byte, opcode byte, payload []byte, entropy io.Reader) ([]byte, error) {
	var key [4]byte
	if _, err := io.ReadFull(entropy, key[:]); err != nil {
		return dst, ErrFrameEntropy
	}

	dst = append(dst, FinBit|opcode)
	n := len(payload)
	switch {
	case n < 126:
		dst = append(dst, MaskBit|byte(n))
	case n <= 0xFFFF:
		dst = append(dst, MaskBit|126, byte(n>>8), byte(n))
	default:
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		dst = append(dst, MaskBit|127)
		dst = append(dst, ext[:]...)
	}
	dst = append(dst, key[:]...)
	for i, b := range payload {
		dst = append(dst, b^key[i&3])
	}
	return dst, nil
}

// AppendCloseFrame appends a masked close frame with the given status
// code.
func AppendCloseFrame(dst []byte, status uint16, entropy io.Reader) ([]byte, error) {
	var body [2]byte
	binary.BigEndian.PutUint16(body[:], status)
	return AppendClientFrame(dst, OpClose, body[:], entropy)
}

// ParseServerFrame decodes one frame from raw. An incomplete prefix is
// not an error; it returns a zero consumed count, so the caller keeps
// the bytes and retries once more arrive. Masked input is unmasked in
// place.
func ParseServerFrame(raw []byte) (Frame, int, error) {
	if len(raw) < 2 {
		return Frame{}, 0, nil
	}
	f := Frame{
		Final:  raw[0]&FinBit != 0,
		Opcode: raw[0] & 0x0F,
	}
	masked := raw[1]&MaskBit != 0
	length := int(raw[1] & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return Frame{}, 0, nil
		}
		length = int(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return Frame{}, 0, nil
		}
		v := binary.BigEndian.Uint64(raw[offset:])
		if v > MaxFramePayload {
			return Frame{}, 0, ErrFrameTooLarge
		}
		length = int(v)
		offset += 8
	}
	if length > MaxFramePayload {
		return Frame{}, 0, ErrFrameTooLarge
	}

	var key [4]byte
	if masked {
		if len(raw) < offset+4 {
			return Frame{}, 0, nil
		}
		copy(key[:], raw[offset:])
		offset += 4
	}

	total := offset + length
	if len(raw) < total {
		return Frame{}, 0, nil
	}
	f.Payload = raw[offset:total]
	if masked {
		for i := range f.Payload {
			f.Payload[i] ^= key[i&3]
		}
	}
	return f, total, nil
}

// CloseCode extracts the status code from a close frame payload.
func CloseCode(payload []byte) (uint16, bool) {
	if len(payload) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(payload), true
}
