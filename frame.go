// Copyright 2024 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"
)

// Opcode identifies the type of a WebSocket frame, RFC 6455 section 5.2.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (op Opcode) isControl() bool { return op&0x8 != 0 }

func (op Opcode) isData() bool {
	return op == OpContinuation || op == OpText || op == OpBinary
}

func validOpcode(op Opcode) bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

// Frame is a single WebSocket frame. The engine treats the payload as
// opaque bytes; interpretation beyond the opcode belongs to the caller.
type Frame struct {
	Opcode  Opcode
	Payload []byte
	FIN     bool
}

// FrameReader is the receiving half of the transport collaborator.
// ReadFrame blocks until a frame is available or the transport fails.
type FrameReader interface {
	ReadFrame() (Frame, error)
}

// FrameWriter is the sending half of the transport collaborator.
type FrameWriter interface {
	WriteFrame(Frame) error
}

const (
	// maxControlPayload is the control frame payload limit of RFC 6455
	// section 5.5.
	maxControlPayload = 125

	// maxCloseReason leaves room for the two code bytes in a close frame.
	maxCloseReason = maxControlPayload - 2
)

// errInvalidSentCloseCode rejects outgoing close frames carrying a code
// that must not appear on the wire, including the internal codes 1005,
// 1006 and 1015.
var errInvalidSentCloseCode = errors.New("websocket: close code cannot be sent on the wire")

// encodeClosePayload builds a close frame payload from a code and reason.
func encodeClosePayload(code CloseCode, reason string) ([]byte, error) {
	if !isValidSentCloseCode(code) {
		return nil, errInvalidSentCloseCode
	}
	if !utf8.ValidString(reason) {
		return nil, errInvalidUTF8
	}
	if len(reason) > maxCloseReason {
		return nil, &PayloadTooBigError{Size: int64(len(reason) + 2), Limit: maxControlPayload}
	}
	p := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(p, uint16(code))
	copy(p[2:], reason)
	return p, nil
}

// parseClosePayload extracts the close code and reason from a close frame
// received from the peer. An empty payload means the peer closed without a
// code, reported as 1005.
func parseClosePayload(p []byte) (CloseCode, string, error) {
	if len(p) == 0 {
		return CloseNoStatusReceived, "", nil
	}
	if len(p) == 1 {
		return 0, "", errBadClosePayload
	}
	code := CloseCode(binary.BigEndian.Uint16(p))
	if !isValidReceivedCloseCode(code) {
		return 0, "", errBadCloseCode
	}
	reason := string(p[2:])
	if !utf8.ValidString(reason) {
		return 0, "", errInvalidUTF8
	}
	return code, reason, nil
}

// Payload length encodings, RFC 6455 section 5.2.
const (
	payloadLen16Bit = 126
	payloadLen64Bit = 127
)

// wireReader decodes frames from a byte stream. It implements FrameReader
// and enforces the frame-level protocol rules; message-level rules live in
// Conn.
type wireReader struct {
	br *bufio.Reader

	// expectMasked is true on the server side: client frames must be
	// masked, server frames must not be, RFC 6455 section 5.3.
	expectMasked bool

	// maxPayload bounds a single frame's payload. Zero means no limit.
	maxPayload int64
}

func (r *wireReader) ReadFrame() (Frame, error) {
	var header [2]byte
	if _, err := io.ReadFull(r.br, header[:]); err != nil {
		return Frame{}, err
	}

	fin := header[0]&0x80 != 0
	opcode := Opcode(header[0] & 0x0F)
	masked := header[1]&0x80 != 0

	if header[0]&0x70 != 0 {
		return Frame{}, errReservedBits
	}
	if !validOpcode(opcode) {
		return Frame{}, errReservedOpcode
	}
	if opcode.isControl() && !fin {
		return Frame{}, errFragmentedControl
	}
	if masked != r.expectMasked {
		if masked {
			return Frame{}, errUnexpectedMask
		}
		return Frame{}, errMissingMask
	}

	length := int64(header[1] & 0x7F)
	switch length {
	case payloadLen16Bit:
		var buf [2]byte
		if _, err := io.ReadFull(r.br, buf[:]); err != nil {
			return Frame{}, err
		}
		length = int64(binary.BigEndian.Uint16(buf[:]))
	case payloadLen64Bit:
		var buf [8]byte
		if _, err := io.ReadFull(r.br, buf[:]); err != nil {
			return Frame{}, err
		}
		n := binary.BigEndian.Uint64(buf[:])
		if n&(1<<63) != 0 {
			return Frame{}, errReservedBits
		}
		length = int64(n)
	}

	if opcode.isControl() && length > maxControlPayload {
		return Frame{}, errControlTooBig
	}
	if r.maxPayload > 0 && length > r.maxPayload {
		return Frame{}, &PayloadTooBigError{Size: length, Limit: r.maxPayload}
	}

	var key [4]byte
	if masked {
		if _, err := io.ReadFull(r.br, key[:]); err != nil {
			return Frame{}, err
		}
	}

	payload, err := r.readPayload(length)
	if err != nil {
		return Frame{}, err
	}
	if masked {
		maskBytes(key, 0, payload)
	}

	return Frame{Opcode: opcode, Payload: payload, FIN: fin}, nil
}

// readChunkSize bounds how much memory a frame's declared length can claim
// before its payload bytes have actually arrived.
const readChunkSize = 32 << 10

// readPayload reads a payload of the declared length, growing the buffer
// chunk by chunk so a hostile length cannot force a huge allocation up
// front.
func (r *wireReader) readPayload(length int64) ([]byte, error) {
	if length <= readChunkSize {
		p := make([]byte, length)
		if _, err := io.ReadFull(r.br, p); err != nil {
			return nil, err
		}
		return p, nil
	}
	p := make([]byte, 0, readChunkSize)
	for remaining := length; remaining > 0; {
		n := remaining
		if n > readChunkSize {
			n = readChunkSize
		}
		off := int64(len(p))
		p = append(p, make([]byte, n)...)
		if _, err := io.ReadFull(r.br, p[off:]); err != nil {
			return nil, err
		}
		remaining -= n
	}
	return p, nil
}

// wireWriter encodes frames onto a byte stream. It implements FrameWriter.
// Client-side writers mask every frame with a fresh key.
type wireWriter struct {
	bw   *bufio.Writer
	mask bool
}

func (w *wireWriter) WriteFrame(f Frame) error {
	if !validOpcode(f.Opcode) {
		return errReservedOpcode
	}
	if f.Opcode.isControl() {
		if !f.FIN {
			return errFragmentedControl
		}
		if len(f.Payload) > maxControlPayload {
			return errControlTooBig
		}
	}

	b0 := byte(f.Opcode)
	if f.FIN {
		b0 |= 0x80
	}

	length := len(f.Payload)
	var header []byte
	switch {
	case length <= 125:
		header = []byte{b0, byte(length)}
	case length <= 0xFFFF:
		header = []byte{b0, payloadLen16Bit, 0, 0}
		binary.BigEndian.PutUint16(header[2:], uint16(length))
	default:
		header = []byte{b0, payloadLen64Bit, 0, 0, 0, 0, 0, 0, 0, 0}
		binary.BigEndian.PutUint64(header[2:], uint64(length))
	}
	if w.mask {
		header[1] |= 0x80
	}
	if _, err := w.bw.Write(header); err != nil {
		return err
	}

	if w.mask {
		key, err := newMaskKey()
		if err != nil {
			return err
		}
		if _, err := w.bw.Write(key[:]); err != nil {
			return err
		}
		p := make([]byte, length)
		copy(p, f.Payload)
		maskBytes(key, 0, p)
		if _, err := w.bw.Write(p); err != nil {
			return err
		}
	} else if _, err := w.bw.Write(f.Payload); err != nil {
		return err
	}

	return w.bw.Flush()
}
