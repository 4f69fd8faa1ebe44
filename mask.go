// Copyright 2016 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"math/bits"
)

// newMaskKey returns a fresh masking key for a client frame. RFC 6455
// section 5.3 requires a key that cannot be predicted by the server.
func newMaskKey() ([4]byte, error) {
	var key [4]byte
	_, err := io.ReadFull(rand.Reader, key[:])
	return key, err
}

// maskBytes XORs b with the bytes of key starting at offset pos, eight
// bytes at a time where possible, and returns the final key position.
func maskBytes(key [4]byte, pos int, b []byte) int {
	if len(b) < 8 {
		for i := range b {
			b[i] ^= key[pos&3]
			pos++
		}
		return pos & 3
	}

	key64 := uint64(binary.LittleEndian.Uint32(key[:]))
	key64 |= key64 << 32
	key64 = bits.RotateLeft64(key64, -pos*8)

	i := 0
	for ; len(b)-i > 7; i += 8 {
		binary.LittleEndian.PutUint64(b[i:], binary.LittleEndian.Uint64(b[i:])^key64)
	}

	// whole words do not advance pos modulo 4
	for ; i < len(b); i++ {
		b[i] ^= key[pos&3]
		pos++
	}
	return pos & 3
}
