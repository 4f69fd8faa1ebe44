// Copyright 2024 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"net"
)

// mergedConnReader replays bytes that were buffered past the handshake
// response before reading from the network again. The server may start
// sending frames immediately after 101.
type mergedConnReader struct {
	net.Conn
	unread []byte
}

func newMergedNetConnReader(conn net.Conn, unread []byte) net.Conn {
	return &mergedConnReader{
		Conn:   conn,
		unread: unread,
	}
}

func (m *mergedConnReader) Read(b []byte) (n int, err error) {
	if len(m.unread) > 0 {
		n = copy(b, m.unread)
		m.unread = m.unread[n:]
		return n, nil
	}
	return m.Conn.Read(b)
}
