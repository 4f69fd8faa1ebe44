// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package websocket implements the WebSocket protocol defined in RFC 6455.
//
// # Overview
//
// The Conn type represents a WebSocket connection and drives it through
// the protocol lifecycle: open, closing, closed. A server application
// calls the Upgrader.Upgrade method to get a pointer to a Conn:
//
//	var upgrader = websocket.Upgrader{}
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    conn, err := upgrader.Upgrade(w, r, nil)
//	    if err != nil {
//	        log.Println(err)
//	        return
//	    }
//	    ... Use conn to send and receive messages.
//	}
//
// A client application uses the Dialer type:
//
//	conn, resp, err := websocket.DefaultDialer.Dial("ws://example.com/", nil)
//
// Call the connection WriteMessage and ReadMessage methods to send and
// receive messages, or iterate over incoming messages:
//
//	it := conn.Messages()
//	for it.Next() {
//	    process(it.Opcode(), it.Bytes())
//	}
//	if err := it.Err(); err != nil {
//	    // The connection did not close cleanly with 1000 or 1001.
//	    log.Println(err)
//	}
//
// Connections over transports other than the built-in codec are created
// with NewConn from a FrameReader and a FrameWriter.
//
// # Closing
//
// A connection moves from open to closing when either endpoint sends a
// close frame, and to closed when the closing handshake completes or the
// transport drops. Call the Close method to start the closing handshake:
//
//	conn.Close(websocket.CloseNormalClosure, "bye")
//
// Close waits for the peer's close frame, bounded by the close timeout;
// on timeout the connection is treated as abnormally closed (1006). Once
// closed, the final close code and reason are fixed, available from
// FinalClose, and every further operation fails with the same *CloseError.
//
// The close codes 1005, 1006 and 1015 describe local conditions only and
// are rejected on outgoing close frames.
//
// # Errors
//
// Failures are classified into a closed set of types. Handshake problems
// match errors.Is(err, ErrBadHandshake) and include *HeaderError,
// *HeaderFormatError, *StatusError and the extension negotiation errors;
// *AbortHandshakeError and *RedirectHandshakeError carry the data a
// caller needs to send an HTTP error response or re-attempt the handshake
// elsewhere. Operations on a connection that is not open fail with a
// *CloseError carrying the connection's close code and reason, matched by
// errors.Is(err, ErrClosed) or the IsCloseError helper.
//
// # Concurrency
//
// A Conn supports a single concurrent caller to the write methods and a
// single concurrent caller to the read methods. The Close, State and
// FinalClose methods can be called concurrently with all other methods.
//
// # Origin policy
//
// The Upgrader performs no origin check unless CheckOrigin is set; web
// browsers enforce the same origin policy only through server
// cooperation, so handlers exposed to browsers should set it.
package websocket
