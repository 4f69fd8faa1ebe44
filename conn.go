// Copyright 2024 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"
	"unicode/utf8"
)

// ConnectionState is the lifecycle state of a connection. Transitions are
// monotonic: Open to Closing to Closed, with Closed reachable directly on
// an unrecoverable fault.
type ConnectionState int

const (
	StateOpen ConnectionState = iota
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// defaultCloseTimeout bounds the wait for the peer's half of the closing
// handshake before the transport is treated as gone.
const defaultCloseTimeout = 5 * time.Second

// Conn drives a single WebSocket connection through the RFC 6455
// lifecycle. It owns the connection state and, once the connection ends,
// the final close code and reason.
//
// A Conn supports one concurrent reader and one concurrent writer. The
// Close method can be called concurrently with both.
type Conn struct {
	fr     FrameReader
	fw     FrameWriter
	closer io.Closer
	wire   *wireReader // non-nil when fr is the built-in codec

	subprotocol string
	extensions  []string
	isServer    bool

	readLimit    int64
	closeTimeout time.Duration

	// writeMu serializes the writer path, readMu the reader path. mu
	// guards the state fields below and is never held across transport
	// calls.
	writeMu sync.Mutex
	readMu  sync.Mutex
	mu      sync.Mutex

	state         ConnectionState
	closeSent     bool
	closeReceived bool

	// localCode/localReason record a close we initiated, pendingCode/
	// pendingReason one the peer sent. The finalized pair is immutable.
	localCode     CloseCode
	localReason   string
	pendingCode   CloseCode
	pendingReason string

	finalized   bool
	closeCode   CloseCode
	closeReason string

	closed chan struct{} // closed exactly once, on transition to StateClosed

	// fragment reassembly, reader path only
	inFragment   bool
	fragmentOp   Opcode
	fragmentData []byte
}

// NewConn creates a connection over an abstract frame transport. closer,
// if non-nil, is closed when the connection reaches the Closed state and
// the transport must then fail any blocked ReadFrame call. Without a
// closer a Close that times out cannot interrupt a pending read; the
// transport has to release it on its own.
func NewConn(fr FrameReader, fw FrameWriter, closer io.Closer) *Conn {
	return &Conn{
		fr:           fr,
		fw:           fw,
		closer:       closer,
		closeTimeout: defaultCloseTimeout,
		closed:       make(chan struct{}),
	}
}

// newConn creates a connection over a network transport using the built-in
// frame codec. Server connections expect masked frames and send unmasked
// ones; client connections the reverse.
func newConn(netConn net.Conn, isServer bool, readBufSize, writeBufSize int) *Conn {
	wire := &wireReader{
		br:           bufio.NewReaderSize(netConn, readBufSize),
		expectMasked: isServer,
	}
	c := NewConn(wire, &wireWriter{
		bw:   bufio.NewWriterSize(netConn, writeBufSize),
		mask: !isServer,
	}, netConn)
	c.wire = wire
	c.isServer = isServer
	return c
}

// Subprotocol returns the negotiated protocol for the connection.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// Extensions returns the negotiated extension values for the connection.
func (c *Conn) Extensions() []string { return c.extensions }

// SetReadLimit sets the maximum size in bytes for a message read from the
// peer. A message exceeding the limit fails the read with a
// PayloadTooBigError and starts the closing handshake with code 1009.
func (c *Conn) SetReadLimit(limit int64) {
	c.readLimit = limit
	if c.wire != nil {
		c.wire.maxPayload = limit
	}
}

// SetCloseTimeout sets how long Close waits for the peer's half of the
// closing handshake before forcing an abnormal closure.
func (c *Conn) SetCloseTimeout(d time.Duration) { c.closeTimeout = d }

// State returns the current connection state.
func (c *Conn) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FinalClose returns the connection's final close code and reason. ok is
// false until the connection reaches the Closed state; afterwards the
// returned pair never changes.
func (c *Conn) FinalClose() (code CloseCode, reason string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason, c.finalized
}

// closedErrorLocked derives the closed-connection error with the most
// specific close code available: the finalized pair once terminal, the
// peer's pending close, the locally initiated close, or 1006 when the
// transport vanished without any close frame.
func (c *Conn) closedErrorLocked() *CloseError {
	switch {
	case c.finalized:
		return &CloseError{Code: c.closeCode, Reason: c.closeReason}
	case c.closeReceived:
		return &CloseError{Code: c.pendingCode, Reason: c.pendingReason}
	case c.closeSent:
		return &CloseError{Code: c.localCode, Reason: c.localReason}
	}
	return &CloseError{Code: CloseAbnormalClosure}
}

func (c *Conn) closedError() *CloseError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedErrorLocked()
}

// finalizeLocked moves the connection to Closed with the given pair and
// releases the transport. Idempotent; the first pair wins.
func (c *Conn) finalizeLocked(code CloseCode, reason string) {
	if c.finalized {
		return
	}
	c.finalized = true
	c.state = StateClosed
	c.closeCode = code
	c.closeReason = reason
	close(c.closed)
	if c.closer != nil {
		c.closer.Close()
	}
}

// Fail forces the connection to Closed without a closing handshake,
// recording code and reason as the final pair. Transports use it to report
// faults the engine cannot see, such as a TLS failure (1015). A zero code
// records an abnormal closure (1006). Nothing is sent on the wire.
func (c *Conn) Fail(code CloseCode, reason string) {
	if code == 0 {
		code = CloseAbnormalClosure
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalizeLocked(code, reason)
}

// startClose sends the local half of the closing handshake, if it has not
// been sent yet, and moves an open connection to Closing.
func (c *Conn) startClose(code CloseCode, reason string) {
	payload, err := encodeClosePayload(code, reason)
	if err != nil {
		payload, _ = encodeClosePayload(code, "")
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	send := !c.closeSent
	if send {
		c.closeSent = true
		c.localCode = code
		c.localReason = reason
	}
	if c.state == StateOpen {
		c.state = StateClosing
	}
	c.mu.Unlock()

	if send {
		c.writeMu.Lock()
		_ = c.fw.WriteFrame(Frame{Opcode: OpClose, Payload: payload, FIN: true})
		c.writeMu.Unlock()
	}
}

// WriteFrame sends a frame to the peer. It is permitted only while the
// connection is open, except for the outgoing close frame of the local
// half of the closing handshake.
func (c *Conn) WriteFrame(f Frame) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		err := c.closedErrorLocked()
		c.mu.Unlock()
		return err
	case StateClosing:
		if f.Opcode != OpClose || c.closeSent {
			err := c.closedErrorLocked()
			c.mu.Unlock()
			return err
		}
	}
	if f.Opcode == OpClose {
		if len(f.Payload) == 1 {
			c.mu.Unlock()
			return errBadClosePayload
		}
		code, reason := CloseCode(CloseNoStatusReceived), ""
		if len(f.Payload) >= 2 {
			code = CloseCode(uint16(f.Payload[0])<<8 | uint16(f.Payload[1]))
			reason = string(f.Payload[2:])
			if !isValidSentCloseCode(code) {
				c.mu.Unlock()
				return errInvalidSentCloseCode
			}
		}
		c.closeSent = true
		c.localCode = code
		c.localReason = reason
		if c.state == StateOpen {
			c.state = StateClosing
		}
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.fw.WriteFrame(f)
	c.writeMu.Unlock()
	if err != nil {
		c.Fail(CloseAbnormalClosure, "")
		return c.closedError()
	}
	return nil
}

// ReadFrame returns the next frame from the peer. Control frames are
// returned to the caller except for close frames, which complete the
// closing handshake and surface as a *CloseError.
func (c *Conn) ReadFrame() (Frame, error) {
	c.mu.Lock()
	if c.state != StateOpen {
		err := c.closedErrorLocked()
		c.mu.Unlock()
		return Frame{}, err
	}
	c.mu.Unlock()

	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.readFrame()
}

// readFrame is the reader path. Unlike ReadFrame it keeps working during
// Closing so the handshake can complete. Callers hold readMu.
func (c *Conn) readFrame() (Frame, error) {
	c.mu.Lock()
	if c.state == StateClosed {
		err := c.closedErrorLocked()
		c.mu.Unlock()
		return Frame{}, err
	}
	c.mu.Unlock()

	f, err := c.fr.ReadFrame()
	if err != nil {
		return Frame{}, c.readFailed(err)
	}
	if f.Opcode != OpClose {
		return f, nil
	}

	code, reason, perr := parseClosePayload(f.Payload)
	if perr != nil {
		return Frame{}, c.readFailed(perr)
	}

	c.mu.Lock()
	c.closeReceived = true
	c.pendingCode = code
	c.pendingReason = reason
	if c.state == StateOpen {
		c.state = StateClosing
	}
	echo := !c.closeSent
	if echo {
		c.closeSent = true
		c.localCode = code
		c.localReason = ""
	}
	c.mu.Unlock()

	if echo {
		// Echo the peer's code; a close received without a code (1005)
		// is answered with an empty close payload.
		var payload []byte
		if code != CloseNoStatusReceived {
			payload, _ = encodeClosePayload(code, "")
		}
		c.writeMu.Lock()
		_ = c.fw.WriteFrame(Frame{Opcode: OpClose, Payload: payload, FIN: true})
		c.writeMu.Unlock()
	}

	c.mu.Lock()
	c.finalizeLocked(code, reason)
	err = c.closedErrorLocked()
	c.mu.Unlock()
	return Frame{}, err
}

// readFailed classifies a reader-path failure. Protocol violations and
// oversized payloads start the closing handshake with their mapped close
// codes and surface as their own error kinds; anything else is an
// unrecoverable transport fault and closes the connection abnormally.
func (c *Conn) readFailed(err error) error {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		c.startClose(pe.Code, pe.Text)
		return pe
	}
	var tooBig *PayloadTooBigError
	if errors.As(err, &tooBig) {
		c.startClose(CloseMessageTooBig, "payload too big")
		return tooBig
	}
	c.Fail(CloseAbnormalClosure, "")
	return c.closedError()
}

// ReadMessage returns the next complete data message from the peer,
// reassembling fragments, answering pings and validating text payloads.
// The returned opcode is OpText or OpBinary.
func (c *Conn) ReadMessage() (Opcode, []byte, error) {
	c.mu.Lock()
	if c.state != StateOpen {
		err := c.closedErrorLocked()
		c.mu.Unlock()
		return 0, nil, err
	}
	c.mu.Unlock()

	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		f, err := c.readFrame()
		if err != nil {
			return 0, nil, err
		}

		switch f.Opcode {
		case OpPing:
			c.writeMu.Lock()
			_ = c.fw.WriteFrame(Frame{Opcode: OpPong, Payload: f.Payload, FIN: true})
			c.writeMu.Unlock()
			continue
		case OpPong:
			continue
		}

		switch f.Opcode {
		case OpText, OpBinary:
			if c.inFragment {
				return 0, nil, c.readFailed(errInterleavedMessage)
			}
			if f.FIN {
				if err := c.checkMessageSize(int64(len(f.Payload))); err != nil {
					return 0, nil, err
				}
				if f.Opcode == OpText && !utf8.Valid(f.Payload) {
					return 0, nil, c.readFailed(errInvalidUTF8)
				}
				return f.Opcode, f.Payload, nil
			}
			c.inFragment = true
			c.fragmentOp = f.Opcode
			c.fragmentData = append(c.fragmentData[:0], f.Payload...)

		case OpContinuation:
			if !c.inFragment {
				return 0, nil, c.readFailed(errUnexpectedContinuation)
			}
			c.fragmentData = append(c.fragmentData, f.Payload...)
			if f.FIN {
				c.inFragment = false
				op := c.fragmentOp
				if err := c.checkMessageSize(int64(len(c.fragmentData))); err != nil {
					return 0, nil, err
				}
				payload := make([]byte, len(c.fragmentData))
				copy(payload, c.fragmentData)
				if op == OpText && !utf8.Valid(payload) {
					return 0, nil, c.readFailed(errInvalidUTF8)
				}
				return op, payload, nil
			}
		}

		if err := c.checkMessageSize(int64(len(c.fragmentData))); err != nil {
			c.inFragment = false
			c.fragmentData = nil
			return 0, nil, err
		}
	}
}

// checkMessageSize enforces the read limit at the message level. An
// oversized message starts the closing handshake with code 1009.
func (c *Conn) checkMessageSize(size int64) error {
	if c.readLimit <= 0 || size <= c.readLimit {
		return nil
	}
	c.startClose(CloseMessageTooBig, "payload too big")
	return &PayloadTooBigError{Size: size, Limit: c.readLimit}
}

// WriteMessage sends a complete data message as a single frame. Text
// messages must be valid UTF-8.
func (c *Conn) WriteMessage(op Opcode, data []byte) error {
	if op != OpText && op != OpBinary {
		return errUnsupportedData
	}
	if op == OpText && !utf8.Valid(data) {
		return errInvalidUTF8
	}
	return c.WriteFrame(Frame{Opcode: op, Payload: data, FIN: true})
}

// WriteControl sends a ping or pong frame.
func (c *Conn) WriteControl(op Opcode, payload []byte) error {
	if op != OpPing && op != OpPong {
		return errReservedOpcode
	}
	return c.WriteFrame(Frame{Opcode: op, Payload: payload, FIN: true})
}

// Close performs the closing handshake: it sends a close frame with the
// given code and reason and waits for the peer's close, bounded by the
// close timeout. On timeout the transport is treated as gone and the
// connection is forced to Closed with code 1006; closing the connection's
// closer then releases the frame the drain goroutine is blocked on.
//
// Codes that must not appear on the wire (1005, 1006, 1015) and codes
// outside the sendable ranges are rejected. Close is idempotent once the
// connection is closed.
func (c *Conn) Close(code CloseCode, reason string) error {
	payload, err := encodeClosePayload(code, reason)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	send := !c.closeSent
	if send {
		c.closeSent = true
		c.localCode = code
		c.localReason = reason
	}
	if c.state == StateOpen {
		c.state = StateClosing
	}
	c.mu.Unlock()

	if send {
		c.writeMu.Lock()
		werr := c.fw.WriteFrame(Frame{Opcode: OpClose, Payload: payload, FIN: true})
		c.writeMu.Unlock()
		if werr != nil {
			c.Fail(CloseAbnormalClosure, "")
			return nil
		}
	}

	// Drain frames until the peer's close arrives. When a concurrent
	// reader is active this blocks on readMu until that reader observes
	// the close instead.
	go c.drainForClose()

	timeout := c.closeTimeout
	if timeout <= 0 {
		timeout = defaultCloseTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.closed:
	case <-timer.C:
		c.Fail(CloseAbnormalClosure, "")
	}
	return nil
}

func (c *Conn) drainForClose() {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for {
		c.mu.Lock()
		terminated := c.state == StateClosed
		c.mu.Unlock()
		if terminated {
			return
		}
		if _, err := c.readFrame(); err != nil {
			return
		}
	}
}

// Messages returns an iterator over the connection's incoming data
// messages:
//
//	it := conn.Messages()
//	for it.Next() {
//	    handle(it.Opcode(), it.Bytes())
//	}
//	if err := it.Err(); err != nil {
//	    // the connection did not close cleanly
//	}
//
// The iteration ends without error exactly when the connection closes
// with code 1000 or 1001; any other terminal condition is reported by
// Err. The stream is consumed once per connection; a new iterator
// continues where the previous one stopped.
func (c *Conn) Messages() *MessageIterator {
	return &MessageIterator{conn: c}
}

// MessageIterator iterates over received data messages in the style of
// bufio.Scanner.
type MessageIterator struct {
	conn *Conn
	op   Opcode
	data []byte
	err  error
	done bool
}

// Next advances to the next message. It returns false when the
// connection has ended; consult Err to distinguish a clean close from a
// failure.
func (it *MessageIterator) Next() bool {
	if it.done {
		return false
	}
	op, data, err := it.conn.ReadMessage()
	if err != nil {
		it.done = true
		// A clean close is not an error for consumers of the stream.
		// Every other terminal condition must surface.
		if IsCloseError(err, CloseNormalClosure, CloseGoingAway) {
			it.err = nil
		} else {
			it.err = err
		}
		return false
	}
	it.op = op
	it.data = data
	return true
}

// Opcode returns the current message's opcode, OpText or OpBinary.
func (it *MessageIterator) Opcode() Opcode { return it.op }

// Bytes returns the current message's payload.
func (it *MessageIterator) Bytes() []byte { return it.data }

// Err returns the terminal error, or nil after a clean close.
func (it *MessageIterator) Err() error { return it.err }
