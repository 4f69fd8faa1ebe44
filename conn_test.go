// Copyright 2024 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// scriptTransport is an in-memory frame transport. Frames and errors
// queued with push and pushErr are returned from ReadFrame in order;
// written frames are recorded.
type scriptTransport struct {
	in chan scriptEvent

	mu     sync.Mutex
	out    []Frame
	closed chan struct{}
	once   sync.Once
}

type scriptEvent struct {
	frame Frame
	err   error
}

func newScriptTransport() *scriptTransport {
	return &scriptTransport{
		in:     make(chan scriptEvent, 16),
		closed: make(chan struct{}),
	}
}

func (s *scriptTransport) push(f Frame)      { s.in <- scriptEvent{frame: f} }
func (s *scriptTransport) pushErr(err error) { s.in <- scriptEvent{err: err} }

func (s *scriptTransport) pushClose(code CloseCode, reason string) {
	payload, err := encodeClosePayload(code, reason)
	if err != nil {
		panic(err)
	}
	s.push(Frame{Opcode: OpClose, Payload: payload, FIN: true})
}

func (s *scriptTransport) ReadFrame() (Frame, error) {
	select {
	case ev := <-s.in:
		return ev.frame, ev.err
	case <-s.closed:
		return Frame{}, net.ErrClosed
	}
}

func (s *scriptTransport) WriteFrame(f Frame) error {
	select {
	case <-s.closed:
		return net.ErrClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, f)
	return nil
}

func (s *scriptTransport) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptTransport) written() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.out...)
}

func (s *scriptTransport) lastWritten(t *testing.T) Frame {
	t.Helper()
	frames := s.written()
	if len(frames) == 0 {
		t.Fatal("no frames written")
	}
	return frames[len(frames)-1]
}

func newTestConn() (*Conn, *scriptTransport) {
	tr := newScriptTransport()
	c := NewConn(tr, tr, tr)
	return c, tr
}

func TestConnInitialState(t *testing.T) {
	c, _ := newTestConn()
	if c.State() != StateOpen {
		t.Fatalf("State() = %v, want open", c.State())
	}
	if _, _, ok := c.FinalClose(); ok {
		t.Fatal("FinalClose() ok before close")
	}
}

func TestPeerClose(t *testing.T) {
	c, tr := newTestConn()
	tr.pushClose(CloseNormalClosure, "done")

	_, err := c.ReadFrame()
	if !IsCloseError(err, CloseNormalClosure) {
		t.Fatalf("ReadFrame = %v, want close error 1000", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", c.State())
	}
	code, reason, ok := c.FinalClose()
	if !ok || code != CloseNormalClosure || reason != "done" {
		t.Fatalf("FinalClose() = %d, %q, %v", code, reason, ok)
	}

	// The close was echoed with the peer's code.
	echo := tr.lastWritten(t)
	if echo.Opcode != OpClose {
		t.Fatalf("echo opcode = %v, want close", echo.Opcode)
	}
	if code, _, _ := parseClosePayload(echo.Payload); code != CloseNormalClosure {
		t.Fatalf("echo code = %d, want 1000", code)
	}
}

func TestPeerCloseWithoutStatus(t *testing.T) {
	c, tr := newTestConn()
	tr.push(Frame{Opcode: OpClose, FIN: true})

	_, err := c.ReadFrame()
	if !IsCloseError(err, CloseNoStatusReceived) {
		t.Fatalf("ReadFrame = %v, want close error 1005", err)
	}
	if echo := tr.lastWritten(t); len(echo.Payload) != 0 {
		t.Fatalf("echo payload = % x, want empty", echo.Payload)
	}
}

func TestClosedIdempotence(t *testing.T) {
	c, tr := newTestConn()
	tr.pushClose(CloseProtocolError, "oops")
	if _, err := c.ReadFrame(); !IsCloseError(err, CloseProtocolError) {
		t.Fatalf("ReadFrame = %v", err)
	}

	for i := 0; i < 3; i++ {
		var ce *CloseError

		_, err := c.ReadFrame()
		if !errors.As(err, &ce) || ce.Code != CloseProtocolError || ce.Reason != "oops" {
			t.Fatalf("ReadFrame #%d = %v, want identical close error", i, err)
		}
		err = c.WriteMessage(OpText, []byte("hi"))
		if !errors.As(err, &ce) || ce.Code != CloseProtocolError || ce.Reason != "oops" {
			t.Fatalf("WriteMessage #%d = %v, want identical close error", i, err)
		}
		_, _, err = c.ReadMessage()
		if !errors.Is(err, ErrClosed) || !errors.Is(err, ErrInvalidState) {
			t.Fatalf("ReadMessage #%d does not match state-invalid branch: %v", i, err)
		}
	}
}

func TestTransportDrop(t *testing.T) {
	c, tr := newTestConn()
	tr.pushErr(io.ErrUnexpectedEOF)

	_, err := c.ReadFrame()
	if !IsCloseError(err, CloseAbnormalClosure) {
		t.Fatalf("ReadFrame = %v, want close error 1006", err)
	}
	code, reason, ok := c.FinalClose()
	if !ok || code != CloseAbnormalClosure || reason != "" {
		t.Fatalf("FinalClose() = %d, %q, %v, want 1006", code, reason, ok)
	}
}

func TestCloseHandshake(t *testing.T) {
	c, tr := newTestConn()
	tr.pushClose(CloseNormalClosure, "")

	if err := c.Close(CloseNormalClosure, "bye"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", c.State())
	}
	code, _, ok := c.FinalClose()
	if !ok || code != CloseNormalClosure {
		t.Fatalf("FinalClose() = %d, %v", code, ok)
	}

	frames := tr.written()
	if len(frames) != 1 || frames[0].Opcode != OpClose {
		t.Fatalf("written = %v, want a single close frame", frames)
	}
	if code, reason, _ := parseClosePayload(frames[0].Payload); code != CloseNormalClosure || reason != "bye" {
		t.Fatalf("sent close = %d, %q", code, reason)
	}
}

func TestCloseTimeout(t *testing.T) {
	c, _ := newTestConn()
	c.SetCloseTimeout(20 * time.Millisecond)

	start := time.Now()
	if err := c.Close(CloseNormalClosure, ""); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Close took %v", elapsed)
	}
	code, _, ok := c.FinalClose()
	if !ok || code != CloseAbnormalClosure {
		t.Fatalf("FinalClose() = %d, %v, want 1006 after timeout", code, ok)
	}
}

func TestCloseTimeoutNilCloser(t *testing.T) {
	tr := newScriptTransport()
	c := NewConn(tr, tr, nil)
	c.SetCloseTimeout(20 * time.Millisecond)

	if err := c.Close(CloseNormalClosure, ""); err != nil {
		t.Fatalf("Close: %v", err)
	}
	code, _, ok := c.FinalClose()
	if !ok || code != CloseAbnormalClosure {
		t.Fatalf("FinalClose() = %d, %v, want 1006 after timeout", code, ok)
	}

	// The drain goroutine is still blocked on the transport; releasing
	// the transport lets it observe the closed state and exit.
	tr.Close()
}

func TestCloseRejectsNonWireCodes(t *testing.T) {
	for _, code := range []CloseCode{CloseNoStatusReceived, CloseAbnormalClosure, CloseTLSHandshake, 1004, 999, 5000} {
		c, tr := newTestConn()
		if err := c.Close(code, ""); err != errInvalidSentCloseCode {
			t.Errorf("Close(%d) = %v, want %v", code, err, errInvalidSentCloseCode)
		}
		if c.State() != StateOpen {
			t.Errorf("Close(%d) changed state to %v", code, c.State())
		}
		if len(tr.written()) != 0 {
			t.Errorf("Close(%d) wrote frames", code)
		}
	}
}

func TestWriteDuringClosing(t *testing.T) {
	c, tr := newTestConn()

	payload, _ := encodeClosePayload(CloseGoingAway, "")
	if err := c.WriteFrame(Frame{Opcode: OpClose, Payload: payload, FIN: true}); err != nil {
		t.Fatalf("WriteFrame(close): %v", err)
	}
	if c.State() != StateClosing {
		t.Fatalf("State() = %v, want closing", c.State())
	}

	// No new data frames and no second close frame after the local half
	// of the closing handshake.
	if err := c.WriteMessage(OpText, []byte("hi")); !IsCloseError(err, CloseGoingAway) {
		t.Fatalf("WriteMessage = %v, want close error 1001", err)
	}
	if err := c.WriteFrame(Frame{Opcode: OpClose, Payload: payload, FIN: true}); !IsCloseError(err, CloseGoingAway) {
		t.Fatalf("second close = %v, want close error", err)
	}

	// The peer's close completes the handshake.
	tr.pushClose(CloseGoingAway, "")
	if err := c.Close(CloseGoingAway, ""); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if code, _, ok := c.FinalClose(); !ok || code != CloseGoingAway {
		t.Fatalf("FinalClose() = %d, %v", code, ok)
	}
}

func TestFailRecordsInternalCode(t *testing.T) {
	c, _ := newTestConn()
	c.Fail(CloseTLSHandshake, "handshake failure")

	if c.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", c.State())
	}
	_, err := c.ReadFrame()
	var ce *CloseError
	if !errors.As(err, &ce) || ce.Code != CloseTLSHandshake {
		t.Fatalf("ReadFrame = %v, want close error 1015", err)
	}
	want := "websocket: connection closed: code = 1015 (TLS failure [internal]), reason = handshake failure"
	if ce.Error() != want {
		t.Fatalf("Error() = %q, want %q", ce.Error(), want)
	}
}

func TestReadMessageFragmentsAndPing(t *testing.T) {
	c, tr := newTestConn()
	tr.push(Frame{Opcode: OpText, Payload: []byte("he"), FIN: false})
	tr.push(Frame{Opcode: OpPing, Payload: []byte("p"), FIN: true})
	tr.push(Frame{Opcode: OpContinuation, Payload: []byte("llo"), FIN: true})

	op, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if op != OpText || string(data) != "hello" {
		t.Fatalf("ReadMessage = %v, %q", op, data)
	}

	pong := tr.lastWritten(t)
	if pong.Opcode != OpPong || string(pong.Payload) != "p" {
		t.Fatalf("expected pong echo, got %v %q", pong.Opcode, pong.Payload)
	}
}

var readMessageViolationTests = []struct {
	name   string
	frames []Frame
	want   *ProtocolError
}{
	{
		"continuation without start",
		[]Frame{{Opcode: OpContinuation, Payload: []byte("x"), FIN: true}},
		errUnexpectedContinuation,
	},
	{
		"interleaved data frame",
		[]Frame{
			{Opcode: OpText, Payload: []byte("a"), FIN: false},
			{Opcode: OpBinary, Payload: []byte("b"), FIN: true},
		},
		errInterleavedMessage,
	},
	{
		"invalid text payload",
		[]Frame{{Opcode: OpText, Payload: []byte{0xFF, 0xFE}, FIN: true}},
		errInvalidUTF8,
	},
}

func TestReadMessageViolations(t *testing.T) {
	for _, tt := range readMessageViolationTests {
		c, tr := newTestConn()
		for _, f := range tt.frames {
			tr.push(f)
		}

		_, _, err := c.ReadMessage()
		var pe *ProtocolError
		if !errors.As(err, &pe) || pe != tt.want {
			t.Errorf("%s: ReadMessage = %v, want %v", tt.name, err, tt.want)
			continue
		}
		if c.State() != StateClosing {
			t.Errorf("%s: State() = %v, want closing", tt.name, c.State())
		}
		sent := tr.lastWritten(t)
		if sent.Opcode != OpClose {
			t.Errorf("%s: last frame is %v, want close", tt.name, sent.Opcode)
			continue
		}
		if code, _, _ := parseClosePayload(sent.Payload); code != tt.want.Code {
			t.Errorf("%s: close code = %d, want %d", tt.name, code, tt.want.Code)
		}
	}
}

func TestReadLimit(t *testing.T) {
	c, tr := newTestConn()
	c.SetReadLimit(4)
	tr.push(Frame{Opcode: OpBinary, Payload: []byte("abcdef"), FIN: true})

	_, _, err := c.ReadMessage()
	var tooBig *PayloadTooBigError
	if !errors.As(err, &tooBig) {
		t.Fatalf("ReadMessage = %v, want *PayloadTooBigError", err)
	}
	if tooBig.Size != 6 || tooBig.Limit != 4 {
		t.Fatalf("PayloadTooBigError = %+v", tooBig)
	}
	if c.State() != StateClosing {
		t.Fatalf("State() = %v, want closing", c.State())
	}
	sent := tr.lastWritten(t)
	if code, _, _ := parseClosePayload(sent.Payload); sent.Opcode != OpClose || code != CloseMessageTooBig {
		t.Fatalf("close frame = %v code %d, want close 1009", sent.Opcode, code)
	}
}

func TestReadLimitFragmented(t *testing.T) {
	c, tr := newTestConn()
	c.SetReadLimit(4)
	tr.push(Frame{Opcode: OpBinary, Payload: []byte("abc"), FIN: false})
	tr.push(Frame{Opcode: OpContinuation, Payload: []byte("def"), FIN: false})

	_, _, err := c.ReadMessage()
	var tooBig *PayloadTooBigError
	if !errors.As(err, &tooBig) {
		t.Fatalf("ReadMessage = %v, want *PayloadTooBigError", err)
	}
}

func TestConcurrentCloseAndRead(t *testing.T) {
	c, tr := newTestConn()
	c.SetCloseTimeout(time.Second)

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	tr.push(Frame{Opcode: OpText, Payload: []byte("data"), FIN: true})
	if err := func() error {
		done := make(chan error, 1)
		go func() { done <- c.Close(CloseNormalClosure, "") }()
		time.Sleep(10 * time.Millisecond)
		tr.pushClose(CloseNormalClosure, "")
		return <-done
	}(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-readErr:
		if !IsCloseError(err, CloseNormalClosure) {
			t.Fatalf("reader got %v, want close error 1000", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reader did not observe the close")
	}
	if c.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", c.State())
	}
}

func TestMessagesCleanClose(t *testing.T) {
	c, tr := newTestConn()
	tr.push(Frame{Opcode: OpText, Payload: []byte("one"), FIN: true})
	tr.push(Frame{Opcode: OpBinary, Payload: []byte("two"), FIN: true})
	tr.pushClose(CloseNormalClosure, "")

	it := c.Messages()
	var got []string
	for it.Next() {
		got = append(got, string(it.Bytes()))
	}
	if it.Err() != nil {
		t.Fatalf("Err() = %v, want nil after clean close", it.Err())
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("messages = %q", got)
	}

	// A fresh iterator over the finished connection ends the same way.
	it2 := c.Messages()
	if it2.Next() {
		t.Fatal("Next() = true on finished connection")
	}
	if it2.Err() != nil {
		t.Fatalf("Err() = %v, want nil", it2.Err())
	}
}

func TestMessagesGoingAway(t *testing.T) {
	c, tr := newTestConn()
	tr.pushClose(CloseGoingAway, "maintenance")

	it := c.Messages()
	if it.Next() {
		t.Fatal("Next() = true")
	}
	if it.Err() != nil {
		t.Fatalf("Err() = %v, want nil for code 1001", it.Err())
	}
}

func TestMessagesAbnormalClose(t *testing.T) {
	c, tr := newTestConn()
	tr.push(Frame{Opcode: OpText, Payload: []byte("one"), FIN: true})
	tr.pushClose(CloseProtocolError, "broken")

	it := c.Messages()
	var got []string
	for it.Next() {
		got = append(got, string(it.Bytes()))
	}
	if len(got) != 1 || got[0] != "one" {
		t.Fatalf("messages = %q", got)
	}
	err := it.Err()
	var ce *CloseError
	if !errors.As(err, &ce) || ce.Code != CloseProtocolError || ce.Reason != "broken" {
		t.Fatalf("Err() = %v, want close error 1002 %q", err, "broken")
	}

	// Propagated again on a fresh iterator, identically.
	it2 := c.Messages()
	if it2.Next() {
		t.Fatal("Next() = true on closed connection")
	}
	if !errors.As(it2.Err(), &ce) || ce.Code != CloseProtocolError || ce.Reason != "broken" {
		t.Fatalf("Err() = %v", it2.Err())
	}
}

func TestWriteMessageValidation(t *testing.T) {
	c, _ := newTestConn()
	if err := c.WriteMessage(OpClose, nil); err != errUnsupportedData {
		t.Errorf("WriteMessage(OpClose) = %v, want %v", err, errUnsupportedData)
	}
	if err := c.WriteMessage(OpText, []byte{0xFF}); err != errInvalidUTF8 {
		t.Errorf("WriteMessage(invalid text) = %v, want %v", err, errInvalidUTF8)
	}
	if err := c.WriteControl(OpBinary, nil); err != errReservedOpcode {
		t.Errorf("WriteControl(OpBinary) = %v, want %v", err, errReservedOpcode)
	}
}
