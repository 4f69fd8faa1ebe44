// Copyright 2024 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// The error taxonomy has two independent branches. Handshake failures wrap
// ErrBadHandshake; operations attempted in the wrong connection state wrap
// ErrInvalidState. Callers branch with errors.Is and errors.As.
var (
	// ErrBadHandshake is returned when the opening handshake is invalid.
	ErrBadHandshake = errors.New("websocket: bad handshake")

	// ErrNegotiationFailed is returned when negotiating an extension fails.
	// It is itself a handshake failure.
	ErrNegotiationFailed = fmt.Errorf("websocket: extension negotiation failed: %w", ErrBadHandshake)

	// ErrInvalidState is returned when an operation is forbidden in the
	// current connection state.
	ErrInvalidState = errors.New("websocket: operation forbidden in current state")

	// ErrClosed is returned when reading or writing on a closed connection.
	// It is itself a state violation.
	ErrClosed = fmt.Errorf("websocket: connection closed: %w", ErrInvalidState)
)

// HandshakeError describes a malformed handshake request or response that
// does not fit a more specific error type.
type HandshakeError struct {
	message string
}

func (e *HandshakeError) Error() string { return e.message }
func (e *HandshakeError) Unwrap() error { return ErrBadHandshake }

// HeaderError describes a missing, empty or invalid handshake header.
type HeaderError struct {
	// Name is the canonical header name, e.g. "Sec-WebSocket-Key".
	Name string
	// Value is the offending value. Empty when the header was missing or
	// empty; Missing distinguishes the two.
	Value   string
	Missing bool
}

func (e *HeaderError) Error() string {
	switch {
	case e.Missing:
		return "websocket: missing " + e.Name + " header"
	case e.Value == "":
		return "websocket: empty " + e.Name + " header"
	}
	return "websocket: invalid " + e.Name + " header: " + e.Value
}

func (e *HeaderError) Unwrap() error { return ErrBadHandshake }

// invalidOriginError reports a disallowed Origin as a header error with the
// name fixed to "Origin".
func invalidOriginError(origin string) *HeaderError {
	return &HeaderError{Name: "Origin", Value: origin, Missing: origin == ""}
}

// HeaderFormatError describes a header whose value could not be parsed.
// It records the parser's message, the scan position and the original
// string so the failure is reproducible without re-parsing.
type HeaderFormatError struct {
	Name   string
	Err    string
	Source string
	Pos    int
}

func (e *HeaderFormatError) Error() string {
	return "websocket: invalid " + e.Name + " header: " + e.Err +
		" at " + strconv.Itoa(e.Pos) + " in " + e.Source
}

func (e *HeaderFormatError) Unwrap() error { return ErrBadHandshake }

// StatusError is returned when a handshake response has a status code
// other than 101 and no explicit redirect or abort decision applies.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "websocket: handshake status not 101: " + strconv.Itoa(e.Code)
}

func (e *StatusError) Unwrap() error { return ErrBadHandshake }

// ParameterNameError is returned when an extension offer contains a
// parameter name the extension does not recognize.
type ParameterNameError struct {
	Name string
}

func (e *ParameterNameError) Error() string {
	return "websocket: invalid parameter name: " + e.Name
}

func (e *ParameterNameError) Unwrap() error { return ErrNegotiationFailed }

// ParameterValueError is returned when an extension parameter value fails
// the extension's validation. HasValue is false when the parameter was
// given without a value.
type ParameterValueError struct {
	Name     string
	Value    string
	HasValue bool
}

func (e *ParameterValueError) Error() string {
	if !e.HasValue {
		return "websocket: invalid value for parameter " + e.Name + ": none"
	}
	return "websocket: invalid value for parameter " + e.Name + ": " + e.Value
}

func (e *ParameterValueError) Unwrap() error { return ErrNegotiationFailed }

// DuplicateParameterError is returned when a parameter name is repeated
// within a single extension offer.
type DuplicateParameterError struct {
	Name string
}

func (e *DuplicateParameterError) Error() string {
	return "websocket: duplicate parameter: " + e.Name
}

func (e *DuplicateParameterError) Unwrap() error { return ErrNegotiationFailed }

// AbortHandshakeError aborts a handshake attempt. The caller must send the
// carried HTTP response to the peer and must not establish a connection or
// retry the attempt.
type AbortHandshakeError struct {
	Status int
	Header http.Header
	Body   []byte
}

func (e *AbortHandshakeError) Error() string {
	n := 0
	for _, values := range e.Header {
		n += len(values)
	}
	return fmt.Sprintf("websocket: abort handshake: HTTP %d, %d headers, %d bytes", e.Status, n, len(e.Body))
}

func (e *AbortHandshakeError) Unwrap() error { return ErrBadHandshake }

// RedirectHandshakeError instructs the caller to re-attempt the handshake
// against URL. The engine itself never follows redirects and the connection
// state is left untouched; loop prevention belongs to the caller.
type RedirectHandshakeError struct {
	URL *url.URL
}

func (e *RedirectHandshakeError) Error() string {
	return "websocket: handshake redirected to " + e.URL.String()
}

func (e *RedirectHandshakeError) Unwrap() error { return ErrBadHandshake }

// CloseError is returned when an operation is attempted on a connection
// whose closing handshake has finished or whose transport is gone. Code and
// Reason are the connection's final close code and reason.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	return "websocket: connection closed: " + FormatClose(e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error { return ErrClosed }

// IsCloseError reports whether err is a *CloseError with one of the given
// close codes. With no codes it matches any *CloseError.
func IsCloseError(err error, codes ...CloseCode) bool {
	var ce *CloseError
	if !errors.As(err, &ce) {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, code := range codes {
		if ce.Code == code {
			return true
		}
	}
	return false
}

// PayloadTooBigError is returned when a frame or message payload exceeds
// the configured maximum size.
type PayloadTooBigError struct {
	Size  int64
	Limit int64
}

func (e *PayloadTooBigError) Error() string {
	return fmt.Sprintf("websocket: payload too big: %d bytes exceeds limit of %d", e.Size, e.Limit)
}

// ProtocolError is returned when the peer breaks the WebSocket protocol.
// Code is the close code mapped to the violation, 1002 unless a more
// specific code applies.
type ProtocolError struct {
	Code CloseCode
	Text string
}

func (e *ProtocolError) Error() string { return "websocket: " + e.Text }

// Known protocol violations and their mapped close codes.
var (
	errUnexpectedContinuation = &ProtocolError{CloseProtocolError, "continuation frame without a message in progress"}
	errInterleavedMessage     = &ProtocolError{CloseProtocolError, "data frame while a fragmented message is in progress"}
	errFragmentedControl      = &ProtocolError{CloseProtocolError, "control frame must not be fragmented"}
	errControlTooBig          = &ProtocolError{CloseProtocolError, "control frame payload exceeds 125 bytes"}
	errReservedBits           = &ProtocolError{CloseProtocolError, "reserved bits must be zero"}
	errReservedOpcode         = &ProtocolError{CloseProtocolError, "reserved opcode"}
	errBadClosePayload        = &ProtocolError{CloseProtocolError, "close frame payload of length 1"}
	errBadCloseCode           = &ProtocolError{CloseProtocolError, "invalid close code"}
	errMissingMask            = &ProtocolError{CloseProtocolError, "client frame is not masked"}
	errUnexpectedMask         = &ProtocolError{CloseProtocolError, "server frame is masked"}
	errInvalidUTF8            = &ProtocolError{CloseInvalidFramePayloadData, "invalid UTF-8 in text message"}
	errUnsupportedData        = &ProtocolError{CloseUnsupportedData, "unsupported message type"}
)
