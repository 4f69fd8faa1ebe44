// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

const (
	DefaultReadBufferSize  = 4096
	DefaultWriteBufferSize = 4096
)

// Upgrader negotiates WebSocket connections on the server side.
type Upgrader struct {
	// HandshakeTimeout specifies the duration for the handshake to complete.
	HandshakeTimeout time.Duration

	// Input and output buffer sizes. If the buffer size is zero, then
	// default values will be used.
	ReadBufferSize, WriteBufferSize int

	// Subprotocols specifies the server's supported protocols. If Subprotocols
	// is nil, then Upgrade does not negotiate a subprotocol.
	Subprotocols []string

	// EnableCompression negotiates the permessage-deflate extension with
	// clients that offer it. Offers that fail negotiation are dropped.
	EnableCompression bool

	// Error specifies the function for generating HTTP error responses. If Error
	// is nil, then http.Error is used to generate the HTTP response.
	Error func(w http.ResponseWriter, r *http.Request, status int, reason error)

	// CheckOrigin returns true if the request Origin header is acceptable.
	// If CheckOrigin is nil, then no origin check is done.
	CheckOrigin func(r *http.Request) bool

	// CheckRequest, if non-nil, is called before the request is upgraded.
	// Returning an error rejects the handshake; an *AbortHandshakeError is
	// sent to the client as the literal HTTP response it carries.
	CheckRequest func(r *http.Request) error
}

// acceptance carries the decisions of a successful handshake evaluation.
type acceptance struct {
	challengeKey string
	subprotocol  string
	extensions   []string
}

// headerValue returns the first value of a header together with whether
// the header was present at all.
func headerValue(h http.Header, name string) (string, bool) {
	values := h[name]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// selectResponse evaluates an upgrade request without touching the
// transport. It returns the acceptance data for a 101 response, or an
// error from the handshake taxonomy describing why the attempt must not
// proceed.
func (u *Upgrader) selectResponse(r *http.Request) (*acceptance, error) {
	if r.Method != http.MethodGet {
		return nil, &HandshakeError{"websocket: request method is not GET"}
	}

	if u.CheckRequest != nil {
		if err := u.CheckRequest(r); err != nil {
			return nil, err
		}
	}

	if value, ok := headerValue(r.Header, "Sec-Websocket-Version"); !ok || value != "13" {
		return nil, &HeaderError{Name: "Sec-WebSocket-Version", Value: value, Missing: !ok}
	}

	if !tokenListContainsValue(r.Header, "Connection", "upgrade") {
		value, ok := headerValue(r.Header, "Connection")
		return nil, &HeaderError{Name: "Connection", Value: value, Missing: !ok}
	}

	if !tokenListContainsValue(r.Header, "Upgrade", "websocket") {
		value, ok := headerValue(r.Header, "Upgrade")
		return nil, &HeaderError{Name: "Upgrade", Value: value, Missing: !ok}
	}

	if u.CheckOrigin != nil && !u.CheckOrigin(r) {
		return nil, invalidOriginError(r.Header.Get("Origin"))
	}

	key, ok := headerValue(r.Header, "Sec-Websocket-Key")
	if !ok || key == "" {
		return nil, &HeaderError{Name: "Sec-WebSocket-Key", Value: key, Missing: !ok}
	}
	if decoded, err := base64.StdEncoding.DecodeString(key); err != nil || len(decoded) != 16 {
		return nil, &HeaderError{Name: "Sec-WebSocket-Key", Value: key}
	}

	accept := &acceptance{challengeKey: key}

	if u.Subprotocols != nil {
		for _, proto := range Subprotocols(r) {
			if u.hasSubprotocol(proto) {
				accept.subprotocol = proto
				break
			}
		}
	}

	if u.EnableCompression {
		offers, err := parseExtensionHeader(r.Header["Sec-Websocket-Extensions"])
		if err != nil {
			return nil, err
		}
		if value, ok := negotiateCompression(offers); ok {
			accept.extensions = append(accept.extensions, value)
		}
	}

	return accept, nil
}

// Return an error depending on settings on the Upgrader
func (u *Upgrader) returnError(w http.ResponseWriter, r *http.Request, status int, reason error) {
	if u.Error != nil {
		u.Error(w, r, status, reason)
	} else {
		http.Error(w, reason.Error(), status)
	}
}

// Check if the passed subprotocol is supported by the server
func (u *Upgrader) hasSubprotocol(subprotocol string) bool {
	if u.Subprotocols == nil {
		return false
	}

	for _, s := range u.Subprotocols {
		if s == subprotocol {
			return true
		}
	}

	return false
}

// writeAbort sends the literal response carried by an abort decision.
func writeAbort(w http.ResponseWriter, abort *AbortHandshakeError) {
	h := w.Header()
	for k, values := range abort.Header {
		for _, v := range values {
			h.Add(k, v)
		}
	}
	w.WriteHeader(abort.Status)
	_, _ = w.Write(abort.Body)
}

// Upgrade upgrades the HTTP server connection to the WebSocket protocol.
//
// The responseHeader is included in the response to the client's upgrade
// request. Use the responseHeader to specify cookies (Set-Cookie).
//
// If the request is not a valid WebSocket handshake, Upgrade writes an
// HTTP error response and returns an error from the handshake taxonomy: a
// *HeaderError or *HandshakeError for malformed requests, a *HeaderError
// with name "Origin" for a disallowed origin, or a *HeaderFormatError for
// an unparseable extension header. An *AbortHandshakeError returned by a
// hook is sent to the client verbatim.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*Conn, error) {
	accept, err := u.selectResponse(r)
	if err != nil {
		var abort *AbortHandshakeError
		var header *HeaderError
		switch {
		case errors.As(err, &abort):
			writeAbort(w, abort)
		case errors.As(err, &header) && header.Name == "Origin":
			u.returnError(w, r, http.StatusForbidden, err)
		default:
			u.returnError(w, r, http.StatusBadRequest, err)
		}
		return nil, err
	}

	h, ok := w.(http.Hijacker)
	if !ok {
		return nil, errors.New("websocket: response does not implement http.Hijacker")
	}
	netConn, rw, err := h.Hijack()
	if err != nil {
		return nil, err
	}

	if rw.Reader.Buffered() > 0 {
		netConn.Close()
		return nil, &HandshakeError{"websocket: client sent data before handshake is complete"}
	}

	readBufSize := u.ReadBufferSize
	if readBufSize == 0 {
		readBufSize = DefaultReadBufferSize
	}
	writeBufSize := u.WriteBufferSize
	if writeBufSize == 0 {
		writeBufSize = DefaultWriteBufferSize
	}
	c := newConn(netConn, true, readBufSize, writeBufSize)
	c.subprotocol = accept.subprotocol
	c.extensions = accept.extensions
	if c.subprotocol == "" && u.Subprotocols == nil && responseHeader != nil {
		c.subprotocol = responseHeader.Get("Sec-Websocket-Protocol")
	}

	p := make([]byte, 0, 256)
	p = append(p, "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: "...)
	p = append(p, computeAcceptKey(accept.challengeKey)...)
	p = append(p, "\r\n"...)
	if c.subprotocol != "" {
		p = append(p, "Sec-WebSocket-Protocol: "...)
		p = append(p, c.subprotocol...)
		p = append(p, "\r\n"...)
	}
	for _, value := range accept.extensions {
		p = append(p, "Sec-WebSocket-Extensions: "...)
		p = append(p, value...)
		p = append(p, "\r\n"...)
	}
	for k, vs := range responseHeader {
		if k == "Sec-Websocket-Protocol" {
			continue
		}
		for _, v := range vs {
			if !httpguts.ValidHeaderFieldName(k) || !httpguts.ValidHeaderFieldValue(v) {
				netConn.Close()
				return nil, &HeaderError{Name: k, Value: v}
			}
			p = append(p, k...)
			p = append(p, ": "...)
			p = append(p, v...)
			p = append(p, "\r\n"...)
		}
	}
	p = append(p, "\r\n"...)

	if u.HandshakeTimeout > 0 {
		netConn.SetWriteDeadline(time.Now().Add(u.HandshakeTimeout))
	}
	if _, err = netConn.Write(p); err != nil {
		netConn.Close()
		return nil, err
	}
	if u.HandshakeTimeout > 0 {
		netConn.SetWriteDeadline(time.Time{})
	}

	return c, nil
}

// Subprotocols returns the subprotocols requested by the client in the
// Sec-Websocket-Protocol header.
func Subprotocols(r *http.Request) []string {
	h := strings.TrimSpace(r.Header.Get("Sec-Websocket-Protocol"))
	if h == "" {
		return nil
	}
	protocols := strings.Split(h, ",")
	for i := range protocols {
		protocols[i] = strings.TrimSpace(protocols[i])
	}
	return protocols
}
