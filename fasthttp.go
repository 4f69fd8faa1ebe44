// Copyright 2024 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"net"
	"net/url"
	"strings"

	"github.com/valyala/fasthttp"
)

// checkSameOriginFastHTTP is the default origin policy: the Origin header,
// when present, must match the request host.
func checkSameOriginFastHTTP(ctx *fasthttp.RequestCtx) bool {
	origin := string(ctx.Request.Header.Peek("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return equalASCIIFold(u.Host, string(ctx.Host()))
}

// FastHTTPUpgrader is used to upgrade a fasthttp request into a websocket
// connection. A Handler function must be provided to receive that connection.
type FastHTTPUpgrader struct {
	// Handler receives a websocket connection after the handshake has been
	// completed. This must be provided.
	Handler func(*Conn)

	// ReadBufferSize and WriteBufferSize specify I/O buffer sizes. If a buffer
	// size is zero, then a default value of 4096 is used. The I/O buffer sizes
	// do not limit the size of the messages that can be sent or received.
	ReadBufferSize, WriteBufferSize int

	// Subprotocols specifies the server's supported protocols in order of
	// preference. If this field is set, then the Upgrade method negotiates a
	// subprotocol by selecting the first match in this list with a protocol
	// requested by the client.
	Subprotocols []string

	// EnableCompression negotiates the permessage-deflate extension with
	// clients that offer it.
	EnableCompression bool

	// CheckOrigin returns true if the request Origin header is acceptable. If
	// CheckOrigin is nil, the host in the Origin header must not be set or
	// must match the host of the request.
	CheckOrigin func(ctx *fasthttp.RequestCtx) bool
}

// tokenListContains reports whether a 1#token header value contains a
// token equal to value with ASCII case folding.
func tokenListContains(s, value string) bool {
	for {
		var t string
		t, s = nextToken(skipSpace(s))
		if t == "" {
			return false
		}
		s = skipSpace(s)
		if s != "" && s[0] != ',' {
			return false
		}
		if equalASCIIFold(t, value) {
			return true
		}
		if s == "" {
			return false
		}
		s = s[1:]
	}
}

func matchSubprotocol(clientProtocols, serverProtocols []string) string {
	for _, server := range serverProtocols {
		for _, client := range clientProtocols {
			if server == client {
				return server
			}
		}
	}
	return ""
}

// UpgradeHandler handles a request for a websocket connection and does all
// the checks necessary to ensure the request is valid. If a CheckOrigin
// function was provided, it will be called, otherwise the Origin will be
// checked against the request host value.
//
// Once the request has been verified and the response sent, the connection
// will be hijacked and the provided Handler will be called.
func (f *FastHTTPUpgrader) UpgradeHandler(ctx *fasthttp.RequestCtx) {
	if f.Handler == nil {
		panic("FastHTTPUpgrader does not have a Handler set")
	}

	if !ctx.IsGet() {
		err := &HandshakeError{"websocket: request method is not GET"}
		ctx.Error(err.Error(), fasthttp.StatusMethodNotAllowed)
		return
	}

	if version := string(ctx.Request.Header.Peek("Sec-Websocket-Version")); version != "13" {
		err := &HeaderError{Name: "Sec-WebSocket-Version", Value: version, Missing: version == ""}
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}

	if !ctx.Request.Header.ConnectionUpgrade() {
		err := &HeaderError{Name: "Connection", Value: string(ctx.Request.Header.Peek("Connection"))}
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}

	if !tokenListContains(string(ctx.Request.Header.Peek("Upgrade")), "websocket") {
		err := &HeaderError{Name: "Upgrade", Value: string(ctx.Request.Header.Peek("Upgrade"))}
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}

	checkOrigin := f.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = checkSameOriginFastHTTP
	}
	if !checkOrigin(ctx) {
		err := invalidOriginError(string(ctx.Request.Header.Peek("Origin")))
		ctx.Error(err.Error(), fasthttp.StatusForbidden)
		return
	}

	challengeKey := string(ctx.Request.Header.Peek("Sec-Websocket-Key"))
	if challengeKey == "" {
		err := &HeaderError{Name: "Sec-WebSocket-Key", Missing: true}
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}

	var extensions []string
	if f.EnableCompression {
		values := []string{string(ctx.Request.Header.Peek("Sec-Websocket-Extensions"))}
		if values[0] != "" {
			offers, err := parseExtensionHeader(values)
			if err != nil {
				ctx.Error(err.Error(), fasthttp.StatusBadRequest)
				return
			}
			if value, ok := negotiateCompression(offers); ok {
				extensions = append(extensions, value)
			}
		}
	}

	ctx.SetStatusCode(fasthttp.StatusSwitchingProtocols)
	ctx.Response.Header.Set("Upgrade", "websocket")
	ctx.Response.Header.Set("Connection", "Upgrade")
	ctx.Response.Header.Set("Sec-WebSocket-Accept", computeAcceptKey(challengeKey))
	for _, value := range extensions {
		ctx.Response.Header.Add("Sec-WebSocket-Extensions", value)
	}

	// The subprotocol may have already been set in the response
	subprotocol := string(ctx.Response.Header.Peek("Sec-Websocket-Protocol"))
	if subprotocol == "" {
		clientProtocols := subprotocolsFromHeader(string(ctx.Request.Header.Peek("Sec-Websocket-Protocol")))
		if len(clientProtocols) != 0 {
			subprotocol = matchSubprotocol(clientProtocols, f.Subprotocols)
			if subprotocol != "" {
				ctx.Response.Header.Set("Sec-Websocket-Protocol", subprotocol)
			}
		}
	}

	readBufSize := f.ReadBufferSize
	if readBufSize == 0 {
		readBufSize = DefaultReadBufferSize
	}
	writeBufSize := f.WriteBufferSize
	if writeBufSize == 0 {
		writeBufSize = DefaultWriteBufferSize
	}

	extensionsCopy := extensions
	ctx.Hijack(func(conn net.Conn) {
		c := newConn(conn, true, readBufSize, writeBufSize)
		c.subprotocol = subprotocol
		c.extensions = extensionsCopy
		f.Handler(c)
	})
}

func subprotocolsFromHeader(h string) []string {
	h = strings.TrimSpace(h)
	if h == "" {
		return nil
	}
	protocols := strings.Split(h, ",")
	for i := range protocols {
		protocols[i] = strings.TrimSpace(protocols[i])
	}
	return protocols
}
