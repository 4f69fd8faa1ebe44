// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// checkHandshakeResponse classifies the server's handshake response.
// A valid 101 response yields nil. A 3xx response with a Location header
// yields a *RedirectHandshakeError carrying the new target; following it
// is the caller's decision, and no connection is considered opened. Any
// other response yields a *StatusError or *HeaderError.
func checkHandshakeResponse(resp *http.Response, challengeKey string) error {
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location := resp.Header.Get("Location")
		if location == "" {
			return &HeaderError{Name: "Location", Missing: true}
		}
		target, err := url.Parse(location)
		if err != nil {
			return &HeaderError{Name: "Location", Value: location}
		}
		return &RedirectHandshakeError{URL: target}
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return &StatusError{Code: resp.StatusCode}
	}
	if !strings.EqualFold(resp.Header.Get("Upgrade"), "websocket") {
		value, ok := headerValue(resp.Header, "Upgrade")
		return &HeaderError{Name: "Upgrade", Value: value, Missing: !ok}
	}
	if !strings.EqualFold(resp.Header.Get("Connection"), "upgrade") {
		value, ok := headerValue(resp.Header, "Connection")
		return &HeaderError{Name: "Connection", Value: value, Missing: !ok}
	}
	if accept := resp.Header.Get("Sec-Websocket-Accept"); accept != computeAcceptKey(challengeKey) {
		value, ok := headerValue(resp.Header, "Sec-Websocket-Accept")
		return &HeaderError{Name: "Sec-WebSocket-Accept", Value: value, Missing: !ok}
	}
	return nil
}

// checkResponseExtensions validates the extensions the server selected.
// The engine only ever offers permessage-deflate, so anything else is a
// negotiation failure.
func checkResponseExtensions(resp *http.Response) ([]string, error) {
	values := resp.Header["Sec-Websocket-Extensions"]
	if len(values) == 0 {
		return nil, nil
	}
	offers, err := parseExtensionHeader(values)
	if err != nil {
		return nil, err
	}
	ext := permessageDeflate{}
	var accepted []string
	for _, offer := range offers {
		if offer.Name != ext.Name() {
			return nil, &ParameterNameError{Name: offer.Name}
		}
		if err := negotiateOffer(ext, offer); err != nil {
			return nil, err
		}
		accepted = append(accepted, formatExtensionHeader([]ExtensionOffer{offer}))
	}
	return accepted, nil
}

// NewClient creates a new client connection using the given net connection.
// The URL u specifies the host and request URI. Use requestHeader to specify
// the origin (Origin), subprotocols (Sec-WebSocket-Protocol) and cookies
// (Cookie). Use the response.Header to get the selected subprotocol
// (Sec-WebSocket-Protocol) and cookies (Set-Cookie).
//
// If the handshake fails, NewClient returns a non-nil *http.Response along
// with an error from the handshake taxonomy so that callers can handle
// redirects, authentication, etc.
func NewClient(netConn net.Conn, u *url.URL, requestHeader http.Header, readBufSize, writeBufSize int) (c *Conn, response *http.Response, err error) {
	challengeKey, err := generateChallengeKey()
	if err != nil {
		return nil, nil, err
	}

	p := make([]byte, 0, 512)
	p = append(p, "GET "...)
	p = append(p, u.RequestURI()...)
	p = append(p, " HTTP/1.1\r\nHost: "...)
	p = append(p, u.Host...)
	// "Upgrade" is capitalized for servers that do not use case insensitive
	// comparisons on header tokens.
	p = append(p, "\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Version: 13\r\nSec-WebSocket-Key: "...)
	p = append(p, challengeKey...)
	p = append(p, "\r\n"...)
	for k, vs := range requestHeader {
		for _, v := range vs {
			if !httpguts.ValidHeaderFieldName(k) || !httpguts.ValidHeaderFieldValue(v) {
				return nil, nil, &HeaderError{Name: k, Value: v}
			}
			p = append(p, k...)
			p = append(p, ": "...)
			p = append(p, v...)
			p = append(p, "\r\n"...)
		}
	}
	p = append(p, "\r\n"...)

	if _, err := netConn.Write(p); err != nil {
		return nil, nil, err
	}

	br := bufio.NewReader(netConn)
	resp, err := http.ReadResponse(br, &http.Request{Method: "GET", URL: u})
	if err != nil {
		return nil, nil, &HandshakeError{"websocket: malformed handshake response: " + err.Error()}
	}

	if err := checkHandshakeResponse(resp, challengeKey); err != nil {
		return nil, resp, err
	}
	extensions, err := checkResponseExtensions(resp)
	if err != nil {
		return nil, resp, err
	}

	// The server may start sending frames immediately after its response.
	if n := br.Buffered(); n > 0 {
		leftover, _ := br.Peek(n)
		netConn = newMergedNetConnReader(netConn, append([]byte(nil), leftover...))
	}

	c = newConn(netConn, false, readBufSize, writeBufSize)
	c.subprotocol = resp.Header.Get("Sec-Websocket-Protocol")
	c.extensions = extensions
	return c, resp, nil
}

// A Dialer contains options for connecting to WebSocket server.
type Dialer struct {
	// NetDial specifies the dial function for creating TCP connections. If
	// NetDial is nil, net.Dial is used.
	NetDial func(network, addr string) (net.Conn, error)

	// NetDialContext specifies the dial function for creating TCP
	// connections with a context. If NetDialContext is nil, NetDial is
	// consulted.
	NetDialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// Proxy specifies a function to return a proxy for a given Request.
	// If the function returns a non-nil error, the dial aborts with the
	// provided error. A nil Proxy or a nil URL means no proxy.
	Proxy func(r *http.Request) (*url.URL, error)

	// TLSClientConfig specifies the TLS configuration to use with tls.Client.
	// If nil, the default configuration is used.
	TLSClientConfig *tls.Config

	// HandshakeTimeout specifies the duration for the handshake to complete.
	HandshakeTimeout time.Duration

	// Input and output buffer sizes. If the buffer size is zero, then a
	// default value of 4096 is used.
	ReadBufferSize, WriteBufferSize int

	// Subprotocols specifies the client's requested subprotocols.
	Subprotocols []string

	// EnableCompression offers the permessage-deflate extension in the
	// handshake request.
	EnableCompression bool
}

// DefaultDialer is a dialer with all fields set to the default zero values.
var DefaultDialer = &Dialer{}

var errMalformedURL = &HandshakeError{"websocket: malformed ws or wss URL"}

func parseURL(u string) (useTLS bool, host, port, opaque string, err error) {
	// From the RFC:
	//
	// ws-URI = "ws:" "//" host [ ":" port ] path [ "?" query ]
	// wss-URI = "wss:" "//" host [ ":" port ] path [ "?" query ]
	//
	// We don't use the net/url parser here because the dialer interface does
	// not provide a way for applications to work around percent decoding in
	// the net/url parser.

	switch {
	case strings.HasPrefix(u, "ws://"):
		u = u[len("ws://"):]
	case strings.HasPrefix(u, "wss://"):
		u = u[len("wss://"):]
		useTLS = true
	default:
		return false, "", "", "", errMalformedURL
	}

	hostPort := u
	opaque = "/"
	if i := strings.Index(u, "/"); i >= 0 {
		hostPort = u[:i]
		opaque = u[i:]
	}

	host = hostPort
	port = ":80"
	if i := strings.LastIndex(hostPort, ":"); i > strings.LastIndex(hostPort, "]") {
		host = hostPort[:i]
		port = hostPort[i:]
	} else if useTLS {
		port = ":443"
	}

	return useTLS, host, port, opaque, nil
}

func hostPortNoPort(u *url.URL) (hostPort, hostNoPort string) {
	hostPort = u.Host
	hostNoPort = u.Host
	if i := strings.LastIndex(u.Host, ":"); i > strings.LastIndex(u.Host, "]") {
		hostNoPort = hostNoPort[:i]
	} else {
		switch u.Scheme {
		case "wss", "https":
			hostPort += ":443"
		default:
			hostPort += ":80"
		}
	}
	return hostPort, hostNoPort
}

// Dial creates a new client connection. Use requestHeader to specify the
// origin (Origin), subprotocols (Sec-WebSocket-Protocol) and cookies (Cookie).
// Use the response.Header to get the selected subprotocol
// (Sec-WebSocket-Protocol) and cookies (Set-Cookie).
//
// If the handshake fails, Dial returns an error from the handshake
// taxonomy along with a non-nil *http.Response. A *RedirectHandshakeError
// carries the new target URI; Dial never follows it itself.
func (d *Dialer) Dial(urlStr string, requestHeader http.Header) (*Conn, *http.Response, error) {
	return d.DialContext(context.Background(), urlStr, requestHeader)
}

// DialContext creates a new client connection using the provided context.
// The context covers dialing, the TLS handshake and the opening handshake.
func (d *Dialer) DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*Conn, *http.Response, error) {
	useTLS, host, port, opaque, err := parseURL(urlStr)
	if err != nil {
		return nil, nil, err
	}

	if d == nil {
		d = &Dialer{}
	}

	if d.HandshakeTimeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.HandshakeTimeout)
		defer cancel()
	}

	netDial := d.NetDialContext
	if netDial == nil {
		if d.NetDial != nil {
			netDial = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return d.NetDial(network, addr)
			}
		} else {
			netDialer := &net.Dialer{}
			netDial = netDialer.DialContext
		}
	}

	if d.Proxy != nil {
		scheme := "ws"
		if useTLS {
			scheme = "wss"
		}
		proxyURL, err := d.Proxy(&http.Request{
			Method: http.MethodGet,
			URL:    &url.URL{Scheme: scheme, Host: host + port, Opaque: opaque},
			Header: requestHeader,
		})
		if err != nil {
			return nil, nil, err
		}
		if proxyURL != nil {
			netDial, err = proxyDial(netDial, proxyURL, d.TLSClientConfig)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	netConn, err := netDial(ctx, "tcp", host+port)
	if err != nil {
		return nil, nil, err
	}

	defer func() {
		if netConn != nil {
			netConn.Close()
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		if err := netConn.SetDeadline(deadline); err != nil {
			return nil, nil, err
		}
	}

	if useTLS {
		cfg := cloneTLSConfig(d.TLSClientConfig)
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		tlsConn := tls.Client(netConn, cfg)
		netConn = tlsConn
		if err := doTLSHandshake(ctx, tlsConn); err != nil {
			return nil, nil, err
		}
	}

	readBufferSize := d.ReadBufferSize
	if readBufferSize == 0 {
		readBufferSize = DefaultReadBufferSize
	}

	writeBufferSize := d.WriteBufferSize
	if writeBufferSize == 0 {
		writeBufferSize = DefaultWriteBufferSize
	}

	if len(d.Subprotocols) > 0 || d.EnableCompression {
		h := http.Header{}
		for k, v := range requestHeader {
			h[k] = v
		}
		if len(d.Subprotocols) > 0 {
			h.Set("Sec-Websocket-Protocol", strings.Join(d.Subprotocols, ", "))
		}
		if d.EnableCompression {
			h.Set("Sec-Websocket-Extensions", "permessage-deflate; client_no_context_takeover; server_no_context_takeover")
		}
		requestHeader = h
	}

	conn, resp, err := NewClient(
		netConn,
		&url.URL{Host: host + port, Opaque: opaque},
		requestHeader, readBufferSize, writeBufferSize)
	if err != nil {
		return nil, resp, err
	}

	netConn.SetDeadline(time.Time{})
	netConn = nil // to avoid close in defer.
	return conn, resp, nil
}

func cloneTLSConfig(cfg *tls.Config) *tls.Config {
	if cfg == nil {
		return &tls.Config{}
	}
	return cfg.Clone()
}

// doTLSHandshake runs the TLS handshake, reporting it to any httptrace
// hooks attached to the context.
func doTLSHandshake(ctx context.Context, tlsConn *tls.Conn) error {
	trace := httptrace.ContextClientTrace(ctx)
	if trace != nil && trace.TLSHandshakeStart != nil {
		trace.TLSHandshakeStart()
	}
	err := tlsConn.HandshakeContext(ctx)
	if trace != nil && trace.TLSHandshakeDone != nil {
		trace.TLSHandshakeDone(tlsConn.ConnectionState(), err)
	}
	return err
}
