// Copyright 2024 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import "strings"

// ExtensionParameter is a single name/value pair from an extension offer.
// HasValue is false when the parameter was given as a bare name.
type ExtensionParameter struct {
	Name     string
	Value    string
	HasValue bool
}

// ExtensionOffer is one extension from a Sec-WebSocket-Extensions header:
// an extension token followed by its parameters in offer order.
type ExtensionOffer struct {
	Name   string
	Params []ExtensionParameter
}

// Extension negotiates the parameters of a single WebSocket extension.
// Implementations are consulted parameter by parameter, in offer order.
type Extension interface {
	// Name returns the extension token, e.g. "permessage-deflate".
	Name() string

	// Accepts reports whether the parameter name is recognized.
	Accepts(param string) bool

	// Validate checks the value of a recognized parameter. The returned
	// error is only used to reject the parameter; negotiateOffer wraps it
	// into a ParameterValueError.
	Validate(param ExtensionParameter) error
}

// negotiateOffer checks an extension offer against ext. The parameters are
// examined in order; for each one an unrecognized name, a repeated name and
// an invalid value are reported in that order. Any error means the offer
// must be dropped; all of them unwrap to ErrNegotiationFailed.
func negotiateOffer(ext Extension, offer ExtensionOffer) error {
	seen := make(map[string]bool, len(offer.Params))
	for _, p := range offer.Params {
		if !ext.Accepts(p.Name) {
			return &ParameterNameError{Name: p.Name}
		}
		if seen[p.Name] {
			return &DuplicateParameterError{Name: p.Name}
		}
		seen[p.Name] = true
		if err := ext.Validate(p); err != nil {
			return &ParameterValueError{Name: p.Name, Value: p.Value, HasValue: p.HasValue}
		}
	}
	return nil
}

// Octet types from RFC 2616.
//
// separators = "(" | ")" | "<" | ">" | "@" | "," | ";" | ":" | "\" | <">
//              | "/" | "[" | "]" | "?" | "=" | "{" | "}" | SP | HT
// token      = 1*<any CHAR except CTLs or separators>

func isTokenOctet(c byte) bool {
	if c <= 31 || c >= 127 {
		return false
	}
	switch c {
	case ' ', '\t', '"', '(', ')', ',', '/', ':', ';', '<',
		'=', '>', '?', '@', '[', ']', '\\', '{', '}':
		return false
	}
	return true
}

// extensionScanner walks one Sec-WebSocket-Extensions header value,
// tracking its position so malformed input can be reported precisely.
type extensionScanner struct {
	s   string
	pos int
}

func (sc *extensionScanner) formatError(msg string) *HeaderFormatError {
	return &HeaderFormatError{
		Name:   "Sec-WebSocket-Extensions",
		Err:    msg,
		Source: sc.s,
		Pos:    sc.pos,
	}
}

func (sc *extensionScanner) eof() bool { return sc.pos >= len(sc.s) }

func (sc *extensionScanner) peek() byte { return sc.s[sc.pos] }

func (sc *extensionScanner) skipSpace() {
	for !sc.eof() {
		switch sc.peek() {
		case ' ', '\t', '\r', '\n':
			sc.pos++
		default:
			return
		}
	}
}

func (sc *extensionScanner) nextToken() string {
	start := sc.pos
	for !sc.eof() && isTokenOctet(sc.peek()) {
		sc.pos++
	}
	return sc.s[start:sc.pos]
}

// nextTokenOrQuoted reads a token or a quoted-string, unescaping and
// unquoting the latter.
func (sc *extensionScanner) nextTokenOrQuoted() (string, *HeaderFormatError) {
	if sc.eof() || sc.peek() != '"' {
		t := sc.nextToken()
		if t == "" {
			return "", sc.formatError("expected value")
		}
		return t, nil
	}

	sc.pos++ // opening quote
	var b strings.Builder
	for !sc.eof() {
		c := sc.peek()
		sc.pos++
		switch c {
		case '"':
			return b.String(), nil
		case '\\':
			if sc.eof() {
				return "", sc.formatError("unterminated quoted string")
			}
			b.WriteByte(sc.peek())
			sc.pos++
		default:
			b.WriteByte(c)
		}
	}
	return "", sc.formatError("unterminated quoted string")
}

// parseExtensionHeader parses the values of a Sec-WebSocket-Extensions
// header into extension offers. From RFC 6455:
//
//	Sec-WebSocket-Extensions = extension-list
//	extension-list = 1#extension
//	extension = extension-token *( ";" extension-param )
//	extension-param = token [ "=" (token | quoted-string) ]
//
// Malformed input fails with a HeaderFormatError carrying the scan
// position; nothing is skipped silently.
func parseExtensionHeader(values []string) ([]ExtensionOffer, error) {
	var offers []ExtensionOffer
	for _, value := range values {
		sc := &extensionScanner{s: value}
		for {
			sc.skipSpace()
			name := sc.nextToken()
			if name == "" {
				return nil, sc.formatError("expected extension token")
			}
			offer := ExtensionOffer{Name: name}
			for {
				sc.skipSpace()
				if sc.eof() || sc.peek() != ';' {
					break
				}
				sc.pos++
				sc.skipSpace()
				pname := sc.nextToken()
				if pname == "" {
					return nil, sc.formatError("expected parameter name")
				}
				param := ExtensionParameter{Name: pname}
				sc.skipSpace()
				if !sc.eof() && sc.peek() == '=' {
					sc.pos++
					sc.skipSpace()
					v, err := sc.nextTokenOrQuoted()
					if err != nil {
						return nil, err
					}
					param.Value = v
					param.HasValue = true
				}
				offer.Params = append(offer.Params, param)
			}
			offers = append(offers, offer)
			sc.skipSpace()
			if sc.eof() {
				break
			}
			if sc.peek() != ',' {
				return nil, sc.formatError("expected comma")
			}
			sc.pos++
		}
	}
	return offers, nil
}

// formatExtensionHeader renders offers back into a header value.
func formatExtensionHeader(offers []ExtensionOffer) string {
	var b strings.Builder
	for i, offer := range offers {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(offer.Name)
		for _, p := range offer.Params {
			b.WriteString("; ")
			b.WriteString(p.Name)
			if p.HasValue {
				b.WriteByte('=')
				b.WriteString(p.Value)
			}
		}
	}
	return b.String()
}
