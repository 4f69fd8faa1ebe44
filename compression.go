// Copyright 2024 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import "strconv"

const (
	// CompressPermessageDeflate is the extension value sent in the
	// handshake response when compression is negotiated.
	CompressPermessageDeflate = "permessage-deflate; server_no_context_takeover; client_no_context_takeover"

	extensionPermessageDeflate = "permessage-deflate"
)

// permessageDeflate negotiates the permessage-deflate extension defined in
// RFC 7692. Only the negotiation is handled here; the compression transform
// itself is out of scope for the engine.
type permessageDeflate struct{}

func (permessageDeflate) Name() string { return extensionPermessageDeflate }

func (permessageDeflate) Accepts(param string) bool {
	switch param {
	case "server_no_context_takeover", "client_no_context_takeover",
		"server_max_window_bits", "client_max_window_bits":
		return true
	}
	return false
}

func (permessageDeflate) Validate(p ExtensionParameter) error {
	switch p.Name {
	case "server_no_context_takeover", "client_no_context_takeover":
		// RFC 7692 section 7.1.1: these parameters have no value.
		if p.HasValue {
			return &ParameterValueError{Name: p.Name, Value: p.Value, HasValue: true}
		}
	case "server_max_window_bits":
		// RFC 7692 section 7.1.2.1: a value of 8 to 15 is required.
		if !p.HasValue || !validWindowBits(p.Value) {
			return &ParameterValueError{Name: p.Name, Value: p.Value, HasValue: p.HasValue}
		}
	case "client_max_window_bits":
		// RFC 7692 section 7.1.2.2: the value is optional.
		if p.HasValue && !validWindowBits(p.Value) {
			return &ParameterValueError{Name: p.Name, Value: p.Value, HasValue: true}
		}
	}
	return nil
}

func validWindowBits(value string) bool {
	n, err := strconv.Atoi(value)
	return err == nil && n >= 8 && n <= 15
}

// negotiateCompression examines the client's extension offers and returns
// the extension value for the handshake response. Offers that fail
// negotiation are dropped; the first acceptable permessage-deflate offer
// wins. ok is false when no offer was acceptable.
func negotiateCompression(offers []ExtensionOffer) (value string, ok bool) {
	ext := permessageDeflate{}
	for _, offer := range offers {
		if offer.Name != ext.Name() {
			continue
		}
		if err := negotiateOffer(ext, offer); err != nil {
			continue
		}
		return CompressPermessageDeflate, true
	}
	return "", false
}
