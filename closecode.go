// Copyright 2024 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import "strconv"

// CloseCode is a WebSocket close code as defined in RFC 6455 section 7.4.
//
// Codes below 1000 never appear on the wire. Codes in the range 1000-2999
// are reserved by the protocol, 3000-3999 are registered with IANA by
// libraries and frameworks, 4000-4999 are for private use, and codes of
// 5000 and above are invalid.
type CloseCode int

// Close codes defined in RFC 6455 section 11.7.
const (
	CloseNormalClosure           CloseCode = 1000
	CloseGoingAway               CloseCode = 1001
	CloseProtocolError           CloseCode = 1002
	CloseUnsupportedData         CloseCode = 1003
	CloseNoStatusReceived        CloseCode = 1005
	CloseAbnormalClosure         CloseCode = 1006
	CloseInvalidFramePayloadData CloseCode = 1007
	ClosePolicyViolation         CloseCode = 1008
	CloseMessageTooBig           CloseCode = 1009
	CloseMandatoryExtension      CloseCode = 1010
	CloseInternalServerErr       CloseCode = 1011
	CloseServiceRestart          CloseCode = 1012
	CloseTryAgainLater           CloseCode = 1013
	CloseTLSHandshake            CloseCode = 1015
)

// closeCodeText maps the well-known close codes to their explanations.
// Read-only after initialization. Codes marked [internal] are meaningful
// for local diagnostics but must never be placed on an outgoing close
// frame. 1004 is reserved and intentionally absent.
var closeCodeText = map[CloseCode]string{
	CloseNormalClosure:           "OK",
	CloseGoingAway:               "going away",
	CloseProtocolError:           "protocol error",
	CloseUnsupportedData:         "unsupported type",
	CloseNoStatusReceived:        "no status code [internal]",
	CloseAbnormalClosure:         "connection closed abnormally [internal]",
	CloseInvalidFramePayloadData: "invalid data",
	ClosePolicyViolation:         "policy violation",
	CloseMessageTooBig:           "message too big",
	CloseMandatoryExtension:      "extension required",
	CloseInternalServerErr:       "unexpected error",
	CloseTLSHandshake:            "TLS failure [internal]",
}

// closeCodeExplanation classifies a close code into a human-readable
// explanation. Registered and private-use ranges are classified by range
// alone; the allocator controls their meaning, not this package.
func closeCodeExplanation(code CloseCode) string {
	switch {
	case code >= 3000 && code < 4000:
		return "registered"
	case code >= 4000 && code < 5000:
		return "private use"
	}
	if text, ok := closeCodeText[code]; ok {
		return text
	}
	return "unknown"
}

// FormatClose renders a close code and reason as a stable diagnostic
// string, e.g. "code = 1000 (OK), no reason".
func FormatClose(code CloseCode, reason string) string {
	result := "code = " + strconv.Itoa(int(code)) + " (" + closeCodeExplanation(code) + "), "
	if reason != "" {
		return result + "reason = " + reason
	}
	return result + "no reason"
}

// isInternalCloseCode reports whether code is only meaningful locally.
// RFC 6455 section 7.4.1 forbids sending these in a close frame.
func isInternalCloseCode(code CloseCode) bool {
	switch code {
	case CloseNoStatusReceived, CloseAbnormalClosure, CloseTLSHandshake:
		return true
	}
	return false
}

// isValidSentCloseCode reports whether code may be placed on an outgoing
// close frame.
func isValidSentCloseCode(code CloseCode) bool {
	if isInternalCloseCode(code) {
		return false
	}
	if _, ok := closeCodeText[code]; ok {
		return true
	}
	return code >= 3000 && code < 5000
}

// isValidReceivedCloseCode reports whether code is acceptable in a close
// frame received from the peer.
func isValidReceivedCloseCode(code CloseCode) bool {
	if _, ok := closeCodeText[code]; ok {
		return !isInternalCloseCode(code)
	}
	return code >= 3000 && code < 5000
}
