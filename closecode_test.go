// Copyright 2024 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import "testing"

var closeCodeExplanationTests = []struct {
	code CloseCode
	want string
}{
	{1000, "OK"},
	{1001, "going away"},
	{1002, "protocol error"},
	{1003, "unsupported type"},
	{1004, "unknown"}, // reserved, deliberately absent from the table
	{1005, "no status code [internal]"},
	{1006, "connection closed abnormally [internal]"},
	{1007, "invalid data"},
	{1008, "policy violation"},
	{1009, "message too big"},
	{1010, "extension required"},
	{1011, "unexpected error"},
	{1012, "unknown"},
	{1013, "unknown"},
	{1015, "TLS failure [internal]"},
	{0, "unknown"},
	{999, "unknown"},
	{2999, "unknown"},
	{3000, "registered"},
	{3500, "registered"},
	{3999, "registered"},
	{4000, "private use"},
	{4500, "private use"},
	{4999, "private use"},
	{5000, "unknown"},
	{65535, "unknown"},
}

func TestCloseCodeExplanation(t *testing.T) {
	for _, tt := range closeCodeExplanationTests {
		if got := closeCodeExplanation(tt.code); got != tt.want {
			t.Errorf("closeCodeExplanation(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

var formatCloseTests = []struct {
	code   CloseCode
	reason string
	want   string
}{
	{1000, "", "code = 1000 (OK), no reason"},
	{1000, "done", "code = 1000 (OK), reason = done"},
	{1009, "too big", "code = 1009 (message too big), reason = too big"},
	{1006, "", "code = 1006 (connection closed abnormally [internal]), no reason"},
	{3333, "app says so", "code = 3333 (registered), reason = app says so"},
	{4444, "", "code = 4444 (private use), no reason"},
	{1004, "", "code = 1004 (unknown), no reason"},
}

func TestFormatClose(t *testing.T) {
	for _, tt := range formatCloseTests {
		if got := FormatClose(tt.code, tt.reason); got != tt.want {
			t.Errorf("FormatClose(%d, %q) = %q, want %q", tt.code, tt.reason, got, tt.want)
		}
	}
}

var sentCloseCodeTests = []struct {
	code CloseCode
	ok   bool
}{
	{CloseNormalClosure, true},
	{CloseGoingAway, true},
	{CloseProtocolError, true},
	{CloseInternalServerErr, true},
	{CloseNoStatusReceived, false},
	{CloseAbnormalClosure, false},
	{CloseTLSHandshake, false},
	{1004, false},
	{1012, false},
	{2998, false},
	{3000, true},
	{4999, true},
	{5000, false},
	{999, false},
	{0, false},
}

func TestIsValidSentCloseCode(t *testing.T) {
	for _, tt := range sentCloseCodeTests {
		if got := isValidSentCloseCode(tt.code); got != tt.ok {
			t.Errorf("isValidSentCloseCode(%d) = %v, want %v", tt.code, got, tt.ok)
		}
	}
}

func TestInternalCloseCodes(t *testing.T) {
	for code := CloseCode(1000); code < 1016; code++ {
		internal := code == CloseNoStatusReceived || code == CloseAbnormalClosure || code == CloseTLSHandshake
		if got := isInternalCloseCode(code); got != internal {
			t.Errorf("isInternalCloseCode(%d) = %v, want %v", code, got, internal)
		}
		if internal && isValidReceivedCloseCode(code) {
			t.Errorf("isValidReceivedCloseCode(%d) = true for internal code", code)
		}
	}
}
