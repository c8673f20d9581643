// Package envelope implements the relay-interpreted control messages: a
// single tag byte followed by a small JSON document. The control tags
// (0x01-0x05, 0x10-0x15) are distinct from the application types used in
// relay mode (FRAME 0x20, INPUT 0x21 in internal/protocol), which fall in
// the RelayData range, so a receiver can dispatch on the first byte of any
// WebSocket message. The reserved application types 0x10-0x12 share values
// with Disconnect, Error and RequestControl and are not sent in relay mode.
// See SPEC_FULL.md §3 for the full tag table.
package envelope

import "encoding/json"

// Tag identifies a relay envelope message.
type Tag uint8

const (
	HostRegister    Tag = 0x01
	HostRegistered  Tag = 0x02
	ClientJoin      Tag = 0x03
	ClientJoined    Tag = 0x04
	ClientConnected Tag = 0x05

	Disconnect Tag = 0x10
	Error      Tag = 0x11

	RequestControl Tag = 0x12
	ControlGranted Tag = 0x13
	ControlDenied  Tag = 0x14
	ControlRevoked Tag = 0x15

	// RelayDataMin/RelayDataMax bound the forwarded-opaque-application-message
	// range. The relay dispatches everything in this range without parsing it.
	RelayDataMin Tag = 0x20
	RelayDataMax Tag = 0x2F
)

// Doc is the stringly-typed structured document carried by every envelope
// payload. Only the fields relevant to a given Tag are populated.
type Doc struct {
	SessionCode  string `json:"session_code,omitempty"`
	Message      string `json:"message,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
	ScreenWidth  int    `json:"screen_width,omitempty"`
	ScreenHeight int    `json:"screen_height,omitempty"`
	FPS          int    `json:"fps,omitempty"`
}

// Encode builds a complete WebSocket message: tag byte + JSON payload.
func Encode(tag Tag, doc Doc) []byte {
	body, _ := json.Marshal(doc) // Doc has no field that can fail to marshal.
	out := make([]byte, 1+len(body))
	out[0] = byte(tag)
	copy(out[1:], body)
	return out
}

// IsRelayData reports whether tag falls in the forwarded-opaque range.
func IsRelayData(tag Tag) bool {
	return tag >= RelayDataMin && tag <= RelayDataMax
}

// DecodeError reports a malformed envelope message.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "malformed envelope: " + e.Reason }

// Decode splits a raw WebSocket message into its tag and parsed Doc. Decode
// is used only by endpoints (host/viewer) — the relay itself never parses
// the payload of a RelayData-range message, only its own control tags.
func Decode(raw []byte) (Tag, Doc, error) {
	if len(raw) < 1 {
		return 0, Doc{}, &DecodeError{Reason: "empty message"}
	}
	tag := Tag(raw[0])
	var doc Doc
	if len(raw) > 1 {
		if err := json.Unmarshal(raw[1:], &doc); err != nil {
			return tag, Doc{}, &DecodeError{Reason: "payload is not valid JSON: " + err.Error()}
		}
	}
	return tag, doc, nil
}
