// Package protocol implements the application message codec: the fixed
// 13-byte header and typed payloads (Frame, Input) that the relay forwards
// opaquely between a host and its viewer. The relay never imports this
// package — only the endpoint agents parse application messages.
package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Type identifies the kind of application message carried after the header.
type Type uint8

const (
	TypeConnect    Type = 0x10 // reserved for completeness, unused in relay mode
	TypeConnectAck Type = 0x11 // reserved for completeness, unused in relay mode
	TypeDisconnect Type = 0x12 // reserved for completeness, unused in relay mode
	TypeFrame      Type = 0x20
	TypeInput      Type = 0x21
	TypeError      Type = 0xF0 // reserved for completeness, unused in relay mode
)

// HeaderSize is the fixed header length: type(1) + timestamp_ms(8) + payload_len(4).
const HeaderSize = 13

// DefaultMaxPayload bounds a single application message's payload.
const DefaultMaxPayload = 10 * 1024 * 1024 // 10 MiB

// Message is a parsed application message: header fields plus raw payload.
type Message struct {
	Type      Type
	Timestamp int64 // producer local wall-clock, milliseconds; informational only
	Payload   []byte
}

// Encode writes the 13-byte header followed by payload. Never fails.
func Encode(t Type, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(t)
	binary.BigEndian.PutUint64(buf[1:9], uint64(time.Now().UnixMilli()))
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// MalformedError reports a framing or payload-length violation.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string { return "malformed application message: " + e.Reason }

// Decode parses a buffer into its header fields and payload. It enforces
// maxPayload (DefaultMaxPayload if zero) against the declared payload_len
// and against the bytes actually available.
func Decode(buf []byte, maxPayload uint32) (Message, error) {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayload
	}
	if len(buf) < HeaderSize {
		return Message{}, &MalformedError{Reason: fmt.Sprintf("buffer shorter than header: %d bytes", len(buf))}
	}

	t := Type(buf[0])
	ts := int64(binary.BigEndian.Uint64(buf[1:9]))
	payloadLen := binary.BigEndian.Uint32(buf[9:13])

	if payloadLen > maxPayload {
		return Message{}, &MalformedError{Reason: fmt.Sprintf("payload_len %d exceeds max %d", payloadLen, maxPayload)}
	}
	if uint32(len(buf)-HeaderSize) < payloadLen {
		return Message{}, &MalformedError{Reason: "buffer shorter than declared payload_len"}
	}

	payload := buf[HeaderSize : HeaderSize+int(payloadLen)]
	return Message{Type: t, Timestamp: ts, Payload: payload}, nil
}
