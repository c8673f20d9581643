package protocol

import "encoding/binary"

// EventType enumerates the kinds of input events a viewer can forward.
type EventType uint8

const (
	EventMouseMove   EventType = 0
	EventMouseDown   EventType = 1
	EventMouseUp     EventType = 2
	EventKeyDown     EventType = 3
	EventKeyUp       EventType = 4
	EventMouseScroll EventType = 5
)

// Button enumerates mouse buttons carried in an Input event.
type Button uint8

const (
	ButtonNone   Button = 0
	ButtonLeft   Button = 1
	ButtonRight  Button = 2
	ButtonMiddle Button = 3
)

// inputSize is the fixed Input record layout:
// event_type(1) + x(2) + y(2) + button(1) + key_code(2) + modifiers(1) + scroll_delta(2).
const inputSize = 11

// Input is a fixed-layout input-event record. ScrollDelta is transmitted
// unsigned on the wire and interpreted as signed via two's-complement fold —
// use Scroll() to get the signed value.
type Input struct {
	EventType   EventType
	X           uint16
	Y           uint16
	Button      Button
	KeyCode     uint16
	Modifiers   uint8
	ScrollDelta uint16
}

// Scroll returns ScrollDelta reinterpreted as a signed 16-bit value.
func (i Input) Scroll() int16 {
	return int16(i.ScrollDelta)
}

// Pack encodes the Input record into a payload suitable for
// protocol.Encode(TypeInput, ...).
func (i Input) Pack() []byte {
	buf := make([]byte, inputSize)
	buf[0] = byte(i.EventType)
	binary.BigEndian.PutUint16(buf[1:3], i.X)
	binary.BigEndian.PutUint16(buf[3:5], i.Y)
	buf[5] = byte(i.Button)
	binary.BigEndian.PutUint16(buf[6:8], i.KeyCode)
	buf[8] = i.Modifiers
	binary.BigEndian.PutUint16(buf[9:11], i.ScrollDelta)
	return buf
}

// DecodeInput parses an Input payload. It rejects short or long payloads —
// the record is fixed-layout, so any length other than inputSize is malformed.
func DecodeInput(payload []byte) (Input, error) {
	if len(payload) != inputSize {
		return Input{}, &MalformedError{Reason: "input payload is not the fixed 11-byte record"}
	}
	return Input{
		EventType:   EventType(payload[0]),
		X:           binary.BigEndian.Uint16(payload[1:3]),
		Y:           binary.BigEndian.Uint16(payload[3:5]),
		Button:      Button(payload[5]),
		KeyCode:     binary.BigEndian.Uint16(payload[6:8]),
		Modifiers:   payload[8],
		ScrollDelta: binary.BigEndian.Uint16(payload[9:11]),
	}, nil
}
