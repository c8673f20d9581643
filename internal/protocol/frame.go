package protocol

import "encoding/binary"

// frameHeaderSize is the Frame payload's own sub-header:
// width(2) + height(2) + frame_number(4).
const frameHeaderSize = 8

// Frame is a screen-frame application message: dimensions, a monotonically
// increasing frame number, and the opaque encoded-image bytes produced by
// the capture collaborator (never interpreted here).
type Frame struct {
	Width       uint16
	Height      uint16
	FrameNumber uint32
	Image       []byte
}

// Pack encodes the Frame sub-header and image bytes into a payload suitable
// for protocol.Encode(TypeFrame, ...).
func (f Frame) Pack() []byte {
	buf := make([]byte, frameHeaderSize+len(f.Image))
	binary.BigEndian.PutUint16(buf[0:2], f.Width)
	binary.BigEndian.PutUint16(buf[2:4], f.Height)
	binary.BigEndian.PutUint32(buf[4:8], f.FrameNumber)
	copy(buf[frameHeaderSize:], f.Image)
	return buf
}

// DecodeFrame parses a Frame payload (the bytes after the 13-byte header).
func DecodeFrame(payload []byte) (Frame, error) {
	if len(payload) < frameHeaderSize {
		return Frame{}, &MalformedError{Reason: "frame payload shorter than sub-header"}
	}
	return Frame{
		Width:       binary.BigEndian.Uint16(payload[0:2]),
		Height:      binary.BigEndian.Uint16(payload[2:4]),
		FrameNumber: binary.BigEndian.Uint32(payload[4:8]),
		Image:       payload[frameHeaderSize:],
	}, nil
}
