// ABOUTME: Binary frame encoding and incremental decoding
// ABOUTME: Decoder accumulates partial reads until whole frames are available
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Version is the frame layout revision.
const Version byte = 1

// HeaderSize is the fixed frame header length.
const HeaderSize = 6

// MaxPayload bounds a single frame payload.
const MaxPayload = 1 << 20

// FrameType distinguishes control from chunk frames.
type FrameType byte

const (
	FrameControl FrameType = 1
	FrameChunk   FrameType = 2
)

var (
	ErrBadVersion = errors.New("protocol: unsupported frame version")
	ErrBadType    = errors.New("protocol: unknown frame type")
	ErrTooLarge   = errors.New("protocol: frame exceeds size limit")
	ErrShortChunk = errors.New("protocol: chunk payload too short")
)

// Frame is a decoded frame. Payload is owned by the caller.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// AppendFrame appends an encoded frame to dst.
func AppendFrame(dst []byte, t FrameType, payload []byte) []byte {
	var hdr [HeaderSize]byte
	hdr[0] = Version
	hdr[1] = byte(t)
	binary.BigEndian.PutUint32(hdr[2:], uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// AppendControl appends a control frame wrapping payload in an envelope.
func AppendControl(dst []byte, msgType string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(Message{Type: msgType, Payload: payload})
	if err != nil {
		return dst, fmt.Errorf("failed to marshal %s: %w", msgType, err)
	}
	return AppendFrame(dst, FrameControl, data), nil
}

// ChunkData is the payload of a chunk frame.
type ChunkData struct {
	ReqID  uint32
	Offset uint32
	Data   []byte
}

// AppendChunk appends a chunk frame.
func AppendChunk(dst []byte, reqID, offset uint32, data []byte) []byte {
	payload := make([]byte, 8+len(data))
	binary.BigEndian.PutUint32(payload[0:4], reqID)
	binary.BigEndian.PutUint32(payload[4:8], offset)
	copy(payload[8:], data)
	return AppendFrame(dst, FrameChunk, payload)
}

// ParseChunk decodes a chunk frame payload.
func ParseChunk(payload []byte) (ChunkData, error) {
	if len(payload) < 8 {
		return ChunkData{}, ErrShortChunk
	}
	return ChunkData{
		ReqID:  binary.BigEndian.Uint32(payload[0:4]),
		Offset: binary.BigEndian.Uint32(payload[4:8]),
		Data:   payload[8:],
	}, nil
}

// Decoder splits a byte stream into frames.
type Decoder struct {
	buf   []byte
	limit int
}

// NewDecoder returns a decoder rejecting payloads above limit.
func NewDecoder(limit int) *Decoder {
	if limit <= 0 {
		limit = MaxPayload
	}
	return &Decoder{limit: limit}
}

// Feed appends received bytes.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of undecoded bytes.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete frame. ok is false when more bytes are
// needed. A returned error is fatal for the stream.
func (d *Decoder) Next() (Frame, bool, error) {
	if len(d.buf) < HeaderSize {
		return Frame{}, false, nil
	}
	if d.buf[0] != Version {
		return Frame{}, false, fmt.Errorf("%w: %d", ErrBadVersion, d.buf[0])
	}
	t := FrameType(d.buf[1])
	if t != FrameControl && t != FrameChunk {
		return Frame{}, false, fmt.Errorf("%w: %d", ErrBadType, d.buf[1])
	}
	n := int(binary.BigEndian.Uint32(d.buf[2:6]))
	if n > d.limit {
		return Frame{}, false, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	if len(d.buf) < HeaderSize+n {
		return Frame{}, false, nil
	}

	payload := make([]byte, n)
	copy(payload, d.buf[HeaderSize:HeaderSize+n])
	d.buf = d.buf[HeaderSize+n:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return Frame{Type: t, Payload: payload}, true, nil
}

// Reset discards buffered bytes.
func (d *Decoder) Reset() {
	d.buf = nil
}
