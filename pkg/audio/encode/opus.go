// ABOUTME: Opus audio encoder
// ABOUTME: Encodes 20ms blocks to length-prefixed Opus packets
package encode

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
)

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder    *opus.Encoder
	sampleRate int
	channels   int
	frameSize  int
	packet     []byte
}

// NewOpus creates a new Opus encoder
func NewOpus(format audio.Format) (*OpusEncoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	return &OpusEncoder{
		encoder:    encoder,
		sampleRate: format.SampleRate,
		channels:   format.Channels,
		frameSize:  format.SampleRate / 50, // 20ms frame
		packet:     make([]byte, 4000),
	}, nil
}

// SetBitrate sets the target bitrate in bits per second.
func (e *OpusEncoder) SetBitrate(bps int) error {
	return e.encoder.SetBitrate(bps)
}

// FrameSamples returns the interleaved sample count of one 20ms block.
func (e *OpusEncoder) FrameSamples() int {
	return e.frameSize * e.channels
}

// Encode encodes one 20ms block to a packet prefixed with its length
func (e *OpusEncoder) Encode(samples []int16) ([]byte, error) {
	if len(samples) != e.FrameSamples() {
		return nil, fmt.Errorf("opus block must be %d samples, got %d", e.FrameSamples(), len(samples))
	}

	n, err := e.encoder.Encode(samples, e.packet)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}

	out := make([]byte, 2+n)
	binary.BigEndian.PutUint16(out, uint16(n))
	copy(out[2:], e.packet[:n])
	return out, nil
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}
