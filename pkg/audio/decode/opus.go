// ABOUTME: Opus audio decoder
// ABOUTME: Packet decoder plus a stream over length-prefixed packets
package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"gopkg.in/hraban/opus.v2"

	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
)

// MaxOpusPacket bounds a single packet in an Opus file.
const MaxOpusPacket = 4000

// OpusDecoder decodes Opus audio
type OpusDecoder struct {
	decoder *opus.Decoder
	format  audio.Format
	pcm     []int16
}

// NewOpus creates a new Opus decoder
func NewOpus(format audio.Format) (*OpusDecoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.Codec)
	}

	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder: dec,
		format:  format,
		pcm:     make([]int16, 5760*format.Channels), // 120ms at 48kHz
	}, nil
}

// Decode converts one Opus packet to samples
func (d *OpusDecoder) Decode(data []byte) ([]int16, error) {
	n, err := d.decoder.Decode(data, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	out := make([]int16, n*d.format.Channels)
	copy(out, d.pcm)
	return out, nil
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}

type opusStream struct {
	r       io.Reader
	dec     *OpusDecoder
	format  audio.Format
	pending []int16
	hdr     [2]byte
	packet  []byte
}

func newOpusStream(format audio.Format, r io.Reader) (*opusStream, error) {
	dec, err := NewOpus(format)
	if err != nil {
		return nil, err
	}
	out := format
	out.BitDepth = 16
	return &opusStream{r: r, dec: dec, format: out, packet: make([]byte, MaxOpusPacket)}, nil
}

func (s *opusStream) Format() audio.Format { return s.format }

func (s *opusStream) Read(p []int16) (int, error) {
	if len(s.pending) == 0 {
		if _, err := io.ReadFull(s.r, s.hdr[:]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, fmt.Errorf("truncated opus packet header: %w", err)
			}
			return 0, err
		}
		size := int(binary.BigEndian.Uint16(s.hdr[:]))
		if size == 0 || size > MaxOpusPacket {
			return 0, fmt.Errorf("invalid opus packet size %d", size)
		}
		if _, err := io.ReadFull(s.r, s.packet[:size]); err != nil {
			return 0, fmt.Errorf("truncated opus packet: %w", err)
		}
		samples, err := s.dec.Decode(s.packet[:size])
		if err != nil {
			return 0, err
		}
		s.pending = samples
	}

	n := copy(p[:wholeFrames(len(p), s.format.Channels)], s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *opusStream) Close() error {
	s.pending = nil
	return s.dec.Close()
}
