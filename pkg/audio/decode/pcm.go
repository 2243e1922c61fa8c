// ABOUTME: PCM audio decoder
// ABOUTME: Decodes 16-bit and 24-bit little-endian PCM to int16 samples
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
)

// PCMDecoder decodes PCM audio
type PCMDecoder struct {
	bitDepth int
}

// NewPCM creates a new PCM decoder
func NewPCM(format audio.Format) (*PCMDecoder, error) {
	if format.Codec != audio.CodecPCM {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}

	depth := format.BitDepth
	if depth == 0 {
		depth = 16
	}
	if depth != 16 && depth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}

	return &PCMDecoder{bitDepth: depth}, nil
}

// SampleBytes returns the encoded size of one sample.
func (d *PCMDecoder) SampleBytes() int {
	return d.bitDepth / 8
}

// Decode converts PCM bytes to samples. Trailing bytes that do not form a
// whole sample are ignored.
func (d *PCMDecoder) Decode(data []byte) ([]int16, error) {
	if d.bitDepth == 24 {
		numSamples := len(data) / 3
		samples := make([]int16, numSamples)
		for i := 0; i < numSamples; i++ {
			b := [3]byte{data[i*3], data[i*3+1], data[i*3+2]}
			samples[i] = audio.SampleToInt16(audio.SampleFrom24Bit(b))
		}
		return samples, nil
	}

	numSamples := len(data) / 2
	samples := make([]int16, numSamples)
	for i := 0; i < numSamples; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	return nil
}

type pcmStream struct {
	r       io.Reader
	dec     *PCMDecoder
	format  audio.Format
	pending []byte
	buf     []byte
	eof     bool
}

func newPCMStream(format audio.Format, r io.Reader) (*pcmStream, error) {
	dec, err := NewPCM(format)
	if err != nil {
		return nil, err
	}
	out := format
	out.BitDepth = 16
	return &pcmStream{r: r, dec: dec, format: out}, nil
}

func (s *pcmStream) Format() audio.Format { return s.format }

func (s *pcmStream) Read(p []int16) (int, error) {
	frameBytes := s.format.Channels * s.dec.SampleBytes()
	want := wholeFrames(len(p), s.format.Channels) * s.dec.SampleBytes()
	if want == 0 {
		return 0, nil
	}

	for len(s.pending) < frameBytes && !s.eof {
		if cap(s.buf) < want {
			s.buf = make([]byte, want)
		}
		n, err := s.r.Read(s.buf[:want-len(s.pending)])
		s.pending = append(s.pending, s.buf[:n]...)
		if err == io.EOF {
			s.eof = true
			break
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			break
		}
	}

	usable := len(s.pending) - len(s.pending)%frameBytes
	if usable > want {
		usable = want
	}
	if usable == 0 {
		if s.eof {
			return 0, io.EOF
		}
		return 0, nil
	}

	samples, _ := s.dec.Decode(s.pending[:usable])
	n := copy(p, samples)
	s.pending = s.pending[usable:]
	return n, nil
}

func (s *pcmStream) Close() error {
	s.pending = nil
	return s.dec.Close()
}
