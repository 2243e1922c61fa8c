// ABOUTME: MP3 streaming decoder
// ABOUTME: Wraps go-mp3, which always produces 16-bit stereo
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
)

// forwardOnly hides io.Seeker so go-mp3 does not scan the whole file
// for its length on construction.
type forwardOnly struct {
	r io.Reader
}

func (f forwardOnly) Read(p []byte) (int, error) { return f.r.Read(p) }

type mp3Stream struct {
	dec    *mp3.Decoder
	format audio.Format
	buf    []byte
	odd    []byte
}

func newMP3Stream(r io.Reader) (*mp3Stream, error) {
	dec, err := mp3.NewDecoder(forwardOnly{r})
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}
	return &mp3Stream{
		dec: dec,
		format: audio.Format{
			Codec:      audio.CodecMP3,
			SampleRate: dec.SampleRate(),
			Channels:   2,
			BitDepth:   16,
		},
	}, nil
}

func (s *mp3Stream) Format() audio.Format { return s.format }

func (s *mp3Stream) Read(p []int16) (int, error) {
	want := wholeFrames(len(p), 2) * 2
	if want == 0 {
		return 0, nil
	}
	if cap(s.buf) < want {
		s.buf = make([]byte, want)
	}

	// go-mp3 may return a byte count that splits a frame; keep the tail
	buf := append(s.buf[:0], s.odd...)
	n, err := s.dec.Read(s.buf[len(buf):want])
	buf = s.buf[:len(buf)+n]
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("mp3 decode error: %w", err)
	}

	usable := len(buf) - len(buf)%4
	s.odd = append(s.odd[:0], buf[usable:]...)
	samples := usable / 2
	for i := 0; i < samples; i++ {
		p[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	if err == io.EOF && samples == 0 {
		return 0, io.EOF
	}
	return samples, nil
}

func (s *mp3Stream) Close() error {
	return nil
}
