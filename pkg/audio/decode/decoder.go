// ABOUTME: Decoder and Stream interfaces
// ABOUTME: NewStream picks the streaming decoder for a codec
package decode

import (
	"fmt"
	"io"

	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
)

// Decoder decodes one packet of encoded audio
type Decoder interface {
	// Decode converts encoded audio data to interleaved samples
	Decode(data []byte) ([]int16, error)

	// Close releases decoder resources
	Close() error
}

// Stream decodes a whole file incrementally.
type Stream interface {
	// Format describes the samples returned by Read.
	Format() audio.Format

	// Read fills p with interleaved samples and returns how many were
	// written, always a whole number of frames. It returns io.EOF after
	// the last sample.
	Read(p []int16) (int, error)

	// Close releases decoder resources
	Close() error
}

// NewStream returns a streaming decoder for format reading from r.
func NewStream(format audio.Format, r io.Reader) (Stream, error) {
	switch format.Codec {
	case audio.CodecPCM:
		return newPCMStream(format, r)
	case audio.CodecMP3:
		return newMP3Stream(r)
	case audio.CodecOpus:
		return newOpusStream(format, r)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", format.Codec)
	}
}

// wholeFrames rounds n samples down to a multiple of channels.
func wholeFrames(n, channels int) int {
	if channels <= 1 {
		return n
	}
	return n - n%channels
}
