// ABOUTME: Tests for the MP3 stream
// ABOUTME: Invalid input must fail at construction
package decode

import (
	"bytes"
	"testing"

	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
)

func TestMP3StreamRejectsGarbage(t *testing.T) {
	garbage := bytes.Repeat([]byte{0x42}, 256)
	_, err := NewStream(audio.Format{Codec: "mp3", SampleRate: 44100, Channels: 2}, bytes.NewReader(garbage))
	if err == nil {
		t.Fatal("expected error for non-mp3 data")
	}
}

func TestForwardOnlyHidesSeeker(t *testing.T) {
	var r interface{} = forwardOnly{bytes.NewReader([]byte("abc"))}
	if _, ok := r.(interface {
		Seek(int64, int) (int64, error)
	}); ok {
		t.Fatal("forwardOnly must not expose Seek")
	}
}
