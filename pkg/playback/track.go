// ABOUTME: Per-track decoding over the chunk cache
// ABOUTME: Decoding advances only while the lookahead window is cached
package playback

import (
	"errors"
	"fmt"
	"io"

	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
	"github.com/Thalhammer/libspotify-embedded/pkg/audio/decode"
	"github.com/Thalhammer/libspotify-embedded/pkg/cache"
	"github.com/Thalhammer/libspotify-embedded/pkg/protocol"
)

// errStarved is returned by cacheReader when the next byte is not cached.
var errStarved = errors.New("cache data not yet available")

// cacheReader reads a cache entry sequentially, stopping at the first
// chunk that is not available.
type cacheReader struct {
	cache *cache.Cache
	key   string
	size  int64
	pos   int64
}

func (r *cacheReader) Read(p []byte) (int, error) {
	if r.pos >= r.size {
		return 0, io.EOF
	}
	n := min(int64(len(p)), r.size-r.pos)
	if n == 0 {
		return 0, nil
	}
	if gaps := r.cache.Missing(r.key, uint32(r.pos), uint32(n)); len(gaps) > 0 {
		avail := int64(gaps[0].Offset) - r.pos
		if avail <= 0 {
			return 0, errStarved
		}
		n = avail
	}
	got, err := r.cache.ReadAt(r.key, p[:n], r.pos)
	r.pos += int64(got)
	if err != nil {
		return got, err
	}
	return got, nil
}

// window reports whether the next n bytes, clipped to the entry, are cached.
func (r *cacheReader) window(n int64) bool {
	if r.pos >= r.size {
		return true
	}
	return r.cache.IsRangeAvailable(r.key, r.pos, min(n, r.size-r.pos))
}

// track is the decode state of the current track.
type track struct {
	info   protocol.TrackInfo
	index  int
	file   protocol.AudioFile
	format audio.Format
	fetch  *fetcher
	reader *cacheReader
	stream decode.Stream
	opened bool

	// baseMs is where delivery started; delivered counts frames since.
	baseMs    int64
	delivered int64
	skip      int
	buf       []int16
	eof       bool
}

func fileFormat(f protocol.AudioFile) audio.Format {
	return audio.Format{Codec: f.Codec, SampleRate: f.SampleRate, Channels: f.Channels, BitDepth: 16}
}

// seekTo positions the reader for posMs. Raw PCM seeks by byte offset;
// compressed files decode from the start and discard frames.
func (t *track) seekTo(posMs int64) {
	if t.stream != nil {
		t.stream.Close()
		t.stream = nil
	}
	t.buf = t.buf[:0]
	t.eof = false
	t.baseMs = posMs
	t.delivered = 0
	t.skip = 0

	frames := int64(t.format.SampleRate) * posMs / 1000
	if t.format.Codec == audio.CodecPCM {
		off := frames * int64(t.format.FrameBytes())
		t.reader.pos = min(off, t.reader.size)
		return
	}
	t.reader.pos = 0
	t.skip = int(frames)
}

// positionMs returns the play position of the next undelivered frame.
func (t *track) positionMs() int64 {
	if t.stream == nil || t.format.SampleRate == 0 {
		return t.baseMs
	}
	rate := int64(t.stream.Format().SampleRate)
	return t.baseMs + t.delivered*1000/rate
}

// buffered returns the number of decoded frames awaiting delivery.
func (t *track) buffered() int {
	if t.stream == nil {
		return 0
	}
	return len(t.buf) / t.stream.Format().Channels
}

// fill decodes until the buffer holds target frames, the file ends or
// the cache has not delivered the next window. It returns the number of
// frames added.
func (t *track) fill(target int, lookahead int64, scratch []int16) (int, error) {
	if t.eof {
		return 0, nil
	}
	if t.stream == nil {
		if !t.reader.window(lookahead) {
			return 0, nil
		}
		s, err := decode.NewStream(t.format, t.reader)
		if err != nil {
			return 0, fmt.Errorf("open %s stream: %w", t.format.Codec, err)
		}
		if err := s.Format().Validate(); err != nil {
			s.Close()
			return 0, err
		}
		t.stream = s
	}

	ch := t.stream.Format().Channels
	added := 0
	for len(t.buf)/ch < target && t.reader.window(lookahead) {
		n, err := t.stream.Read(scratch)
		if n > 0 {
			samples := scratch[:n]
			if t.skip > 0 {
				drop := min(t.skip, n/ch)
				t.skip -= drop
				samples = samples[drop*ch:]
			}
			t.buf = append(t.buf, samples...)
			added += len(samples) / ch
		}
		if errors.Is(err, io.EOF) {
			t.eof = true
			break
		}
		if errors.Is(err, errStarved) {
			break
		}
		if err != nil {
			return added, err
		}
		if n == 0 {
			break
		}
	}
	return added, nil
}

// finished reports whether every decoded frame was delivered.
func (t *track) finished() bool {
	return t.eof && len(t.buf) == 0
}

func (t *track) close() {
	if t.stream != nil {
		t.stream.Close()
		t.stream = nil
	}
	if t.fetch != nil {
		t.fetch.stop()
	}
	t.buf = nil
}
