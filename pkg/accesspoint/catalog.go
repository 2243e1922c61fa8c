// ABOUTME: In-memory track catalog: synthesized tones, files from disk, playlists
// ABOUTME: Resolves uris to contexts and serves encoded file bytes by file id
package accesspoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog"

	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
	"github.com/Thalhammer/libspotify-embedded/pkg/audio/encode"
	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/protocol"
)

// Bitrate tiers in kbit/s.
const (
	TierLow    = 96
	TierNormal = 160
	TierHigh   = 320
)

// DirPCMFormat is assumed for raw .pcm files loaded by LoadDir.
var DirPCMFormat = audio.Format{Codec: audio.CodecPCM, SampleRate: 44100, Channels: 2, BitDepth: 16}

var toneTiers = []struct {
	bitrate int
	format  audio.Format
}{
	{TierLow, audio.Format{Codec: audio.CodecPCM, SampleRate: 8000, Channels: 1, BitDepth: 16}},
	{TierNormal, audio.Format{Codec: audio.CodecPCM, SampleRate: 22050, Channels: 1, BitDepth: 16}},
	{TierHigh, audio.Format{Codec: audio.CodecPCM, SampleRate: 44100, Channels: 2, BitDepth: 16}},
}

var toneOpus = audio.Format{Codec: audio.CodecOpus, SampleRate: 48000, Channels: 2, BitDepth: 16}

type playlist struct {
	title  string
	tracks []string
}

// Catalog is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	tracks    map[string]*protocol.TrackInfo
	playlists map[string]*playlist
	files     map[string][]byte
	log       zerolog.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger zerolog.Logger) *Catalog {
	return &Catalog{
		tracks:    make(map[string]*protocol.TrackInfo),
		playlists: make(map[string]*playlist),
		files:     make(map[string][]byte),
		log:       logger.With().Str("component", "catalog").Logger(),
	}
}

// FileID derives a stable file id for one encoding of a track.
func FileID(uri, codec string, bitrate int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%s/%d", uri, codec, bitrate))).String()
}

// AddTrack stores a track and its encoded files. info.Files is rebuilt
// from data, which maps each AudioFile to its bytes.
func (c *Catalog) AddTrack(info protocol.TrackInfo, files []protocol.AudioFile, data [][]byte) error {
	if info.URI == "" {
		return fmt.Errorf("track without uri")
	}
	if len(files) != len(data) {
		return fmt.Errorf("%s: %d files but %d payloads", info.URI, len(files), len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	info.Files = nil
	for i, f := range files {
		if f.FileID == "" {
			f.FileID = FileID(info.URI, f.Codec, f.Bitrate)
		}
		f.Size = uint32(len(data[i]))
		c.files[f.FileID] = data[i]
		info.Files = append(info.Files, f)
	}
	sort.SliceStable(info.Files, func(i, j int) bool { return info.Files[i].Bitrate < info.Files[j].Bitrate })
	c.tracks[info.URI] = &info
	return nil
}

// AddTone synthesizes a sine track encoded at every tier.
func (c *Catalog) AddTone(uri, title string, frequency float64, d time.Duration) error {
	info := protocol.TrackInfo{
		URI:        uri,
		Title:      title,
		Artist:     "Tone Generator",
		Album:      "Test Tones",
		DurationMs: d.Milliseconds(),
		Available:  true,
	}

	var files []protocol.AudioFile
	var payloads [][]byte
	for _, tier := range toneTiers {
		src := NewToneSource(frequency, tier.format.SampleRate, tier.format.Channels)
		enc, err := encode.NewPCM(tier.format)
		if err != nil {
			return fmt.Errorf("%s: %w", uri, err)
		}
		data, err := enc.Encode(src.Samples(tier.format.Frames(d)))
		enc.Close()
		if err != nil {
			return fmt.Errorf("%s: encode %d kbit/s: %w", uri, tier.bitrate, err)
		}
		files = append(files, audioFile(tier.bitrate, tier.format))
		payloads = append(payloads, data)
	}

	if data, err := encodeOpusTone(frequency, d); err != nil {
		c.log.Debug().Err(err).Str("uri", uri).Msg("opus unavailable, serving pcm only")
	} else {
		files = append(files, audioFile(TierNormal, toneOpus))
		payloads = append(payloads, data)
	}

	return c.AddTrack(info, files, payloads)
}

func encodeOpusTone(frequency float64, d time.Duration) ([]byte, error) {
	enc, err := encode.NewOpus(toneOpus)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	if err := enc.SetBitrate(TierNormal * 1000); err != nil {
		return nil, fmt.Errorf("set opus bitrate: %w", err)
	}
	src := NewToneSource(frequency, toneOpus.SampleRate, toneOpus.Channels)
	return encode.File(enc, src.Samples(toneOpus.Frames(d)), enc.FrameSamples())
}

func audioFile(bitrate int, f audio.Format) protocol.AudioFile {
	return protocol.AudioFile{
		Bitrate:    bitrate,
		Codec:      f.Codec,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
	}
}

// LoadDir adds every .mp3 and .pcm file in dir as a track under
// spotify:track:<basename>. It returns the number of tracks added.
func (c *Catalog) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read catalog dir: %w", err)
	}

	added := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".mp3" && ext != ".pcm" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		uri := "spotify:track:" + strings.ReplaceAll(base, " ", "_")

		if err := c.loadFile(uri, base, path, ext); err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("skipping catalog file")
			continue
		}
		added++
	}
	c.log.Info().Str("dir", dir).Int("tracks", added).Msg("catalog loaded")
	return added, nil
}

func (c *Catalog) loadFile(uri, title, path, ext string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var format audio.Format
	var duration time.Duration
	bitrate := TierHigh
	switch ext {
	case ".mp3":
		format, duration, err = probeMP3(path)
		if err != nil {
			return err
		}
		if duration > 0 {
			bitrate = nearestTier(int(int64(len(data)) * 8 / duration.Milliseconds()))
		}
	case ".pcm":
		format = DirPCMFormat
		duration = format.Duration(len(data) / format.FrameBytes())
	}

	info := protocol.TrackInfo{
		URI:        uri,
		Title:      title,
		Artist:     "Unknown Artist",
		Album:      filepath.Base(filepath.Dir(path)),
		DurationMs: duration.Milliseconds(),
		Available:  true,
	}
	return c.AddTrack(info, []protocol.AudioFile{audioFile(bitrate, format)}, [][]byte{data})
}

func probeMP3(path string) (audio.Format, time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Format{}, 0, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return audio.Format{}, 0, fmt.Errorf("mp3 header: %w", err)
	}
	format := audio.Format{Codec: audio.CodecMP3, SampleRate: dec.SampleRate(), Channels: 2, BitDepth: 16}
	// Length is in bytes of 16-bit stereo output
	frames := int(dec.Length() / 4)
	return format, format.Duration(frames), nil
}

func nearestTier(kbps int) int {
	best := TierLow
	for _, t := range []int{TierLow, TierNormal, TierHigh} {
		if abs(t-kbps) < abs(best-kbps) {
			best = t
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// AddPlaylist groups existing tracks under uri.
func (c *Catalog) AddPlaylist(uri, title string, trackURIs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range trackURIs {
		if _, ok := c.tracks[t]; !ok {
			return fmt.Errorf("playlist %s: unknown track %s", uri, t)
		}
	}
	c.playlists[uri] = &playlist{title: title, tracks: append([]string(nil), trackURIs...)}
	return nil
}

// SetAvailable marks a track playable or not. It reports whether the
// track exists.
func (c *Catalog) SetAvailable(uri string, available bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tracks[uri]
	if ok {
		t.Available = available
	}
	return ok
}

// Resolve expands uri into a context: a playlist yields its tracks, a
// track yields itself.
func (c *Catalog) Resolve(uri string) (protocol.ServerMetadata, errcode.Code) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.playlists[uri]; ok {
		md := protocol.ServerMetadata{ContextURI: uri, ContextTitle: p.title}
		for _, t := range p.tracks {
			md.Tracks = append(md.Tracks, c.trackInfo(c.tracks[t]))
		}
		return md, errcode.OK
	}
	if t, ok := c.tracks[uri]; ok {
		return protocol.ServerMetadata{
			ContextURI:   uri,
			ContextTitle: t.Title,
			Tracks:       []protocol.TrackInfo{c.trackInfo(t)},
		}, errcode.OK
	}
	return protocol.ServerMetadata{}, errcode.ContextFailed
}

// trackInfo copies t, hiding files of unavailable tracks.
func (c *Catalog) trackInfo(t *protocol.TrackInfo) protocol.TrackInfo {
	info := *t
	if info.Available {
		info.Files = append([]protocol.AudioFile(nil), t.Files...)
	} else {
		info.Files = nil
	}
	return info
}

// File returns the bytes of a file id.
func (c *Catalog) File(id string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.files[id]
	return data, ok
}

// Tracks returns the uris of all tracks in sorted order.
func (c *Catalog) Tracks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uris := make([]string, 0, len(c.tracks))
	for uri := range c.tracks {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}
