// ABOUTME: Playback controller tests over the loopback access point
// ABOUTME: Covers play, pause, seek, skips, prefetch and error paths
package playback

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/Thalhammer/libspotify-embedded/pkg/accesspoint"
	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/protocol"
	"github.com/Thalhammer/libspotify-embedded/pkg/session"
)

func pull(cfg *Config) { cfg.Pull = true }

func TestPlayURINegativePosition(t *testing.T) {
	h := newHarness(t, nil)

	err := h.c.PlayURI(trackA, 0, -1)
	if !errors.Is(err, errcode.InvalidArgument) {
		t.Fatalf("err = %v, want InvalidArgument", err)
	}
	if n := h.m.Outstanding(); n != 0 {
		t.Errorf("outstanding requests = %d, want none", n)
	}
	h.pump(5)
	if h.loaded() || h.sink.frames != 0 {
		t.Error("rejected PlayURI must not start playback")
	}
}

func TestPlayURIPlaysContext(t *testing.T) {
	h := newHarness(t, nil)
	h.play(playlist, 0, 0)
	h.until("track loaded", h.loaded)
	h.until("end of context", h.stopped)

	if h.sink.frames != 3*lowFrames {
		t.Errorf("frames delivered = %d, want %d", h.sink.frames, 3*lowFrames)
	}
	if h.sink.format.SampleRate != 8000 || h.sink.format.Channels != 1 {
		t.Errorf("sink format = %s, want 8000Hz mono", h.sink.format)
	}
	if !slices.ContainsFunc(h.sink.samples, func(s int16) bool { return s != 0 }) {
		t.Error("sink received silence")
	}

	want := []Notification{
		NotifyContextChanged,
		NotifyTrackChanged, NotifyMetadataChanged, NotifyBecameActive, NotifyPlay, NotifyTrackDelivered,
		NotifyTrackChanged, NotifyMetadataChanged, NotifyTrackDelivered,
		NotifyTrackChanged, NotifyMetadataChanged, NotifyTrackDelivered,
		NotifyAudioDeliveryDone, NotifyBecameInactive,
	}
	if !slices.Equal(h.notes, want) {
		t.Errorf("notifications = %v\nwant %v", h.notes, want)
	}
	if h.ready == 0 {
		t.Error("no audio data ready events")
	}
	for _, uri := range []string{trackA, trackB, trackC} {
		if !h.cache.IsComplete(accesspoint.FileID(uri, audio.CodecPCM, accesspoint.TierLow)) {
			t.Errorf("%s not fully cached", uri)
		}
	}
	snap := h.c.Snapshot()
	if snap.URI != playlist || snap.Title != "Mix" || len(snap.Tracks) != 3 || snap.Index != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(h.errs) != 0 {
		t.Errorf("unexpected errors %v", h.errs)
	}
}

func TestNoDeliveryBeforeDataCached(t *testing.T) {
	h := newHarness(t, nil)
	h.play(trackA, 0, 0)
	h.until("track loaded", h.loaded)

	h.lb.Last().Stall(true)
	h.pump(20)
	if h.sink.frames != 0 {
		t.Fatalf("delivered %d frames before any chunk arrived", h.sink.frames)
	}
	if !h.c.IsPlaying() {
		t.Errorf("state = %s, want playing while waiting for data", h.c.State())
	}

	h.lb.Last().Stall(false)
	h.until("frames", func() bool { return h.sink.frames > 0 })
}

func TestStartPosition(t *testing.T) {
	h := newHarness(t, nil)
	h.play(trackLong, 0, 1000)
	h.until("track loaded", h.loaded)
	if got := h.c.Position(); got != 1000 {
		t.Errorf("position = %d, want 1000", got)
	}
	h.until("end", h.stopped)

	if want := 4 * lowFrames; h.sink.frames != want {
		t.Errorf("frames = %d, want %d", h.sink.frames, want)
	}
}

func TestPartialConsumption(t *testing.T) {
	h := newHarness(t, pull)
	h.sink.limit = 100
	h.play(trackA, 0, 0)
	h.until("decoded frames", func() bool { return h.loaded() && h.c.cur.buffered() > 0 })

	if n := h.c.OnAudioSinkPull(500); n != 100 {
		t.Fatalf("consumed = %d, want 100", n)
	}
	if n := h.c.OnAudioSinkPull(50); n != 50 {
		t.Fatalf("consumed = %d, want 50", n)
	}
	if h.sink.frames != 150 {
		t.Errorf("sink frames = %d", h.sink.frames)
	}
	if got, want := h.c.Position(), int64(150*1000/8000); got != want {
		t.Errorf("position = %d, want %d", got, want)
	}
	if n := h.c.OnAudioSinkPull(0); n != 0 {
		t.Errorf("zero pull consumed %d", n)
	}

	h.sink.limit = 0
	h.until("end", func() bool {
		h.c.OnAudioSinkPull(1024)
		return h.stopped()
	})
	if h.sink.frames != lowFrames {
		t.Errorf("frames = %d, want %d", h.sink.frames, lowFrames)
	}
}

func TestPauseHoldsDelivery(t *testing.T) {
	h := newHarness(t, nil)
	h.play(trackA, 0, 0)
	h.until("frames", func() bool { return h.sink.frames > 0 })

	if err := h.c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	held := h.sink.frames
	h.pump(10)
	if h.sink.frames != held {
		t.Errorf("delivered %d frames while paused", h.sink.frames-held)
	}
	if h.c.State() != StatePaused || h.count(NotifyPause) != 1 {
		t.Errorf("state %s, pause notifications %d", h.c.State(), h.count(NotifyPause))
	}

	if err := h.c.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	h.until("end", h.stopped)
	if h.sink.frames != lowFrames {
		t.Errorf("frames = %d, want %d", h.sink.frames, lowFrames)
	}
	if h.count(NotifyPlay) != 2 {
		t.Errorf("play notifications = %d, want 2", h.count(NotifyPlay))
	}
}

func TestSeek(t *testing.T) {
	h := newHarness(t, nil)
	h.play(trackLong, 0, 0)
	h.until("frames", func() bool { return h.sink.frames > 0 })
	h.c.Pause()
	before := h.sink.frames

	if err := h.c.Seek(-5); !errors.Is(err, errcode.InvalidArgument) {
		t.Errorf("negative seek err = %v", err)
	}
	if err := h.c.Seek(2000); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if h.c.Position() != 2000 {
		t.Errorf("position = %d, want 2000", h.c.Position())
	}
	h.c.Play()
	h.until("end", h.stopped)

	if got, want := h.sink.frames-before, 3*lowFrames; got != want {
		t.Errorf("frames after seek = %d, want %d", got, want)
	}
	if !slices.Equal(h.seeks, []int64{2000}) {
		t.Errorf("seek events = %v", h.seeks)
	}
	if h.count(NotifyAudioFlush) != 1 {
		t.Errorf("flush notifications = %d, want 1", h.count(NotifyAudioFlush))
	}
}

func TestSeekWithoutTrack(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.Seek(0); !errors.Is(err, errcode.Uninitialized) {
		t.Errorf("err = %v, want Uninitialized", err)
	}
	if err := h.c.Next(); !errors.Is(err, errcode.Uninitialized) {
		t.Errorf("next err = %v, want Uninitialized", err)
	}
	if err := h.c.Play(); !errors.Is(err, errcode.Uninitialized) {
		t.Errorf("play err = %v, want Uninitialized", err)
	}
}

func TestNextPrev(t *testing.T) {
	h := newHarness(t, pull)
	h.play(playlist, 0, 0)
	h.until("track loaded", h.loaded)

	h.c.Next()
	if got := h.c.Snapshot().Index; got != 1 {
		t.Fatalf("index after next = %d", got)
	}
	h.c.Prev()
	if got := h.c.Snapshot().Index; got != 0 {
		t.Fatalf("index after prev = %d", got)
	}
	h.drain()
	if h.count(NotifyNext) != 1 || h.count(NotifyPrev) != 1 || h.count(NotifyAudioFlush) != 2 {
		t.Errorf("notifications = %v", h.notes)
	}

	// prev at the first track restarts it
	h.c.Prev()
	if got := h.c.Snapshot().Index; got != 0 || !h.loaded() {
		t.Fatalf("index = %d loaded = %v", got, h.loaded())
	}

	h.c.Next()
	h.c.Next()
	h.c.Next()
	if !h.stopped() {
		t.Fatalf("next past the end should stop, state %s", h.c.State())
	}
	h.drain()
	if h.count(NotifyBecameInactive) != 1 {
		t.Errorf("became inactive = %d", h.count(NotifyBecameInactive))
	}

	h.c.SetRepeat(true)
	h.c.Play()
	h.c.Next()
	if got := h.c.Snapshot().Index; got != 0 {
		t.Errorf("repeat should wrap to 0, got %d", got)
	}
}

func TestPrevRestartsAfterThreeSeconds(t *testing.T) {
	h := newHarness(t, pull)
	h.play(trackLong, 0, 4000)
	h.until("track loaded", h.loaded)

	h.c.Prev()
	h.drain()
	if h.c.Position() != 0 || h.c.Snapshot().Index != 0 {
		t.Errorf("position %d index %d", h.c.Position(), h.c.Snapshot().Index)
	}
	if !slices.Equal(h.seeks, []int64{0}) {
		t.Errorf("seek events = %v", h.seeks)
	}
}

func TestShuffleAndRepeat(t *testing.T) {
	h := newHarness(t, pull)
	h.play(playlist, 1, 0)
	h.until("track loaded", h.loaded)

	h.c.SetShuffle(true)
	h.c.SetShuffle(true)
	snap := h.c.Snapshot()
	if !snap.Shuffle || snap.Order[0] != 1 || len(snap.Order) != 3 {
		t.Fatalf("shuffled order = %v", snap.Order)
	}
	sorted := slices.Clone(snap.Order)
	slices.Sort(sorted)
	if !slices.Equal(sorted, []int{0, 1, 2}) {
		t.Errorf("order %v is not a permutation", snap.Order)
	}

	h.c.SetShuffle(false)
	if got := h.c.Snapshot().Order; !slices.Equal(got, []int{0, 1, 2}) {
		t.Errorf("unshuffled order = %v", got)
	}
	if snap.Order[0] != 1 {
		t.Error("earlier snapshot changed")
	}

	h.c.SetRepeat(true)
	h.c.SetRepeat(false)
	h.pump(1)
	want := []Notification{NotifyShuffleOn, NotifyShuffleOff, NotifyRepeatOn, NotifyRepeatOff}
	var got []Notification
	for _, n := range h.notes {
		if slices.Contains(want, n) {
			got = append(got, n)
		}
	}
	if !slices.Equal(got, want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}
}

func TestVolume(t *testing.T) {
	h := newHarness(t, nil)
	if h.c.Volume() != audio.MaxVolume {
		t.Errorf("default volume = %d", h.c.Volume())
	}
	h.c.SetVolume(0)
	h.c.SetVolume(0)
	if err := h.c.SetVolumeSteps(0); !errors.Is(err, errcode.InvalidArgument) {
		t.Errorf("steps err = %v", err)
	}
	if err := h.c.SetVolumeSteps(16); err != nil || h.c.VolumeSteps() != 16 {
		t.Errorf("SetVolumeSteps: %v, steps %d", err, h.c.VolumeSteps())
	}

	h.play(trackA, 0, 0)
	h.until("track loaded", h.loaded)
	h.until("end", h.stopped)

	if !slices.Equal(h.volumes, []uint16{0}) {
		t.Errorf("volume events = %v", h.volumes)
	}
	if h.sink.frames != lowFrames {
		t.Fatalf("frames = %d", h.sink.frames)
	}
	if slices.ContainsFunc(h.sink.samples, func(s int16) bool { return s != 0 }) {
		t.Error("muted playback produced sound")
	}
}

func TestBitrateSelectsFile(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.SetBitrate(Bitrate(7)); !errors.Is(err, errcode.InvalidArgument) {
		t.Errorf("err = %v", err)
	}
	if err := h.c.SetBitrate(BitrateHigh); err != nil {
		t.Fatalf("SetBitrate: %v", err)
	}
	h.pump(1)
	if h.count(NotifyMetadataChanged) != 1 {
		t.Errorf("metadata notifications = %d", h.count(NotifyMetadataChanged))
	}

	h.play(trackA, 0, 0)
	h.until("track loaded", h.loaded)
	h.until("end", h.stopped)
	if h.sink.format.SampleRate != 44100 || h.sink.format.Channels != 2 || h.sink.frames != 44100 {
		t.Errorf("high tier delivered %d frames of %s", h.sink.frames, h.sink.format)
	}
}

func TestMobileCapsBitrate(t *testing.T) {
	h := newHarness(t, nil)
	h.m.SetConnectivity(session.ConnectivityMobile)
	h.c.SetBitrate(BitrateHigh)

	h.play(trackA, 0, 0)
	h.until("track loaded", h.loaded)
	md, err := h.c.Metadata(0)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if md.Bitrate != accesspoint.TierNormal {
		t.Errorf("bitrate = %d, want %d", md.Bitrate, accesspoint.TierNormal)
	}
	h.until("end", h.stopped)
	if h.sink.format.SampleRate != 22050 {
		t.Errorf("format = %s, want the 160 kbit/s pcm file", h.sink.format)
	}
}

func TestUnavailableTrackSkipped(t *testing.T) {
	h := newHarness(t, nil)
	h.catalog.SetAvailable(trackB, false)

	h.play(playlist, 0, 0)
	h.until("track loaded", h.loaded)
	h.until("end", h.stopped)

	if len(h.unavailable) != 1 || h.unavailable[0].URI != trackB || h.unavailable[0].Index != 1 {
		t.Errorf("unavailable events = %v", h.unavailable)
	}
	if h.sink.frames != 2*lowFrames {
		t.Errorf("frames = %d, want %d", h.sink.frames, 2*lowFrames)
	}
	if len(h.errs) != 0 {
		t.Errorf("unavailable tracks are not errors: %v", h.errs)
	}
}

func TestContextFailed(t *testing.T) {
	tests := []struct {
		name  string
		uri   string
		index int
	}{
		{"unknown uri", "spotify:track:nope", 0},
		{"index out of range", playlist, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.play(tt.uri, tt.index, 0)
			h.until("error", func() bool { return len(h.errs) > 0 })

			if !slices.Equal(h.codes(), []errcode.Code{errcode.ContextFailed}) {
				t.Errorf("errors = %v", h.errs)
			}
			if !h.stopped() {
				t.Errorf("state = %s", h.c.State())
			}
		})
	}
}

func TestCorruptTrackSkipped(t *testing.T) {
	h := newHarness(t, nil)
	bad := protocol.TrackInfo{URI: "spotify:track:bad", Title: "Bad", DurationMs: 1000, Available: true}
	files := []protocol.AudioFile{{Bitrate: accesspoint.TierLow, Codec: audio.CodecOpus, SampleRate: 48000, Channels: 2}}
	if err := h.catalog.AddTrack(bad, files, [][]byte{bytes.Repeat([]byte{0xff}, 64)}); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	if err := h.catalog.AddPlaylist("spotify:playlist:q", "Q", bad.URI, trackA); err != nil {
		t.Fatalf("AddPlaylist: %v", err)
	}

	h.play("spotify:playlist:q", 0, 0)
	h.until("track loaded", h.loaded)
	h.until("end", h.stopped)

	if !slices.Equal(h.codes(), []errcode.Code{errcode.CorruptTrack}) {
		t.Errorf("errors = %v", h.errs)
	}
	if h.sink.frames != lowFrames {
		t.Errorf("frames = %d, want the second track only", h.sink.frames)
	}
}

func TestQueue(t *testing.T) {
	h := newHarness(t, pull)
	if err := h.c.Queue(trackLong); !errors.Is(err, errcode.Uninitialized) {
		t.Errorf("queue without context err = %v", err)
	}

	h.play(playlist, 0, 0)
	h.until("track loaded", h.loaded)
	if err := h.c.Queue(trackLong); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	h.until("queued", func() bool { return len(h.c.Snapshot().Tracks) == 4 })

	if got := h.c.Snapshot().Order; !slices.Equal(got, []int{0, 3, 1, 2}) {
		t.Errorf("order = %v", got)
	}
	md, err := h.c.Metadata(1)
	if err != nil || md.URI != trackLong {
		t.Errorf("next track = %+v, %v", md, err)
	}
	h.c.Next()
	if got := h.c.Snapshot().Index; got != 3 {
		t.Errorf("index after next = %d, want the queued track", got)
	}
}

func TestMetadata(t *testing.T) {
	h := newHarness(t, pull)
	if _, err := h.c.Metadata(0); !errors.Is(err, errcode.Uninitialized) {
		t.Errorf("err before play = %v", err)
	}
	if lo, hi := h.c.MetadataValidRange(); lo != 0 || hi != 0 {
		t.Errorf("range before play = %d..%d", lo, hi)
	}

	h.play(playlist, 1, 0)
	h.until("track loaded", h.loaded)

	md, err := h.c.Metadata(0)
	if err != nil {
		t.Fatalf("Metadata(0): %v", err)
	}
	if md.URI != trackB || md.Title != "B" || md.ContextURI != playlist || md.ContextTitle != "Mix" ||
		md.Index != 1 || md.Bitrate != accesspoint.TierLow || md.DurationMs != 1000 {
		t.Errorf("current = %+v", md)
	}
	if prev, _ := h.c.Metadata(-1); prev.URI != trackA {
		t.Errorf("previous = %+v", prev)
	}
	if next, _ := h.c.Metadata(1); next.URI != trackC {
		t.Errorf("next = %+v", next)
	}
	if lo, hi := h.c.MetadataValidRange(); lo != -1 || hi != 1 {
		t.Errorf("range = %d..%d", lo, hi)
	}
	if _, err := h.c.Metadata(2); !errors.Is(err, errcode.InvalidArgument) {
		t.Errorf("offset 2 err = %v", err)
	}

	h.c.Next()
	if _, err := h.c.Metadata(1); !errors.Is(err, errcode.InvalidArgument) {
		t.Errorf("past the end err = %v", err)
	}
	if lo, hi := h.c.MetadataValidRange(); lo != -1 || hi != 0 {
		t.Errorf("range at end = %d..%d", lo, hi)
	}
}

func TestPrefetch(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.Prefetch(trackA); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	h.until("prefetch done", func() bool { return len(h.prefetched) > 0 })

	key := accesspoint.FileID(trackA, audio.CodecPCM, accesspoint.TierLow)
	if ev := h.prefetched[0]; ev.URI != trackA || ev.FileID != key {
		t.Errorf("event = %+v", ev)
	}
	info, ok := h.cache.Stat(key)
	if !ok || !info.Complete || !info.Pinned {
		t.Errorf("entry = %+v", info)
	}
	if h.c.Prefetching() {
		t.Error("prefetch still running after done")
	}
	if h.loaded() || h.c.State() != StateStopped {
		t.Error("prefetch changed playback")
	}

	h.c.StopPrefetching()
	if info, _ := h.cache.Stat(key); info.Pinned {
		t.Error("entry still pinned after StopPrefetching")
	}
}

func TestSecondPrefetchFails(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.Prefetch(trackA); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	err := h.c.Prefetch(trackB)
	if !errors.Is(err, errcode.AlreadyPrefetching) {
		t.Fatalf("err = %v, want AlreadyPrefetching", err)
	}

	h.until("prefetch done", func() bool { return len(h.prefetched) > 0 })
	if err := h.c.Prefetch(trackB); err != nil {
		t.Errorf("prefetch after completion: %v", err)
	}
}

func TestPrefetchUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.catalog.SetAvailable(trackB, false)

	if err := h.c.Prefetch(trackB); err != nil {
		t.Fatalf("Prefetch returned %v; unavailability is reported asynchronously", err)
	}
	h.until("error", func() bool { return len(h.errs) > 0 })
	if !slices.Equal(h.codes(), []errcode.Code{errcode.PrefetchUnavailable}) {
		t.Errorf("errors = %v", h.errs)
	}
	if h.c.Prefetching() {
		t.Error("failed prefetch still active")
	}

	h.errs = nil
	h.c.Prefetch("spotify:track:nope")
	h.until("error", func() bool { return len(h.errs) > 0 })
	if !slices.Equal(h.codes(), []errcode.Code{errcode.PrefetchUnavailable}) {
		t.Errorf("errors = %v", h.errs)
	}
}

func TestStopPrefetchingDropsLateResults(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Prefetch(trackA)
	h.c.StopPrefetching()
	h.pump(20)

	if len(h.prefetched) != 0 || len(h.errs) != 0 {
		t.Errorf("late outcome applied: prefetched %v errors %v", h.prefetched, h.errs)
	}
	if _, ok := h.cache.Stat(accesspoint.FileID(trackA, audio.CodecPCM, accesspoint.TierLow)); ok {
		t.Error("cancelled prefetch allocated an entry")
	}
}

func TestPrefetchWhilePlaying(t *testing.T) {
	h := newHarness(t, pull)
	h.play(playlist, 0, 0)
	h.until("track loaded", h.loaded)

	if err := h.c.Prefetch(trackLong); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	h.until("prefetch done", func() bool { return len(h.prefetched) > 0 })
	if got := h.c.Snapshot().Index; got != 0 || !h.c.IsPlaying() {
		t.Errorf("playback changed: index %d state %s", got, h.c.State())
	}
}

func TestLogoutStopsPlayback(t *testing.T) {
	h := newHarness(t, pull)
	h.play(trackA, 0, 0)
	h.until("track loaded", h.loaded)

	if err := h.m.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	h.until("stopped", h.stopped)
	if h.count(NotifyBecameInactive) != 1 {
		t.Errorf("notifications = %v", h.notes)
	}
}

func TestRemoteCommands(t *testing.T) {
	h := newHarness(t, pull)
	h.m.SetCommandHandler(h.c.HandleCommand)
	h.play(trackLong, 0, 0)
	h.until("track loaded", h.loaded)

	h.svc.Command(protocol.ServerCommand{Command: "pause"})
	h.until("paused", func() bool { return h.c.State() == StatePaused })

	h.svc.Command(protocol.ServerCommand{Command: "volume", Volume: 1000})
	h.until("volume", func() bool { return h.c.Volume() == 1000 })

	h.svc.Command(protocol.ServerCommand{Command: "seek", PositionMs: 1500})
	h.until("seek", func() bool { return h.c.Position() == 1500 })

	h.svc.Command(protocol.ServerCommand{Command: "play"})
	h.until("playing", h.c.IsPlaying)

	h.svc.Command(protocol.ServerCommand{Command: "revoke"})
	h.until("lost permission", func() bool { return h.count(NotifyLostPermission) == 1 })
	if h.c.State() != StatePaused {
		t.Errorf("state = %s after revoke", h.c.State())
	}
}

func TestRevokeWhileStopped(t *testing.T) {
	h := newHarness(t, pull)
	h.m.SetCommandHandler(h.c.HandleCommand)

	h.svc.Command(protocol.ServerCommand{Command: "revoke"})
	h.until("lost permission", func() bool { return h.count(NotifyLostPermission) == 1 })
	if h.c.State() != StateStopped {
		t.Errorf("state = %s after revoke", h.c.State())
	}
	if n := h.count(NotifyPause); n != 0 {
		t.Errorf("pause notifications = %d, want 0", n)
	}
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, errcode.InvalidArgument) {
		t.Errorf("err = %v, want InvalidArgument", err)
	}
}
