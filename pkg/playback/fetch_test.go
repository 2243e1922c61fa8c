// ABOUTME: Fetch planning and cache reader tests against a scripted session
// ABOUTME: Exercises range planning, busy storage, retries and cancellation
package playback

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Thalhammer/libspotify-embedded/pkg/cache"
	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/protocol"
	"github.com/Thalhammer/libspotify-embedded/pkg/session"
)

type fetchCall struct {
	fileID      string
	off, length uint32
	cancelled   bool
}

// fakeSession records fetches and lets the test answer them.
type fakeSession struct {
	offline bool
	fail    error
	calls   []*fetchCall
}

func (s *fakeSession) RequestMetadata(string, session.MetadataFunc) (session.CancelFunc, error) {
	return nil, errcode.New(errcode.Unsupported, "fake", "metadata")
}

func (s *fakeSession) Fetch(fileID string, off, length uint32, _ session.FetchSink) (session.CancelFunc, error) {
	if s.offline {
		return nil, errcode.New(errcode.Uninitialized, "fake", "offline")
	}
	if s.fail != nil {
		return nil, s.fail
	}
	call := &fetchCall{fileID: fileID, off: off, length: length}
	s.calls = append(s.calls, call)
	return func() { call.cancelled = true }, nil
}

func (s *fakeSession) Connectivity() session.Connectivity { return session.ConnectivityWired }

func (s *fakeSession) last() *fetchCall {
	if len(s.calls) == 0 {
		return nil
	}
	return s.calls[len(s.calls)-1]
}

// busyStorage reports ErrBusy for data writes while busy is set.
type busyStorage struct {
	*cache.MemoryStorage
	busy bool
}

func (s *busyStorage) WriteAt(key string, p []byte, off int64) (int, error) {
	if s.busy {
		return 0, cache.ErrBusy
	}
	return s.MemoryStorage.WriteAt(key, p, off)
}

const testFile = "file"

func newTestCache(t *testing.T, st cache.Storage, size uint32) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Config{Storage: st, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	if err := c.Allocate(testFile, size); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	return c
}

func payload(n uint32) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

// answer delivers the requested bytes of data and completes the request.
func answer(f *fetcher, call *fetchCall, data []byte) {
	f.OnChunk(call.off, data[call.off:call.off+call.length])
	f.OnDone(nil)
}

func TestFetcherPlansFromPositionAndWraps(t *testing.T) {
	size := uint32(3*cache.ChunkSize + 100)
	data := payload(size)
	c := newTestCache(t, cache.NewMemoryStorage(), size)
	sess := &fakeSession{}
	f := newFetcher(sess, c, zerolog.Nop(), testFile, size, 2*cache.ChunkSize)

	f.pump(cache.ChunkSize + 5)
	call := sess.last()
	if call == nil || call.off != cache.ChunkSize || call.length != 2*cache.ChunkSize {
		t.Fatalf("first fetch = %+v", call)
	}

	f.pump(cache.ChunkSize + 5)
	if len(sess.calls) != 1 {
		t.Fatalf("second request issued while one is in flight")
	}
	answer(f, call, data)

	f.pump(cache.ChunkSize + 5)
	call = sess.last()
	if call.off != 3*cache.ChunkSize || call.length != 100 {
		t.Fatalf("tail fetch = %+v", call)
	}
	answer(f, call, data)

	f.pump(cache.ChunkSize + 5)
	call = sess.last()
	if call.off != 0 || call.length != cache.ChunkSize {
		t.Fatalf("wrapped fetch = %+v", call)
	}
	answer(f, call, data)

	if !f.complete() {
		t.Fatal("file not complete")
	}
	f.pump(0)
	if len(sess.calls) != 3 {
		t.Errorf("fetches = %d after completion", len(sess.calls))
	}

	got := make([]byte, size)
	if _, err := c.ReadAt(testFile, got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("cached bytes differ")
	}
}

func TestFetcherParksBusyWrites(t *testing.T) {
	size := uint32(2 * cache.ChunkSize)
	data := payload(size)
	st := &busyStorage{MemoryStorage: cache.NewMemoryStorage()}
	c := newTestCache(t, st, size)
	sess := &fakeSession{}
	f := newFetcher(sess, c, zerolog.Nop(), testFile, size, size)

	f.pump(0)
	call := sess.last()
	st.busy = true
	f.OnChunk(0, data[:cache.ChunkSize])
	f.OnChunk(cache.ChunkSize, data[cache.ChunkSize:])
	f.OnDone(nil)
	if f.err != nil {
		t.Fatalf("busy storage failed the fetch: %v", f.err)
	}
	if len(f.pending) != 2 {
		t.Fatalf("pending writes = %d, want 2", len(f.pending))
	}

	f.pump(0)
	if len(sess.calls) != 1 {
		t.Fatal("refetched while writes were parked")
	}

	st.busy = false
	f.pump(0)
	if len(f.pending) != 0 || !f.complete() {
		t.Errorf("pending %d complete %v", len(f.pending), f.complete())
	}
	if len(sess.calls) != 1 || call.cancelled {
		t.Errorf("calls %d cancelled %v", len(sess.calls), call.cancelled)
	}
}

func TestFetcherRetriesConnectionLoss(t *testing.T) {
	size := uint32(cache.ChunkSize)
	c := newTestCache(t, cache.NewMemoryStorage(), size)
	sess := &fakeSession{}
	f := newFetcher(sess, c, zerolog.Nop(), testFile, size, size)

	lost := errcode.New(errcode.Failed, "session.fetch", "connection lost")
	for i := 0; i < maxRouteRetries; i++ {
		f.pump(0)
		f.OnDone(lost)
		if f.err != nil {
			t.Fatalf("retry %d failed the fetch: %v", i, f.err)
		}
	}
	if len(sess.calls) != maxRouteRetries {
		t.Errorf("fetches = %d", len(sess.calls))
	}

	f.pump(0)
	f.OnDone(lost)
	if !errors.Is(f.err, errcode.Failed) {
		t.Errorf("err = %v after exhausting retries", f.err)
	}
	f.pump(0)
	if len(sess.calls) != maxRouteRetries+1 {
		t.Errorf("failed fetcher kept requesting")
	}
}

func TestFetcherSuccessResetsRetries(t *testing.T) {
	size := uint32(3 * cache.ChunkSize)
	data := payload(size)
	c := newTestCache(t, cache.NewMemoryStorage(), size)
	sess := &fakeSession{}
	f := newFetcher(sess, c, zerolog.Nop(), testFile, size, cache.ChunkSize)

	lost := errcode.New(errcode.Failed, "session.fetch", "connection lost")
	for round := 0; round < 3; round++ {
		for i := 0; i < maxRouteRetries; i++ {
			f.pump(0)
			f.OnDone(lost)
		}
		f.pump(0)
		answer(f, sess.last(), data)
	}
	if f.err != nil || !f.complete() {
		t.Errorf("err %v complete %v", f.err, f.complete())
	}
}

func TestFetcherRemoteError(t *testing.T) {
	size := uint32(cache.ChunkSize)
	c := newTestCache(t, cache.NewMemoryStorage(), size)
	sess := &fakeSession{}
	f := newFetcher(sess, c, zerolog.Nop(), testFile, size, size)

	f.pump(0)
	f.OnDone(errcode.New(errcode.PlaybackGeneral, "session.fetch", "file gone"))
	if !errors.Is(f.err, errcode.PlaybackGeneral) {
		t.Errorf("err = %v", f.err)
	}
}

func TestFetcherWaitsWhileOffline(t *testing.T) {
	size := uint32(cache.ChunkSize)
	c := newTestCache(t, cache.NewMemoryStorage(), size)
	sess := &fakeSession{offline: true}
	f := newFetcher(sess, c, zerolog.Nop(), testFile, size, size)

	f.pump(0)
	if f.err != nil || f.inflight {
		t.Fatalf("err %v inflight %v", f.err, f.inflight)
	}
	sess.offline = false
	f.pump(0)
	if len(sess.calls) != 1 {
		t.Errorf("fetches = %d once online", len(sess.calls))
	}

	sess.fail = errcode.New(errcode.InvalidArgument, "fake", "bad range")
	g := newFetcher(sess, c, zerolog.Nop(), testFile, size, size)
	g.pump(0)
	if !errors.Is(g.err, errcode.InvalidArgument) {
		t.Errorf("err = %v", g.err)
	}
}

func TestFetcherStopDropsLateChunks(t *testing.T) {
	size := uint32(cache.ChunkSize)
	data := payload(size)
	c := newTestCache(t, cache.NewMemoryStorage(), size)
	sess := &fakeSession{}
	f := newFetcher(sess, c, zerolog.Nop(), testFile, size, size)

	f.pump(0)
	call := sess.last()
	f.stop()
	if !call.cancelled {
		t.Error("stop did not cancel the request")
	}
	answer(f, call, data)
	if c.IsRangeAvailable(testFile, 0, int64(size)) {
		t.Error("late chunk written after stop")
	}
	f.pump(0)
	if len(sess.calls) != 1 {
		t.Error("stopped fetcher requested again")
	}
}

func TestCacheReaderStopsAtGap(t *testing.T) {
	size := uint32(3 * cache.ChunkSize)
	data := payload(size)
	c := newTestCache(t, cache.NewMemoryStorage(), size)
	if err := c.Write(testFile, 0, data[:cache.ChunkSize]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Write(testFile, 2*cache.ChunkSize, data[2*cache.ChunkSize:]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	r := &cacheReader{cache: c, key: testFile, size: int64(size)}

	if !r.window(cache.ChunkSize) || r.window(cache.ChunkSize+1) {
		t.Error("window does not match the cached prefix")
	}

	buf := make([]byte, 2*cache.ChunkSize)
	n, err := r.Read(buf)
	if err != nil || n != cache.ChunkSize || !bytes.Equal(buf[:n], data[:n]) {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if _, err := r.Read(buf); !errors.Is(err, errStarved) {
		t.Fatalf("read into gap err = %v", err)
	}

	if err := c.Write(testFile, cache.ChunkSize, data[cache.ChunkSize:2*cache.ChunkSize]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(rest, data[cache.ChunkSize:]) {
		t.Error("remaining bytes differ")
	}
	if !r.window(1 << 20) {
		t.Error("window at end of entry should hold")
	}
}

func TestSelectFile(t *testing.T) {
	files := []protocol.AudioFile{
		{FileID: "pcm96", Bitrate: 96, Codec: "pcm", Size: 10},
		{FileID: "pcm160", Bitrate: 160, Codec: "pcm", Size: 10},
		{FileID: "opus160", Bitrate: 160, Codec: "opus", Size: 10},
		{FileID: "pcm320", Bitrate: 320, Codec: "pcm", Size: 10},
	}
	tests := []struct {
		name  string
		files []protocol.AudioFile
		want  Bitrate
		conn  session.Connectivity
		id    string
		ok    bool
	}{
		{"low", files, BitrateLow, session.ConnectivityWired, "pcm96", true},
		{"normal prefers first listed", files, BitrateNormal, session.ConnectivityWired, "pcm160", true},
		{"high", files, BitrateHigh, session.ConnectivityWired, "pcm320", true},
		{"mobile caps high", files, BitrateHigh, session.ConnectivityMobile, "pcm160", true},
		{"wireless not capped", files, BitrateHigh, session.ConnectivityWireless, "pcm320", true},
		{"lowest above when nothing fits", files[3:], BitrateLow, session.ConnectivityWired, "pcm320", true},
		{"skips empty files", []protocol.AudioFile{{FileID: "", Bitrate: 96, Size: 10}, {FileID: "z", Bitrate: 96}}, BitrateLow, session.ConnectivityWired, "", false},
		{"none", nil, BitrateHigh, session.ConnectivityWired, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := selectFile(tt.files, tt.want, tt.conn)
			if ok != tt.ok || got.FileID != tt.id {
				t.Errorf("selectFile = %q, %v; want %q, %v", got.FileID, ok, tt.id, tt.ok)
			}
		})
	}
}

func TestContextStep(t *testing.T) {
	ctx := Context{
		Tracks: make([]protocol.TrackInfo, 3),
		Order:  []int{2, 0, 1},
	}
	if got := ctx.slot(0); got != 1 {
		t.Errorf("slot(0) = %d", got)
	}
	if next, ok := ctx.step(0, 1); !ok || next != 1 {
		t.Errorf("step(0, 1) = %d, %v", next, ok)
	}
	if _, ok := ctx.step(1, 1); ok {
		t.Error("step past the end without repeat")
	}
	if _, ok := ctx.step(2, -1); ok {
		t.Error("step before the start without repeat")
	}

	ctx.Repeat = true
	if next, ok := ctx.step(1, 1); !ok || next != 2 {
		t.Errorf("repeat step(1, 1) = %d, %v", next, ok)
	}
	if prev, ok := ctx.step(2, -1); !ok || prev != 1 {
		t.Errorf("repeat step(2, -1) = %d, %v", prev, ok)
	}
}
