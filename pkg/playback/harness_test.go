// ABOUTME: Test harness: session, cache and controller against the loopback access point
// ABOUTME: Records sink output and every playback event for assertions
package playback

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/Thalhammer/libspotify-embedded/internal/version"
	"github.com/Thalhammer/libspotify-embedded/pkg/accesspoint"
	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
	"github.com/Thalhammer/libspotify-embedded/pkg/cache"
	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/notify"
	"github.com/Thalhammer/libspotify-embedded/pkg/session"
	"github.com/Thalhammer/libspotify-embedded/pkg/transport"
)

const (
	trackA    = "spotify:track:a"
	trackB    = "spotify:track:b"
	trackC    = "spotify:track:c"
	trackLong = "spotify:track:long"
	playlist  = "spotify:playlist:p"

	// frames of a one second tone at the low tier (8 kHz mono)
	lowFrames = 8000
)

type recordSink struct {
	limit   int
	frames  int
	calls   int
	samples []int16
	format  audio.Format
}

func (s *recordSink) Deliver(samples []int16, f audio.Format) int {
	s.calls++
	n := len(samples) / f.Channels
	if s.limit > 0 && n > s.limit {
		n = s.limit
	}
	s.samples = append(s.samples, samples[:n*f.Channels]...)
	s.frames += n
	s.format = f
	return n
}

type harness struct {
	t       *testing.T
	clk     *clock.Mock
	catalog *accesspoint.Catalog
	svc     *accesspoint.Service
	lb      *accesspoint.Loopback
	bus     *notify.Bus
	m       *session.Manager
	cache   *cache.Cache
	sink    *recordSink
	c       *Controller

	errs        []*errcode.Error
	notes       []Notification
	unavailable []TrackUnavailableEvent
	seeks       []int64
	volumes     []uint16
	prefetched  []PrefetchDoneEvent
	ready       int
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0))

	dir := accesspoint.NewDirectory()
	dir.Cost = bcrypt.MinCost
	if err := dir.Add("Alice", "secret", accesspoint.Premium); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sealer, err := accesspoint.NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	catalog := accesspoint.NewCatalog(zerolog.Nop())
	tones := []struct {
		uri, title string
		freq       float64
		d          time.Duration
	}{
		{trackA, "A", 440, time.Second},
		{trackB, "B", 550, time.Second},
		{trackC, "C", 660, time.Second},
		{trackLong, "Long", 330, 5 * time.Second},
	}
	for _, tone := range tones {
		if err := catalog.AddTone(tone.uri, tone.title, tone.freq, tone.d); err != nil {
			t.Fatalf("AddTone %s: %v", tone.uri, err)
		}
	}
	if err := catalog.AddPlaylist(playlist, "Mix", trackA, trackB, trackC); err != nil {
		t.Fatalf("AddPlaylist: %v", err)
	}

	svc, err := accesspoint.NewService(accesspoint.Config{
		Directory:  dir,
		Sealer:     sealer,
		Catalog:    catalog,
		LoginBurst: 100,
		Clock:      clk,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	h := &harness{t: t, clk: clk, catalog: catalog, svc: svc, lb: accesspoint.NewLoopback(svc)}
	h.bus = notify.NewBus(zerolog.Nop())

	m, err := session.New(session.Config{
		APIVersion:    version.APIVersion,
		WorkingMemory: session.MinWorkingMemory,
		AppKey:        []byte("application key"),
		Brand:         "Acme",
		Model:         "Box 1",
		DeviceType:    session.DeviceSpeaker,
		OnError:       func(err *errcode.Error) { h.errs = append(h.errs, err) },
		APAddress:     "ap.test:4070",
		Resolver:      transport.StaticResolver,
		Dialer:        h.lb,
		Bus:           h.bus,
		Clock:         clk,
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	h.m = m
	t.Cleanup(m.Release)

	h.cache, err = cache.New(cache.Config{Storage: cache.NewMemoryStorage(), Bus: h.bus, Clock: clk, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}

	h.sink = &recordSink{}
	cfg := Config{
		Session: m,
		Cache:   h.cache,
		Bus:     h.bus,
		Sink:    h.sink,
		Rand:    rand.New(rand.NewPCG(1, 2)),
		Logger:  zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.c, err = New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(h.c.Close)

	h.bus.Subscribe(notify.KindPlaybackNotify, notify.HandlerFunc(func(ev notify.Event) error {
		h.notes = append(h.notes, ev.(NotifyEvent).Notification)
		return nil
	}))
	h.bus.Subscribe(notify.KindTrackUnavailable, notify.HandlerFunc(func(ev notify.Event) error {
		h.unavailable = append(h.unavailable, ev.(TrackUnavailableEvent))
		return nil
	}))
	h.bus.Subscribe(notify.KindSeek, notify.HandlerFunc(func(ev notify.Event) error {
		h.seeks = append(h.seeks, ev.(SeekEvent).PositionMs)
		return nil
	}))
	h.bus.Subscribe(notify.KindVolumeChanged, notify.HandlerFunc(func(ev notify.Event) error {
		h.volumes = append(h.volumes, ev.(VolumeEvent).Volume)
		return nil
	}))
	h.bus.Subscribe(notify.KindPrefetchDone, notify.HandlerFunc(func(ev notify.Event) error {
		h.prefetched = append(h.prefetched, ev.(PrefetchDoneEvent))
		return nil
	}))
	h.bus.Subscribe(notify.KindAudioDataReady, notify.HandlerFunc(func(notify.Event) error {
		h.ready++
		return nil
	}))

	if err := m.LoginPassword("alice", "secret"); err != nil {
		t.Fatalf("LoginPassword: %v", err)
	}
	h.pump(4)
	if !m.IsLoggedIn() {
		t.Fatalf("not logged in: %v", h.errs)
	}
	return h
}

// pump runs n rounds of session pump, controller pump and a full bus drain.
func (h *harness) pump(n int) {
	for i := 0; i < n; i++ {
		h.m.Pump()
		h.c.Pump()
		h.drain()
	}
}

// drain delivers every queued event.
func (h *harness) drain() {
	for h.bus.Dispatch() > 0 {
	}
}

// until pumps until cond holds, failing the test after a bounded number
// of rounds.
func (h *harness) until(what string, cond func() bool) {
	h.t.Helper()
	for i := 0; i < 500; i++ {
		if cond() {
			return
		}
		h.pump(1)
	}
	if !cond() {
		h.t.Fatalf("timed out waiting for %s (state %s, errors %v)", what, h.c.State(), h.errs)
	}
}

func (h *harness) play(uri string, index int, positionMs int64) {
	h.t.Helper()
	if err := h.c.PlayURI(uri, index, positionMs); err != nil {
		h.t.Fatalf("PlayURI: %v", err)
	}
}

func (h *harness) loaded() bool {
	return h.c.cur != nil
}

func (h *harness) stopped() bool {
	return h.c.State() == StateStopped && h.c.cur == nil
}

func (h *harness) count(n Notification) int {
	c := 0
	for _, got := range h.notes {
		if got == n {
			c++
		}
	}
	return c
}

func (h *harness) codes() []errcode.Code {
	out := make([]errcode.Code, len(h.errs))
	for i, e := range h.errs {
		out[i] = e.Code
	}
	return out
}
