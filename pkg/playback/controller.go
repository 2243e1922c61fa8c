// ABOUTME: Playback controller: state machine, track loading and sink feeding
// ABOUTME: Driven by Pump; every change publishes a new Context snapshot
package playback

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Thalhammer/libspotify-embedded/internal/metrics"
	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
	"github.com/Thalhammer/libspotify-embedded/pkg/cache"
	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/notify"
	"github.com/Thalhammer/libspotify-embedded/pkg/protocol"
	"github.com/Thalhammer/libspotify-embedded/pkg/session"
)

const (
	DefaultVolumeSteps = 64
	DefaultBuffer      = 500 * time.Millisecond
	DefaultLookahead   = 64 * 1024
	DefaultFetchSize   = 128 * 1024

	// Prev restarts the current track once it has played this long.
	restartThreshold = 3000

	scratchSamples = 4096
)

// Session is the part of the session manager the controller needs.
type Session interface {
	RequestMetadata(uri string, fn session.MetadataFunc) (session.CancelFunc, error)
	Fetch(fileID string, offset, length uint32, sink session.FetchSink) (session.CancelFunc, error)
	Connectivity() session.Connectivity
}

// Config configures a Controller.
type Config struct {
	Session Session      `validate:"required"`
	Cache   *cache.Cache `validate:"required"`
	Bus     *notify.Bus  `validate:"required"`
	Sink    audio.Sink   `validate:"required"`

	// Pull leaves delivery to OnAudioSinkPull; otherwise Pump offers
	// frames to Sink.
	Pull bool

	Bitrate Bitrate `validate:"gte=0,lte=2"`

	// Volume is the starting volume. Zero starts at full volume.
	Volume      uint16
	VolumeSteps int `validate:"gte=0,lte=65535"`

	// Buffer is how much decoded audio is kept ahead of the sink.
	Buffer time.Duration `validate:"gte=0"`

	// Lookahead is the cached byte window required before decoding.
	Lookahead int64 `validate:"gte=0"`

	// FetchSize caps the length of one fetch request.
	FetchSize uint32

	// Rand orders shuffled contexts. Nil seeds from the clock.
	Rand   *rand.Rand
	Logger zerolog.Logger
}

var validate = validator.New()

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return errcode.New(errcode.InvalidArgument, "playback.init", "invalid fields: %s", strings.Join(fields, ", "))
		}
		return errcode.Wrap(errcode.InvalidArgument, "playback.init", err)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Volume == 0 {
		c.Volume = audio.MaxVolume
	}
	if c.VolumeSteps == 0 {
		c.VolumeSteps = DefaultVolumeSteps
	}
	if c.Buffer == 0 {
		c.Buffer = DefaultBuffer
	}
	if c.Lookahead == 0 {
		c.Lookahead = DefaultLookahead
	}
	if c.FetchSize == 0 {
		c.FetchSize = DefaultFetchSize
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
}

// Controller plays contexts into a sink. It is not safe for concurrent
// use, except for Snapshot, Position, State and IsPlaying.
type Controller struct {
	cfg   Config
	sess  Session
	cache *cache.Cache
	bus   *notify.Bus
	log   zerolog.Logger

	ctx      atomic.Pointer[Context]
	position atomic.Int64

	cur    *track
	active bool
	queued int

	metaGen    uint64
	metaCancel session.CancelFunc
	queueGen   uint64
	queueReqs  map[uint64]session.CancelFunc

	pre   *prefetch
	users map[string]int

	scratch []int16
	out     []int16
	subs    []notify.Handle
	closed  bool
}

// New creates a stopped controller with an empty context.
func New(cfg Config) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	c := &Controller{
		cfg:       cfg,
		sess:      cfg.Session,
		cache:     cfg.Cache,
		bus:       cfg.Bus,
		log:       cfg.Logger.With().Str("component", "playback").Logger(),
		queueReqs: make(map[uint64]session.CancelFunc),
		users:     make(map[string]int),
		scratch:   make([]int16, scratchSamples),
	}
	c.ctx.Store(&Context{
		Index:       -1,
		Volume:      cfg.Volume,
		VolumeSteps: cfg.VolumeSteps,
		Bitrate:     cfg.Bitrate,
		State:       StateStopped,
	})
	c.subs = append(c.subs, c.bus.Subscribe(notify.KindLoggedOut, notify.HandlerFunc(func(notify.Event) error {
		c.log.Debug().Msg("logged out, stopping playback")
		c.cancelRequests()
		c.StopPrefetching()
		c.Stop()
		return nil
	})))
	return c, nil
}

// Close stops playback and prefetching and detaches from the bus.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.cancelRequests()
	c.StopPrefetching()
	c.closeTrack(false)
	for _, h := range c.subs {
		c.bus.Unsubscribe(h)
	}
	c.subs = nil
	c.closed = true
}

// Snapshot returns the current context with the live position.
func (c *Controller) Snapshot() Context {
	s := *c.ctx.Load()
	s.PositionMs = c.position.Load()
	return s
}

// State returns the playback state.
func (c *Controller) State() State { return c.ctx.Load().State }

// IsPlaying reports whether frames are being delivered.
func (c *Controller) IsPlaying() bool { return c.State() == StatePlaying }

// Position returns the play position of the current track in ms.
func (c *Controller) Position() int64 { return c.position.Load() }

// Volume returns the current volume on the 0..65535 scale.
func (c *Controller) Volume() uint16 { return c.ctx.Load().Volume }

// VolumeSteps returns the number of volume steps the device exposes.
func (c *Controller) VolumeSteps() int { return c.ctx.Load().VolumeSteps }

// IsShuffled reports whether shuffle is on.
func (c *Controller) IsShuffled() bool { return c.ctx.Load().Shuffle }

// IsRepeated reports whether repeat is on.
func (c *Controller) IsRepeated() bool { return c.ctx.Load().Repeat }

// IsActive reports whether this device has played since it last became
// inactive.
func (c *Controller) IsActive() bool { return c.active }

// Bitrate returns the requested bitrate tier.
func (c *Controller) Bitrate() Bitrate { return c.ctx.Load().Bitrate }

func (c *Controller) update(fn func(*Context)) {
	n := c.ctx.Load().clone()
	fn(n)
	c.ctx.Store(n)
}

func (c *Controller) notify(n Notification) {
	c.log.Debug().Stringer("notification", n).Msg("playback notify")
	c.bus.Publish(NotifyEvent{Notification: n})
}

func (c *Controller) publishError(code errcode.Code, op string, err error) {
	tagged := &errcode.Error{Code: code, Op: op, Err: err}
	c.log.Warn().Err(tagged).Msg("playback error")
	c.bus.Publish(notify.ErrorEvent{Err: tagged})
}

func (c *Controller) cancelRequests() {
	c.metaGen++
	if c.metaCancel != nil {
		c.metaCancel()
		c.metaCancel = nil
	}
	for gen, cancel := range c.queueReqs {
		cancel()
		delete(c.queueReqs, gen)
	}
}

// PlayURI resolves uri and starts playing its index-th track at
// positionMs. Resolution is asynchronous; a failure is published as
// ContextFailed and stops playback.
func (c *Controller) PlayURI(uri string, index int, positionMs int64) error {
	const op = "playback.play_uri"
	if positionMs < 0 {
		return errcode.New(errcode.InvalidArgument, op, "negative position %d", positionMs)
	}
	if uri == "" || index < 0 {
		return errcode.New(errcode.InvalidArgument, op, "uri and a non-negative index required")
	}

	c.cancelRequests()
	gen := c.metaGen
	cancel, err := c.sess.RequestMetadata(uri, func(md *protocol.ServerMetadata, err error) {
		if gen != c.metaGen {
			return
		}
		c.metaCancel = nil
		c.onContext(uri, index, positionMs, md, err)
	})
	if err != nil {
		return err
	}
	c.metaCancel = cancel
	c.log.Debug().Str("uri", uri).Int("index", index).Int64("position_ms", positionMs).Msg("resolving context")
	return nil
}

func (c *Controller) onContext(uri string, index int, positionMs int64, md *protocol.ServerMetadata, err error) {
	const op = "playback.context"
	if err == nil && len(md.Tracks) == 0 {
		err = fmt.Errorf("%s has no tracks", uri)
	}
	if err == nil && index >= len(md.Tracks) {
		err = fmt.Errorf("index %d outside %d tracks of %s", index, len(md.Tracks), uri)
	}
	if err != nil {
		c.publishError(errcode.ContextFailed, op, err)
		c.stop(false)
		return
	}

	c.closeTrack(true)
	c.queued = 0
	ctxURI := md.ContextURI
	if ctxURI == "" {
		ctxURI = uri
	}
	c.update(func(n *Context) {
		n.URI = ctxURI
		n.Title = md.ContextTitle
		n.Tracks = md.Tracks
		n.Index = index
		n.PositionMs = positionMs
		if n.Shuffle {
			n.Order = c.shuffled(len(md.Tracks), index)
		} else {
			n.Order = identity(len(md.Tracks))
		}
	})
	c.log.Info().Str("context", ctxURI).Int("tracks", len(md.Tracks)).Msg("context loaded")
	c.notify(NotifyContextChanged)
	c.startTrack(index, positionMs)
}

// shuffled returns a random play order over n tracks starting with first.
func (c *Controller) shuffled(n, first int) []int {
	order := c.cfg.Rand.Perm(n)
	for i, v := range order {
		if v == first {
			order[0], order[i] = order[i], order[0]
			break
		}
	}
	return order
}

// startTrack loads index, skipping forward over tracks that cannot be
// played. It stops when nothing playable remains.
func (c *Controller) startTrack(index int, positionMs int64) {
	ctx := c.ctx.Load()
	for tries := 0; tries < len(ctx.Tracks); tries++ {
		if c.load(index, positionMs) {
			return
		}
		next, ok := ctx.step(index, 1)
		if !ok {
			break
		}
		index, positionMs = next, 0
	}
	c.stop(false)
}

// load makes index the current track. It reports false if the track was
// skipped.
func (c *Controller) load(index int, positionMs int64) bool {
	ctx := c.ctx.Load()
	info := ctx.Tracks[index]

	file, ok := selectFile(info.Files, ctx.Bitrate, c.sess.Connectivity())
	if !info.Available || !ok {
		metrics.PlaybackTrackSkips.WithLabelValues("unavailable").Inc()
		c.log.Info().Str("uri", info.URI).Msg("track unavailable, skipping")
		c.bus.Publish(TrackUnavailableEvent{URI: info.URI, Index: index})
		return false
	}
	format := fileFormat(file)
	if file.Codec != audio.CodecMP3 {
		if err := format.Validate(); err != nil {
			metrics.PlaybackTrackSkips.WithLabelValues("corrupt").Inc()
			c.publishError(errcode.CorruptTrack, "playback.load", fmt.Errorf("%s: %w", info.URI, err))
			return false
		}
	}
	if info.DurationMs > 0 && positionMs > info.DurationMs {
		positionMs = info.DurationMs
	}

	t := &track{
		info:   info,
		index:  index,
		file:   file,
		format: format,
		fetch:  newFetcher(c.sess, c.cache, c.log, file.FileID, file.Size, c.cfg.FetchSize),
		reader: &cacheReader{cache: c.cache, key: file.FileID, size: int64(file.Size)},
	}
	if err := c.open(t); err != nil {
		metrics.PlaybackTrackSkips.WithLabelValues("storage").Inc()
		c.publishError(errcode.CodeOf(err), "playback.load", fmt.Errorf("%s: %w", info.URI, err))
		return false
	}
	t.seekTo(positionMs)
	c.cur = t
	c.position.Store(positionMs)

	wasStopped := ctx.State == StateStopped
	c.update(func(n *Context) {
		n.Index = index
		n.PositionMs = positionMs
		if wasStopped {
			n.State = StatePlaying
		}
	})
	c.log.Debug().Str("uri", info.URI).Str("codec", file.Codec).Int("bitrate", file.Bitrate).Msg("track loaded")
	c.notify(NotifyTrackChanged)
	c.notify(NotifyMetadataChanged)
	if wasStopped {
		if !c.active {
			c.active = true
			c.notify(NotifyBecameActive)
		}
		c.notify(NotifyPlay)
	}
	return true
}

// open allocates and pins the track's cache entry. A transient storage
// fault leaves it for the next pump.
func (c *Controller) open(t *track) error {
	err := c.cache.Allocate(t.file.FileID, t.file.Size)
	if errors.Is(err, errcode.ErrWouldBlock) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.acquire(t.file.FileID); err != nil {
		return err
	}
	t.opened = true
	return nil
}

func (c *Controller) acquire(key string) error {
	if err := c.cache.Pin(key); err != nil {
		return err
	}
	c.users[key]++
	return nil
}

// release drops one use of key and closes the entry after the last one.
func (c *Controller) release(key string) {
	if c.users[key] == 0 {
		return
	}
	c.users[key]--
	c.cache.Unpin(key)
	if c.users[key] > 0 {
		return
	}
	delete(c.users, key)
	if err := c.cache.Close(key); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache close failed")
	}
}

func (c *Controller) closeTrack(flush bool) {
	t := c.cur
	if t == nil {
		return
	}
	t.close()
	if t.opened {
		c.release(t.file.FileID)
	}
	c.cur = nil
	if flush {
		c.notify(NotifyAudioFlush)
	}
}

// stop ends playback. done marks the natural end of the context.
func (c *Controller) stop(done bool) {
	hadTrack := c.cur != nil
	c.closeTrack(!done && hadTrack)
	if c.ctx.Load().State != StateStopped {
		c.update(func(n *Context) { n.State = StateStopped })
		if done {
			c.notify(NotifyAudioDeliveryDone)
		}
	}
	if c.active {
		c.active = false
		c.notify(NotifyBecameInactive)
	}
}

// advance moves to the next track after the current one ends or fails.
func (c *Controller) advance() {
	ctx := c.ctx.Load()
	next, ok := ctx.step(ctx.Index, 1)
	if !ok {
		c.stop(true)
		return
	}
	c.closeTrack(false)
	if c.queued > 0 {
		c.queued--
	}
	c.startTrack(next, 0)
}

// trackFailed reports err for the current track and moves on.
func (c *Controller) trackFailed(code errcode.Code, reason string, err error) {
	metrics.PlaybackTrackSkips.WithLabelValues(reason).Inc()
	c.publishError(code, "playback.track", fmt.Errorf("%s: %w", c.cur.info.URI, err))
	c.advance()
}

// Play resumes paused playback, or restarts the current track when
// stopped.
func (c *Controller) Play() error {
	ctx := c.ctx.Load()
	switch ctx.State {
	case StatePlaying:
		return nil
	case StatePaused:
		c.update(func(n *Context) { n.State = StatePlaying })
		c.notify(NotifyPlay)
		return nil
	}
	if ctx.Index < 0 {
		return errcode.New(errcode.Uninitialized, "playback.play", "nothing to play")
	}
	c.startTrack(ctx.Index, 0)
	return nil
}

// Pause holds delivery; fetching and decoding continue.
func (c *Controller) Pause() error {
	if c.ctx.Load().State != StatePlaying {
		return nil
	}
	c.update(func(n *Context) { n.State = StatePaused })
	c.notify(NotifyPause)
	return nil
}

// Stop ends playback and keeps the context.
func (c *Controller) Stop() error {
	if c.cur == nil && c.ctx.Load().State == StateStopped && !c.active {
		return nil
	}
	c.stop(false)
	return nil
}

// Next skips to the next track in play order. At the end of a context
// without repeat playback stops.
func (c *Controller) Next() error {
	ctx := c.ctx.Load()
	if ctx.Index < 0 {
		return errcode.New(errcode.Uninitialized, "playback.next", "no context")
	}
	c.notify(NotifyNext)
	next, ok := ctx.step(ctx.Index, 1)
	if !ok {
		c.stop(false)
		return nil
	}
	c.closeTrack(true)
	if c.queued > 0 {
		c.queued--
	}
	c.startTrack(next, 0)
	return nil
}

// Prev restarts the current track once it has played for three seconds,
// otherwise it moves to the previous track.
func (c *Controller) Prev() error {
	ctx := c.ctx.Load()
	if ctx.Index < 0 {
		return errcode.New(errcode.Uninitialized, "playback.prev", "no context")
	}
	c.notify(NotifyPrev)
	if c.cur != nil && c.position.Load() > restartThreshold {
		return c.Seek(0)
	}
	prev, ok := ctx.step(ctx.Index, -1)
	if !ok {
		prev = ctx.Index
	}
	c.closeTrack(true)
	c.queued = 0
	c.startTrack(prev, 0)
	return nil
}

// Seek moves the current track to positionMs.
func (c *Controller) Seek(positionMs int64) error {
	const op = "playback.seek"
	if positionMs < 0 {
		return errcode.New(errcode.InvalidArgument, op, "negative position %d", positionMs)
	}
	t := c.cur
	if t == nil {
		return errcode.New(errcode.Uninitialized, op, "no track loaded")
	}
	if t.info.DurationMs > 0 && positionMs > t.info.DurationMs {
		positionMs = t.info.DurationMs
	}
	t.seekTo(positionMs)
	c.position.Store(positionMs)
	c.update(func(n *Context) { n.PositionMs = positionMs })
	c.notify(NotifyAudioFlush)
	c.bus.Publish(SeekEvent{PositionMs: positionMs})
	return nil
}

// SetVolume changes the volume applied to delivered frames.
func (c *Controller) SetVolume(volume uint16) {
	if c.ctx.Load().Volume == volume {
		return
	}
	c.update(func(n *Context) { n.Volume = volume })
	c.bus.Publish(VolumeEvent{Volume: volume})
}

// SetVolumeSteps sets how many steps the device volume control has.
func (c *Controller) SetVolumeSteps(steps int) error {
	if steps < 1 || steps > audio.MaxVolume {
		return errcode.New(errcode.InvalidArgument, "playback.volume_steps", "steps %d out of range", steps)
	}
	c.update(func(n *Context) { n.VolumeSteps = steps })
	return nil
}

// SetShuffle turns shuffle on or off. The current track stays first in
// the new order.
func (c *Controller) SetShuffle(on bool) {
	ctx := c.ctx.Load()
	if ctx.Shuffle == on {
		return
	}
	c.update(func(n *Context) {
		n.Shuffle = on
		if on && len(n.Tracks) > 0 {
			n.Order = c.shuffled(len(n.Tracks), max(n.Index, 0))
		} else {
			n.Order = identity(len(n.Tracks))
		}
	})
	c.queued = 0
	if on {
		c.notify(NotifyShuffleOn)
	} else {
		c.notify(NotifyShuffleOff)
	}
}

// SetRepeat turns context repeat on or off.
func (c *Controller) SetRepeat(on bool) {
	if c.ctx.Load().Repeat == on {
		return
	}
	c.update(func(n *Context) { n.Repeat = on })
	if on {
		c.notify(NotifyRepeatOn)
	} else {
		c.notify(NotifyRepeatOff)
	}
}

// SetBitrate selects the quality tier for tracks loaded from now on.
func (c *Controller) SetBitrate(b Bitrate) error {
	if b < BitrateLow || b > BitrateHigh {
		return errcode.New(errcode.InvalidArgument, "playback.bitrate", "unknown bitrate %d", int(b))
	}
	if c.ctx.Load().Bitrate == b {
		return nil
	}
	c.update(func(n *Context) { n.Bitrate = b })
	c.notify(NotifyMetadataChanged)
	return nil
}

// Queue resolves uri and plays its tracks after the current one, in the
// order they were queued.
func (c *Controller) Queue(uri string) error {
	const op = "playback.queue"
	if uri == "" {
		return errcode.New(errcode.InvalidArgument, op, "empty uri")
	}
	if c.ctx.Load().Index < 0 {
		return errcode.New(errcode.Uninitialized, op, "no context")
	}
	c.queueGen++
	gen := c.queueGen
	cancel, err := c.sess.RequestMetadata(uri, func(md *protocol.ServerMetadata, err error) {
		if _, ok := c.queueReqs[gen]; !ok {
			return
		}
		delete(c.queueReqs, gen)
		if err != nil {
			c.publishError(errcode.ContextFailed, op, fmt.Errorf("%s: %w", uri, err))
			return
		}
		c.enqueue(md.Tracks)
	})
	if err != nil {
		return err
	}
	c.queueReqs[gen] = cancel
	return nil
}

func (c *Controller) enqueue(tracks []protocol.TrackInfo) {
	if len(tracks) == 0 {
		return
	}
	c.update(func(n *Context) {
		base := len(n.Tracks)
		n.Tracks = append(append([]protocol.TrackInfo(nil), n.Tracks...), tracks...)

		at := n.slot(n.Index) + 1 + c.queued
		if at > len(n.Order) {
			at = len(n.Order)
		}
		order := make([]int, 0, len(n.Order)+len(tracks))
		order = append(order, n.Order[:at]...)
		for i := range tracks {
			order = append(order, base+i)
		}
		n.Order = append(order, n.Order[at:]...)
	})
	c.queued += len(tracks)
	c.notify(NotifyContextChanged)
}

// Metadata describes the track offset places from the current one in
// play order: -1 previous, 0 current, 1 next.
func (c *Controller) Metadata(offset int) (TrackMetadata, error) {
	const op = "playback.metadata"
	if offset < -1 || offset > 1 {
		return TrackMetadata{}, errcode.New(errcode.InvalidArgument, op, "offset %d outside -1..1", offset)
	}
	ctx := c.ctx.Load()
	if ctx.Index < 0 {
		return TrackMetadata{}, errcode.New(errcode.Uninitialized, op, "no context")
	}
	index := ctx.Index
	if offset != 0 {
		var ok bool
		if index, ok = ctx.step(ctx.Index, offset); !ok {
			return TrackMetadata{}, errcode.New(errcode.InvalidArgument, op, "no track at offset %d", offset)
		}
	}

	info := ctx.Tracks[index]
	md := TrackMetadata{
		ContextTitle: ctx.Title,
		ContextURI:   ctx.URI,
		Title:        info.Title,
		URI:          info.URI,
		Artist:       info.Artist,
		ArtistURI:    info.ArtistURI,
		Album:        info.Album,
		AlbumURI:     info.AlbumURI,
		ImageURI:     info.ImageURI,
		DurationMs:   info.DurationMs,
		Index:        index,
	}
	if offset == 0 && c.cur != nil && c.cur.index == index {
		md.Bitrate = c.cur.file.Bitrate
	} else if f, ok := selectFile(info.Files, ctx.Bitrate, c.sess.Connectivity()); ok && info.Available {
		md.Bitrate = f.Bitrate
	}
	return md, nil
}

// MetadataValidRange returns the offsets Metadata currently accepts.
func (c *Controller) MetadataValidRange() (lo, hi int) {
	ctx := c.ctx.Load()
	if ctx.Index < 0 {
		return 0, 0
	}
	if _, ok := ctx.step(ctx.Index, -1); ok {
		lo = -1
	}
	if _, ok := ctx.step(ctx.Index, 1); ok {
		hi = 1
	}
	return lo, hi
}

// HandleCommand applies a remote control push from the access point.
func (c *Controller) HandleCommand(cmd protocol.ServerCommand) {
	var err error
	switch cmd.Command {
	case "play":
		err = c.Play()
	case "pause":
		err = c.Pause()
	case "stop":
		err = c.Stop()
	case "next":
		err = c.Next()
	case "prev":
		err = c.Prev()
	case "seek":
		err = c.Seek(cmd.PositionMs)
	case "volume":
		if cmd.Volume < 0 || cmd.Volume > audio.MaxVolume {
			err = fmt.Errorf("volume %d out of range", cmd.Volume)
			break
		}
		c.SetVolume(uint16(cmd.Volume))
	case "revoke":
		err = c.Pause()
		c.notify(NotifyLostPermission)
	default:
		c.log.Debug().Str("command", cmd.Command).Msg("ignoring unknown command")
	}
	if err != nil {
		c.log.Warn().Err(err).Str("command", cmd.Command).Msg("command failed")
	}
}

// Pump advances fetching and decoding and, in push mode, offers frames
// to the sink.
func (c *Controller) Pump() {
	if c.closed {
		return
	}
	if c.pre != nil {
		c.pumpPrefetch()
	}

	t := c.cur
	if t == nil {
		return
	}
	if !t.opened {
		if err := c.open(t); err != nil {
			c.trackFailed(errcode.CodeOf(err), "storage", err)
			return
		}
		if !t.opened {
			return
		}
	}

	t.fetch.pump(uint32(t.reader.pos))
	if err := t.fetch.err; err != nil {
		code := errcode.CodeOf(err)
		if code == errcode.Failed {
			code = errcode.PlaybackGeneral
		}
		c.trackFailed(code, "fetch", err)
		return
	}

	target := t.format.Frames(c.cfg.Buffer)
	added, err := t.fill(target, c.cfg.Lookahead, c.scratch)
	if err != nil {
		c.trackFailed(errcode.CorruptTrack, "corrupt", err)
		return
	}
	if added > 0 {
		c.bus.Publish(AudioDataReadyEvent{Frames: t.buffered(), Format: t.stream.Format()})
	}

	if !c.cfg.Pull {
		c.deliver(0)
	}
	c.checkFinished()
}

// OnAudioSinkPull offers up to maxFrames decoded frames to the sink and
// returns how many it consumed.
func (c *Controller) OnAudioSinkPull(maxFrames int) int {
	if maxFrames <= 0 || c.closed {
		return 0
	}
	n := c.deliver(maxFrames)
	c.checkFinished()
	return n
}

func (c *Controller) deliver(maxFrames int) int {
	t := c.cur
	if t == nil || t.stream == nil || c.ctx.Load().State != StatePlaying {
		return 0
	}
	format := t.stream.Format()
	frames := len(t.buf) / format.Channels
	if maxFrames > 0 && frames > maxFrames {
		frames = maxFrames
	}
	if frames == 0 {
		return 0
	}

	n := frames * format.Channels
	c.out = append(c.out[:0], t.buf[:n]...)
	audio.ScaleVolume(c.out, c.ctx.Load().Volume)
	consumed := c.cfg.Sink.Deliver(c.out, format)
	if consumed <= 0 {
		return 0
	}
	if consumed > frames {
		consumed = frames
	}

	t.buf = t.buf[consumed*format.Channels:]
	t.delivered += int64(consumed)
	c.position.Store(t.positionMs())
	metrics.PlaybackFramesDelivered.Add(float64(consumed))
	return consumed
}

func (c *Controller) checkFinished() {
	t := c.cur
	if t == nil || !t.finished() || c.ctx.Load().State != StatePlaying {
		return
	}
	c.log.Debug().Str("uri", t.info.URI).Msg("track delivered")
	c.notify(NotifyTrackDelivered)
	c.advance()
}
