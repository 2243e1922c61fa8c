// ABOUTME: Fetch planning: fills one cache entry through session fetches
// ABOUTME: One request in flight per entry; transient cache faults are retried on the next pump
package playback

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/Thalhammer/libspotify-embedded/pkg/cache"
	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/session"
)

// maxRouteRetries bounds refetches after connection-level request failures.
const maxRouteRetries = 3

type pendingWrite struct {
	off  uint32
	data []byte
}

// fetcher downloads the missing ranges of one file into the cache. It
// implements session.FetchSink for its own requests.
type fetcher struct {
	sess  Session
	cache *cache.Cache
	log   zerolog.Logger

	fileID string
	size   uint32
	limit  uint32

	cancel   session.CancelFunc
	inflight bool
	pending  []pendingWrite
	retries  int
	err      error
	stopped  bool
}

func newFetcher(sess Session, c *cache.Cache, log zerolog.Logger, fileID string, size, limit uint32) *fetcher {
	return &fetcher{
		sess:   sess,
		cache:  c,
		log:    log.With().Str("file_id", fileID).Logger(),
		fileID: fileID,
		size:   size,
		limit:  limit,
	}
}

func (f *fetcher) OnChunk(off uint32, data []byte) {
	if f.stopped || f.err != nil {
		return
	}
	if len(f.pending) > 0 {
		f.pending = append(f.pending, pendingWrite{off: off, data: append([]byte(nil), data...)})
		return
	}
	f.write(off, data)
}

func (f *fetcher) OnDone(err error) {
	if f.stopped {
		return
	}
	f.inflight = false
	f.cancel = nil
	if err == nil {
		f.retries = 0
		return
	}
	if errcode.CodeOf(err) == errcode.Failed && f.retries < maxRouteRetries {
		f.retries++
		f.log.Debug().Err(err).Int("retry", f.retries).Msg("fetch interrupted, will refetch")
		return
	}
	f.fail(err)
}

// write stores one chunk, parking it when the cache pushes back.
func (f *fetcher) write(off uint32, data []byte) {
	err := f.cache.Write(f.fileID, off, data)
	if errors.Is(err, errcode.ErrWouldBlock) {
		f.pending = append(f.pending, pendingWrite{off: off, data: append([]byte(nil), data...)})
		return
	}
	if err != nil {
		f.fail(err)
	}
}

func (f *fetcher) fail(err error) {
	if f.err != nil {
		return
	}
	f.err = err
	f.pending = nil
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.inflight = false
	f.log.Warn().Err(err).Msg("fetch failed")
}

// flush retries parked writes in arrival order.
func (f *fetcher) flush() {
	for len(f.pending) > 0 && f.err == nil {
		p := f.pending[0]
		err := f.cache.Write(f.fileID, p.off, p.data)
		if errors.Is(err, errcode.ErrWouldBlock) {
			return
		}
		if err != nil {
			f.fail(err)
			return
		}
		f.pending = f.pending[1:]
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
}

// pump flushes parked writes and requests the next missing range at or
// after from, wrapping to the start of the file.
func (f *fetcher) pump(from uint32) {
	if f.stopped || f.err != nil {
		return
	}
	f.flush()
	if f.inflight || len(f.pending) > 0 || f.err != nil {
		return
	}
	if from > f.size {
		from = f.size
	}
	gaps := f.cache.Missing(f.fileID, from, f.size-from)
	if len(gaps) == 0 && from > 0 {
		gaps = f.cache.Missing(f.fileID, 0, from)
	}
	if len(gaps) == 0 {
		return
	}

	next := gaps[0]
	if next.Length > f.limit {
		next.Length = f.limit
	}
	cancel, err := f.sess.Fetch(f.fileID, next.Offset, next.Length, f)
	if err != nil {
		if errcode.CodeOf(err) == errcode.Uninitialized {
			return
		}
		f.fail(err)
		return
	}
	f.cancel = cancel
	f.inflight = true
	f.log.Debug().Uint32("offset", next.Offset).Uint32("length", next.Length).Msg("fetch requested")
}

// complete reports whether the whole file is cached.
func (f *fetcher) complete() bool {
	return f.cache.IsComplete(f.fileID)
}

// stop abandons the fetch; late responses are dropped.
func (f *fetcher) stop() {
	if f.stopped {
		return
	}
	f.stopped = true
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.inflight = false
	f.pending = nil
}
