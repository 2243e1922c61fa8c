// ABOUTME: Background prefetch of one track into the chunk cache
// ABOUTME: At most one prefetch runs; its outcome is published on the bus
package playback

import (
	"errors"
	"fmt"

	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/protocol"
	"github.com/Thalhammer/libspotify-embedded/pkg/session"
)

type prefetch struct {
	uri    string
	cancel session.CancelFunc
	file   protocol.AudioFile
	fetch  *fetcher
	opened bool
	done   bool
}

// Prefetch starts caching uri without touching playback. It fails with
// AlreadyPrefetching while an earlier prefetch is running. An unavailable
// target is reported later as PrefetchUnavailable, a failed download as
// PrefetchDownloadFailed, and success as a PrefetchDoneEvent.
func (c *Controller) Prefetch(uri string) error {
	const op = "playback.prefetch"
	if uri == "" {
		return errcode.New(errcode.InvalidArgument, op, "empty uri")
	}
	if c.pre != nil && !c.pre.done {
		return errcode.New(errcode.AlreadyPrefetching, op, "prefetch of %s still running", c.pre.uri)
	}
	c.dropPrefetch()

	p := &prefetch{uri: uri}
	cancel, err := c.sess.RequestMetadata(uri, func(md *protocol.ServerMetadata, err error) {
		if c.pre != p {
			return
		}
		p.cancel = nil
		c.onPrefetchMetadata(p, md, err)
	})
	if err != nil {
		return err
	}
	p.cancel = cancel
	c.pre = p
	c.log.Debug().Str("uri", uri).Msg("prefetch started")
	return nil
}

// StopPrefetching cancels a running prefetch and releases a finished one.
func (c *Controller) StopPrefetching() error {
	c.dropPrefetch()
	return nil
}

// Prefetching reports whether a prefetch is running.
func (c *Controller) Prefetching() bool {
	return c.pre != nil && !c.pre.done
}

func (c *Controller) dropPrefetch() {
	p := c.pre
	if p == nil {
		return
	}
	c.pre = nil
	if p.cancel != nil {
		p.cancel()
	}
	if p.fetch != nil {
		p.fetch.stop()
	}
	if p.opened {
		c.release(p.file.FileID)
	}
}

// failPrefetch reports the outcome of a prefetch that cannot finish.
func (c *Controller) failPrefetch(p *prefetch, code errcode.Code, err error) {
	c.dropPrefetch()
	c.publishError(code, "playback.prefetch", fmt.Errorf("%s: %w", p.uri, err))
}

func (c *Controller) onPrefetchMetadata(p *prefetch, md *protocol.ServerMetadata, err error) {
	if err != nil {
		c.failPrefetch(p, errcode.PrefetchUnavailable, err)
		return
	}

	var info protocol.TrackInfo
	found := false
	for _, t := range md.Tracks {
		if t.URI == p.uri {
			info, found = t, true
			break
		}
	}
	if !found && len(md.Tracks) > 0 {
		info, found = md.Tracks[0], true
	}
	if !found {
		c.failPrefetch(p, errcode.PrefetchUnavailable, errors.New("no tracks"))
		return
	}

	file, ok := selectFile(info.Files, c.ctx.Load().Bitrate, c.sess.Connectivity())
	if !info.Available || !ok {
		c.failPrefetch(p, errcode.PrefetchUnavailable, fmt.Errorf("track %s is unavailable", info.URI))
		return
	}
	p.file = file
	p.fetch = newFetcher(c.sess, c.cache, c.log, file.FileID, file.Size, c.cfg.FetchSize)
	c.pumpPrefetch()
}

func (c *Controller) pumpPrefetch() {
	p := c.pre
	if p == nil || p.done || p.fetch == nil {
		return
	}
	if !p.opened {
		err := c.cache.Allocate(p.file.FileID, p.file.Size)
		if errors.Is(err, errcode.ErrWouldBlock) {
			return
		}
		if err == nil {
			err = c.acquire(p.file.FileID)
		}
		if err != nil {
			c.failPrefetch(p, errcode.PrefetchDownloadFailed, err)
			return
		}
		p.opened = true
	}

	if !p.fetch.complete() {
		p.fetch.pump(0)
		if err := p.fetch.err; err != nil {
			c.failPrefetch(p, errcode.PrefetchDownloadFailed, err)
			return
		}
		if !p.fetch.complete() {
			return
		}
	}

	p.fetch.stop()
	p.done = true
	c.log.Info().Str("uri", p.uri).Str("file_id", p.file.FileID).Msg("prefetch complete")
	c.bus.Publish(PrefetchDoneEvent{URI: p.uri, FileID: p.file.FileID})
}
