// ABOUTME: Chunk cache with availability tracking, pinning and budget eviction
// ABOUTME: Storage faults are classified transient (would block) or permanent (abort)
package cache

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/Thalhammer/libspotify-embedded/internal/metrics"
	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/notify"
)

// DefaultMaxTransientFailures is how many consecutive busy results an entry
// tolerates before the failure is treated as permanent.
const DefaultMaxTransientFailures = 5

// Config configures a Cache.
type Config struct {
	Storage Storage

	// Budget caps the total storage footprint in bytes. Zero disables eviction.
	Budget int64

	MaxTransientFailures uint32

	Bus    *notify.Bus
	Clock  clock.Clock
	Logger zerolog.Logger
}

// Range is a byte range within an entry's data.
type Range struct {
	Offset uint32
	Length uint32
}

// EntryInfo is a snapshot of one entry.
type EntryInfo struct {
	Key         string
	Size        uint32
	Chunks      int
	Available   int
	Complete    bool
	Open        bool
	Pinned      bool
	CompletedAt time.Time
}

type entry struct {
	key       string
	size      uint32
	chunks    int
	bitmap    Bitmap
	partial   coverage
	available int
	open      bool
	failed    error
	pins      int
	dirty     bool

	completedSeq uint64
	completedAt  time.Time
	usedSeq      uint64

	breaker *gobreaker.CircuitBreaker[int]
}

func (e *entry) dataOffset() int64 {
	return HeaderSize + int64(len(e.bitmap))
}

func (e *entry) complete() bool {
	return e.available == e.chunks
}

// writing reports an open entry that still expects data.
func (e *entry) writing() bool {
	return e.open && !e.complete()
}

func (e *entry) chunkLen(i int) uint32 {
	if i == e.chunks-1 {
		return e.size - uint32(i)*ChunkSize
	}
	return ChunkSize
}

// Cache maps content keys to chunked storage objects.
type Cache struct {
	mu       sync.Mutex
	storage  Storage
	budget   int64
	maxFails uint32
	entries  map[string]*entry
	usage    int64
	seq      uint64

	bus   *notify.Bus
	clock clock.Clock
	log   zerolog.Logger
}

// New creates a cache over cfg.Storage.
func New(cfg Config) (*Cache, error) {
	if cfg.Storage == nil {
		return nil, errcode.New(errcode.NullArgument, "cache.New", "storage is required")
	}
	if cfg.Budget < 0 {
		return nil, errcode.New(errcode.InvalidArgument, "cache.New", "negative budget")
	}
	if cfg.MaxTransientFailures == 0 {
		cfg.MaxTransientFailures = DefaultMaxTransientFailures
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Cache{
		storage:  cfg.Storage,
		budget:   cfg.Budget,
		maxFails: cfg.MaxTransientFailures,
		entries:  make(map[string]*entry),
		bus:      cfg.Bus,
		clock:    cfg.Clock,
		log:      cfg.Logger,
	}, nil
}

func (c *Cache) publish(ev StorageEvent) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}

func (c *Cache) touch(e *entry) {
	c.seq++
	e.usedSeq = c.seq
}

func (c *Cache) newBreaker(key string) *gobreaker.CircuitBreaker[int] {
	limit := c.maxFails
	return gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= limit
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrBusy)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("key", name).Stringer("from", from).Stringer("to", to).Msg("storage breaker state changed")
		},
	})
}

// Allocate creates the entry for key and pre-sizes its storage. Calling it
// again with the same size is a no-op for an open entry and reopens a
// closed one; a different size fails with InvalidArgument.
func (c *Cache) Allocate(key string, size uint32) error {
	const op = "cache.Allocate"

	if key == "" {
		return errcode.New(errcode.InvalidArgument, op, "empty key")
	}
	if size == 0 {
		return errcode.New(errcode.InvalidArgument, op, "zero size for %q", key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if e.size != size {
			return errcode.New(errcode.InvalidArgument, op, "%q already allocated with %d bytes", key, e.size)
		}
		if e.failed == nil && e.open {
			return nil
		}
		if e.failed != nil {
			c.drop(e, false)
		}
	}

	if err := c.storage.Alloc(key, FileSize(size)); err != nil {
		if errors.Is(err, ErrBusy) {
			metrics.CacheStorageErrors.WithLabelValues("alloc", "transient").Inc()
			return fmt.Errorf("%s: %w: %v", op, errcode.ErrWouldBlock, err)
		}
		metrics.CacheStorageErrors.WithLabelValues("alloc", "permanent").Inc()
		tagged := errcode.Wrap(errcode.StorageWriteError, op, err)
		c.publish(StorageEvent{Op: OpAlloc, Key: key, Err: tagged})
		return tagged
	}

	e, known := c.entries[key]
	if !known {
		e = &entry{key: key, size: size, chunks: ChunkCount(size, ChunkSize)}
		if err := c.loadOrInit(e); err != nil {
			c.storage.Remove(key)
			tagged := errcode.Wrap(errcode.StorageWriteError, op, err)
			c.publish(StorageEvent{Op: OpAlloc, Key: key, Err: tagged})
			return tagged
		}
		c.entries[key] = e
		c.usage += FileSize(size)
		metrics.CacheBytesInUse.Set(float64(c.usage))
	}

	e.open = true
	e.breaker = c.newBreaker(key)
	c.touch(e)

	c.log.Debug().Str("key", key).Uint32("size", size).Int("available", e.available).Int("chunks", e.chunks).Msg("entry allocated")
	c.publish(StorageEvent{Op: OpAlloc, Key: key, Length: int64(size), Complete: e.complete()})

	c.evict(key)
	return nil
}

// loadOrInit adopts a matching persisted header and bitmap, or writes a
// fresh header with an empty bitmap.
func (c *Cache) loadOrInit(e *entry) error {
	bitmapLen := BitmapLen(e.size, ChunkSize)
	buf := make([]byte, HeaderSize+bitmapLen)

	if _, err := c.storage.ReadAt(e.key, buf, 0); err == nil {
		h, err := ParseHeader(buf)
		if err == nil && h.Matches(e.key) && h.DataSize == e.size && h.ChunkSize == ChunkSize {
			c.adopt(e, Bitmap(buf[HeaderSize:]))
			return nil
		}
	}

	e.bitmap = NewBitmap(e.chunks)
	e.partial = coverage{}
	fresh := append(NewHeader(e.key, e.size).Marshal(), e.bitmap...)
	n, err := c.storage.WriteAt(e.key, fresh, 0)
	if err == nil && n < len(fresh) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

func (c *Cache) adopt(e *entry, bits Bitmap) {
	e.bitmap = append(Bitmap(nil), bits...)
	e.partial = coverage{}
	e.available = e.bitmap.Count(e.chunks)
	if e.complete() {
		c.seq++
		e.completedSeq = c.seq
		e.completedAt = c.clock.Now()
	}
}

// Load registers every entry already present in storage as closed, so
// eviction accounts for them and Allocate can reopen them.
func (c *Cache) Load() error {
	keys, err := c.storage.List()
	if err != nil {
		return errcode.Wrap(errcode.StorageReadError, "cache.Load", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if _, ok := c.entries[key]; ok {
			continue
		}

		hdr := make([]byte, HeaderSize)
		if _, err := c.storage.ReadAt(key, hdr, 0); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("unreadable cache object, removing")
			c.storage.Remove(key)
			continue
		}
		h, err := ParseHeader(hdr)
		if err != nil || !h.Matches(key) || h.ChunkSize != ChunkSize {
			c.log.Warn().Err(err).Str("key", key).Msg("stale cache object, removing")
			c.storage.Remove(key)
			continue
		}

		e := &entry{key: key, size: h.DataSize, chunks: ChunkCount(h.DataSize, ChunkSize)}
		bits := make([]byte, BitmapLen(h.DataSize, ChunkSize))
		if _, err := c.storage.ReadAt(key, bits, HeaderSize); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("unreadable bitmap, removing")
			c.storage.Remove(key)
			continue
		}
		c.adopt(e, bits)
		c.touch(e)
		c.storage.Close(key)

		c.entries[key] = e
		c.usage += FileSize(e.size)
	}
	metrics.CacheBytesInUse.Set(float64(c.usage))

	c.log.Info().Int("entries", len(c.entries)).Int64("bytes", c.usage).Msg("cache loaded")
	c.evict("")
	return nil
}

// lookup returns an open, healthy entry for op.
func (c *Cache) lookup(op, key string, failCode errcode.Code) (*entry, error) {
	e, ok := c.entries[key]
	if !ok {
		return nil, errcode.New(errcode.InvalidArgument, op, "unknown key %q", key)
	}
	if e.failed != nil {
		return nil, errcode.Wrap(failCode, op, e.failed)
	}
	if !e.open {
		return nil, errcode.New(errcode.Uninitialized, op, "%q is closed", key)
	}
	return e, nil
}

// Write stores p at offset off of key's data. Offsets need not be chunk
// aligned; a chunk becomes available once every byte of it was written.
// A transient storage fault returns ErrWouldBlock and may be retried.
func (c *Cache) Write(key string, off uint32, p []byte) error {
	const op = "cache.Write"

	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookup(op, key, errcode.StorageWriteError)
	if err != nil {
		return err
	}
	end := uint64(off) + uint64(len(p))
	if end > uint64(e.size) {
		return errcode.New(errcode.InvalidArgument, op, "write [%d,%d) past %d bytes of %q", off, end, e.size, key)
	}
	if len(p) == 0 {
		return nil
	}

	_, err = e.breaker.Execute(func() (int, error) {
		n, err := c.storage.WriteAt(key, p, e.dataOffset()+int64(off))
		if err == nil && n < len(p) {
			err = io.ErrShortWrite
		}
		return n, err
	})
	if err != nil {
		return c.storageFailure(op, e, OpWrite, err)
	}
	metrics.CacheBytesWritten.Add(float64(len(p)))

	first := int(off / ChunkSize)
	last := int((end - 1) / ChunkSize)
	completed := 0
	for i := first; i <= last; i++ {
		if e.bitmap.Has(i) {
			continue
		}
		start := uint64(i) * ChunkSize
		lo := max(uint64(off), start) - start
		hi := min(end, start+uint64(e.chunkLen(i))) - start
		if e.partial.add(i, uint32(lo), uint32(hi), e.chunkLen(i)) {
			e.bitmap.Set(i)
			e.available++
			completed++
		}
	}

	if completed > 0 {
		e.dirty = true
		metrics.CacheChunksCompleted.Add(float64(completed))
	}
	if e.dirty {
		if err := c.flushBitmap(op, e); err != nil {
			return err
		}
	}

	complete := e.complete()
	if complete && e.completedSeq == 0 {
		c.seq++
		e.completedSeq = c.seq
		e.completedAt = c.clock.Now()
		c.log.Debug().Str("key", key).Msg("entry complete")
	}
	c.touch(e)
	c.publish(StorageEvent{Op: OpWrite, Key: key, Offset: int64(off), Length: int64(len(p)), Complete: complete})
	return nil
}

func (c *Cache) flushBitmap(op string, e *entry) error {
	_, err := e.breaker.Execute(func() (int, error) {
		n, err := c.storage.WriteAt(e.key, e.bitmap, HeaderSize)
		if err == nil && n < len(e.bitmap) {
			err = io.ErrShortWrite
		}
		return n, err
	})
	if err != nil {
		return c.storageFailure(op, e, OpWrite, err)
	}
	e.dirty = false
	return nil
}

// storageFailure classifies a storage error. Transient faults surface as
// ErrWouldBlock; anything else aborts the entry.
func (c *Cache) storageFailure(op string, e *entry, sop StorageOp, err error) error {
	label := "write"
	code := errcode.StorageWriteError
	if sop == OpRead {
		label = "read"
		code = errcode.StorageReadError
	}

	if errors.Is(err, ErrBusy) {
		metrics.CacheStorageErrors.WithLabelValues(label, "transient").Inc()
		c.log.Debug().Err(err).Str("key", e.key).Msg("storage busy")
		return fmt.Errorf("%s: %w: %v", op, errcode.ErrWouldBlock, err)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("storage kept failing transiently: %w", err)
	}

	tagged := errcode.Wrap(code, op, err)
	e.failed = tagged
	e.open = false
	c.storage.Close(e.key)

	metrics.CacheStorageErrors.WithLabelValues(label, "permanent").Inc()
	c.log.Error().Err(err).Str("key", e.key).Msg("storage failed, entry aborted")
	c.publish(StorageEvent{Op: sop, Key: e.key, Err: tagged})
	return tagged
}

// Read returns n bytes at offset off. It fails with InvalidArgument if any
// chunk overlapping the range is not available.
func (c *Cache) Read(key string, off, n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := c.ReadAt(key, buf, int64(off)); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadAt fills p from offset off with the same availability rule as Read.
func (c *Cache) ReadAt(key string, p []byte, off int64) (int, error) {
	const op = "cache.Read"

	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookup(op, key, errcode.StorageReadError)
	if err != nil {
		return 0, err
	}
	if off < 0 || off+int64(len(p)) > int64(e.size) {
		return 0, errcode.New(errcode.InvalidArgument, op, "read [%d,%d) outside %d bytes of %q", off, off+int64(len(p)), e.size, key)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if !e.rangeAvailable(off, int64(len(p))) {
		return 0, errcode.New(errcode.InvalidArgument, op, "range [%d,%d) of %q not available", off, off+int64(len(p)), key)
	}

	n, err := e.breaker.Execute(func() (int, error) {
		n, err := c.storage.ReadAt(key, p, e.dataOffset()+off)
		if err == nil && n < len(p) {
			err = io.ErrUnexpectedEOF
		}
		return n, err
	})
	if err != nil {
		return 0, c.storageFailure(op, e, OpRead, err)
	}

	metrics.CacheBytesRead.Add(float64(n))
	c.touch(e)
	c.publish(StorageEvent{Op: OpRead, Key: key, Offset: off, Length: int64(n)})
	return n, nil
}

func (e *entry) rangeAvailable(off, n int64) bool {
	if n <= 0 {
		return true
	}
	first := int(off / ChunkSize)
	last := int((off + n - 1) / ChunkSize)
	if last >= e.chunks {
		return false
	}
	for i := first; i <= last; i++ {
		if !e.bitmap.Has(i) {
			return false
		}
	}
	return true
}

// IsRangeAvailable reports whether Read of the range would succeed.
func (c *Cache) IsRangeAvailable(key string, off, n int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.failed != nil || off < 0 || off+n > int64(e.size) {
		return false
	}
	return e.rangeAvailable(off, n)
}

// IsComplete reports whether every chunk of key is available.
func (c *Cache) IsComplete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return ok && e.failed == nil && e.complete()
}

// Missing returns the chunk-aligned ranges within [off, off+n) that are not
// yet available, clipped to the entry size. Unknown keys yield nil.
func (c *Cache) Missing(key string, off, n uint32) []Range {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || n == 0 || off >= e.size {
		return nil
	}
	end := uint64(off) + uint64(n)
	if end > uint64(e.size) {
		end = uint64(e.size)
	}

	var out []Range
	for i := int(off / ChunkSize); i <= int((end-1)/ChunkSize); i++ {
		if e.bitmap.Has(i) {
			continue
		}
		start := uint32(i) * ChunkSize
		length := e.chunkLen(i)
		if k := len(out); k > 0 && out[k-1].Offset+out[k-1].Length == start {
			out[k-1].Length += length
			continue
		}
		out = append(out, Range{Offset: start, Length: length})
	}
	return out
}

// Stat returns a snapshot of key.
func (c *Cache) Stat(key string) (EntryInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return EntryInfo{}, false
	}
	return EntryInfo{
		Key:         key,
		Size:        e.size,
		Chunks:      e.chunks,
		Available:   e.available,
		Complete:    e.complete(),
		Open:        e.open,
		Pinned:      e.pins > 0,
		CompletedAt: e.completedAt,
	}, true
}

// Pin protects key from eviction while a fetch or playback uses it.
func (c *Cache) Pin(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return errcode.New(errcode.InvalidArgument, "cache.Pin", "unknown key %q", key)
	}
	e.pins++
	return nil
}

// Unpin releases one Pin and re-checks the budget.
func (c *Cache) Unpin(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.pins == 0 {
		return
	}
	e.pins--
	if e.pins == 0 {
		c.evict("")
	}
}

// Close finalizes key. Later reads and writes fail with Uninitialized until
// the entry is allocated again.
func (c *Cache) Close(key string) error {
	const op = "cache.Close"

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return errcode.New(errcode.InvalidArgument, op, "unknown key %q", key)
	}
	if !e.open {
		return nil
	}
	if e.dirty {
		if err := c.flushBitmap(op, e); err != nil {
			return err
		}
	}
	if err := c.storage.Close(key); err != nil {
		return c.storageFailure(op, e, OpWrite, err)
	}
	e.open = false

	c.log.Debug().Str("key", key).Bool("complete", e.complete()).Msg("entry closed")
	c.publish(StorageEvent{Op: OpClose, Key: key, Complete: e.complete()})
	return nil
}

// Remove deletes key from the cache and its storage.
func (c *Cache) Remove(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if e.pins > 0 {
		return errcode.New(errcode.InvalidArgument, "cache.Remove", "%q is in use", key)
	}
	c.drop(e, false)
	return nil
}

// SetBudget changes the storage budget and evicts down to it.
func (c *Cache) SetBudget(budget int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.budget = budget
	c.evict("")
}

// Usage returns the storage footprint of all entries.
func (c *Cache) Usage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

func (c *Cache) drop(e *entry, evicted bool) {
	if err := c.storage.Close(e.key); err != nil {
		c.log.Debug().Err(err).Str("key", e.key).Msg("close before remove failed")
	}
	if err := c.storage.Remove(e.key); err != nil {
		c.log.Warn().Err(err).Str("key", e.key).Msg("failed to remove cache object")
	}
	delete(c.entries, e.key)
	c.usage -= FileSize(e.size)
	metrics.CacheBytesInUse.Set(float64(c.usage))

	if evicted {
		metrics.CacheEvictions.Inc()
		c.log.Debug().Str("key", e.key).Msg("entry evicted")
	}
	c.publish(StorageEvent{Op: OpClose, Key: e.key, Evicted: evicted})
}

// evict removes unpinned entries until usage fits the budget. Entries still
// being written are never candidates. Complete entries go first, least
// recently completed first; closed incomplete entries follow in least
// recently used order.
func (c *Cache) evict(keep string) {
	if c.budget <= 0 || c.usage <= c.budget {
		return
	}

	var candidates []*entry
	for _, e := range c.entries {
		if e.pins == 0 && e.key != keep && !e.writing() {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if (a.completedSeq != 0) != (b.completedSeq != 0) {
			return a.completedSeq != 0
		}
		if a.completedSeq != 0 {
			return a.completedSeq < b.completedSeq
		}
		return a.usedSeq < b.usedSeq
	})

	for _, e := range candidates {
		if c.usage <= c.budget {
			break
		}
		c.drop(e, true)
	}
	if c.usage > c.budget {
		c.log.Warn().Int64("usage", c.usage).Int64("budget", c.budget).Msg("cache over budget, remaining entries in use")
	}
}
