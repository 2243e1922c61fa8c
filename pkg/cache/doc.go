// ABOUTME: Chunked cache package with per-entry availability bitmaps
// ABOUTME: Backed by a pluggable Storage (files, memory or badger)
// Package cache stores partially downloaded media in fixed-size chunks.
//
// Each entry is persisted as a single storage object:
//
//	header (0x70 bytes) | bitmap | data
//
// A chunk's bit is set only after its full extent has been written, and
// reads touching any chunk without its bit fail with InvalidArgument, so
// readers never observe bytes that were not delivered.
//
// Example:
//
//	c, err := cache.New(cache.Config{Storage: cache.NewMemoryStorage()})
//	err = c.Allocate("trk1", 8232)
//	err = c.Write("trk1", 0, data)
//	if c.IsComplete("trk1") { ... }
package cache
