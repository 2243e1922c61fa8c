// ABOUTME: Conformance tests shared by every Storage backend
// ABOUTME: Also checks that persisted entries survive a cache restart
package cache

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

func backends(t *testing.T) map[string]func() Storage {
	t.Helper()
	dir := t.TempDir()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("badger open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return map[string]func() Storage{
		"memory": func() Storage { return NewMemoryStorage() },
		"file": func() Storage {
			s, err := NewFileStorage(dir)
			if err != nil {
				t.Fatalf("NewFileStorage: %v", err)
			}
			return s
		},
		"badger": func() Storage { return NewBadgerStorage(db) },
	}
}

func TestStorageConformance(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			key := "spotify:file:" + name

			if err := s.Alloc(key, 200000); err != nil {
				t.Fatalf("Alloc: %v", err)
			}

			data := pattern(100000, 7)
			if n, err := s.WriteAt(key, data, 70000); err != nil || n != len(data) {
				t.Fatalf("WriteAt = %d, %v", n, err)
			}

			got := make([]byte, len(data))
			if _, err := s.ReadAt(key, got, 70000); err != nil {
				t.Fatalf("ReadAt: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Error("read back mismatch")
			}

			zeros := make([]byte, 100)
			if _, err := s.ReadAt(key, zeros, 0); err != nil {
				t.Fatalf("ReadAt unwritten: %v", err)
			}
			if !bytes.Equal(zeros, make([]byte, 100)) {
				t.Error("unwritten region should read as zeros")
			}

			// Alloc again must not discard content
			if err := s.Alloc(key, 200000); err != nil {
				t.Fatalf("re-Alloc: %v", err)
			}
			s.ReadAt(key, got, 70000)
			if !bytes.Equal(got, data) {
				t.Error("re-Alloc discarded content")
			}

			keys, err := s.List()
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			found := false
			for _, k := range keys {
				found = found || k == key
			}
			if !found {
				t.Errorf("List = %v, missing %q", keys, key)
			}

			if err := s.Close(key); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if err := s.Remove(key); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if _, err := s.ReadAt(key, got[:1], 0); !errors.Is(err, ErrNotExist) {
				t.Errorf("read after remove err = %v, want ErrNotExist", err)
			}
		})
	}
}

func TestCacheSurvivesRestart(t *testing.T) {
	for name, open := range backends(t) {
		if name == "memory" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			s := open()
			data := pattern(3*ChunkSize, 3)

			c1 := newTestCache(t, s)
			c1.Allocate("persist", 3*ChunkSize)
			c1.Write("persist", 0, data[:ChunkSize])
			c1.Write("persist", 2*ChunkSize, data[2*ChunkSize:])
			c1.Write("persist", ChunkSize, data[ChunkSize:ChunkSize+100]) // partial, not persisted as available
			if err := c1.Close("persist"); err != nil {
				t.Fatalf("Close: %v", err)
			}

			c2, _ := New(Config{Storage: s, Logger: zerolog.Nop()})
			if err := c2.Load(); err != nil {
				t.Fatalf("Load: %v", err)
			}
			info, ok := c2.Stat("persist")
			if !ok {
				t.Fatal("entry not reloaded")
			}
			if info.Available != 2 || info.Open {
				t.Errorf("reloaded info = %+v", info)
			}

			if err := c2.Allocate("persist", 3*ChunkSize); err != nil {
				t.Fatalf("reopen: %v", err)
			}
			got, err := c2.Read("persist", 2*ChunkSize, ChunkSize)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if !bytes.Equal(got, data[2*ChunkSize:]) {
				t.Error("reloaded chunk mismatch")
			}
			if c2.IsRangeAvailable("persist", ChunkSize, 1) {
				t.Error("partially written chunk must not be available after restart")
			}
			c2.Remove("persist")
		})
	}
}

func TestLoadRemovesStaleObjects(t *testing.T) {
	s := NewMemoryStorage()
	s.Alloc("junk", 500)
	s.WriteAt("junk", []byte("not a header"), 0)

	c := newTestCache(t, s)
	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if keys, _ := s.List(); len(keys) != 0 {
		t.Errorf("stale object kept: %v", keys)
	}
}
