// ABOUTME: Filesystem storage backend, one file per cache key
// ABOUTME: File names are the hex-encoded key so List can recover keys
package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
)

const fileSuffix = ".spc"

// FileStorage stores each object as a file in Dir.
type FileStorage struct {
	Dir string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewFileStorage creates dir if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &FileStorage{Dir: dir, files: make(map[string]*os.File)}, nil
}

func (s *FileStorage) path(key string) string {
	return filepath.Join(s.Dir, hex.EncodeToString([]byte(key))+fileSuffix)
}

// handle returns an open file for key, opening it if create allows.
func (s *FileStorage) handle(key string, create bool) (*os.File, error) {
	if f, ok := s.files[key]; ok {
		return f, nil
	}
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(s.path(key), flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, classify(err)
	}
	s.files[key] = f
	return f, nil
}

func (s *FileStorage) Alloc(key string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.handle(key, true)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		return classify(err)
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (s *FileStorage) WriteAt(key string, p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.handle(key, false)
	if err != nil {
		return 0, err
	}
	n, err := f.WriteAt(p, off)
	return n, classify(err)
}

func (s *FileStorage) ReadAt(key string, p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.handle(key, false)
	if err != nil {
		return 0, err
	}
	n, err := f.ReadAt(p, off)
	if err == io.EOF && n == len(p) {
		err = nil
	}
	return n, classify(err)
}

// Close syncs and closes the file handle.
func (s *FileStorage) Close(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[key]
	if !ok {
		return nil
	}
	delete(s.files, key)
	syncErr := f.Sync()
	if err := f.Close(); err != nil {
		return classify(err)
	}
	return classify(syncErr)
}

func (s *FileStorage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.files[key]; ok {
		f.Close()
		delete(s.files, key)
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return classify(err)
	}
	return nil
}

func (s *FileStorage) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache dir: %w", err)
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		raw, err := hex.DecodeString(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		keys = append(keys, string(raw))
	}
	return keys, nil
}

// classify maps retryable OS errors onto ErrBusy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EBUSY) {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}
