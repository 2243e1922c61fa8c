// ABOUTME: Badger-backed storage that keeps cache objects as fixed-size blocks
// ABOUTME: Unwritten blocks read back as zeros, so Alloc only records the size
package cache

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const (
	badgerBlockSize = 64 * 1024
	badgerObjPrefix = "obj\x00"
	badgerBlkPrefix = "blk\x00"
)

// BadgerStorage stores objects in a badger database.
type BadgerStorage struct {
	db *badger.DB
}

// NewBadgerStorage wraps an open database. The caller owns db.
func NewBadgerStorage(db *badger.DB) *BadgerStorage {
	return &BadgerStorage{db: db}
}

// OpenBadgerStorage opens (or creates) a database at dir.
func OpenBadgerStorage(dir string) (*BadgerStorage, *badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	return NewBadgerStorage(db), db, nil
}

func objKey(key string) []byte {
	return []byte(badgerObjPrefix + key)
}

func blkPrefix(key string) []byte {
	return []byte(badgerBlkPrefix + key + "\x00")
}

func blkKey(key string, idx uint32) []byte {
	k := blkPrefix(key)
	return binary.BigEndian.AppendUint32(k, idx)
}

func (s *BadgerStorage) size(txn *badger.Txn, key string) (int64, error) {
	item, err := txn.Get(objKey(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, ErrNotExist
		}
		return 0, err
	}
	var size int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt size record for %q", key)
		}
		size = int64(binary.LittleEndian.Uint64(val))
		return nil
	})
	return size, err
}

func (s *BadgerStorage) Alloc(key string, size int64) error {
	return classifyBadger(s.db.Update(func(txn *badger.Txn) error {
		cur, err := s.size(txn, key)
		if err != nil && !errors.Is(err, ErrNotExist) {
			return err
		}
		if cur >= size {
			return nil
		}
		return txn.Set(objKey(key), binary.LittleEndian.AppendUint64(nil, uint64(size)))
	}))
}

func (s *BadgerStorage) WriteAt(key string, p []byte, off int64) (int, error) {
	err := s.db.Update(func(txn *badger.Txn) error {
		size, err := s.size(txn, key)
		if err != nil {
			return err
		}
		if off < 0 || off+int64(len(p)) > size {
			return fmt.Errorf("write [%d,%d) outside object of %d bytes", off, off+int64(len(p)), size)
		}

		for done := 0; done < len(p); {
			pos := off + int64(done)
			idx := uint32(pos / badgerBlockSize)
			within := int(pos % badgerBlockSize)

			block, err := s.block(txn, key, idx)
			if err != nil {
				return err
			}
			n := copy(block[within:], p[done:])
			if err := txn.Set(blkKey(key, idx), block); err != nil {
				return err
			}
			done += n
		}
		return nil
	})
	if err != nil {
		return 0, classifyBadger(err)
	}
	return len(p), nil
}

// block returns a writable copy of block idx, zero-filled when absent.
func (s *BadgerStorage) block(txn *badger.Txn, key string, idx uint32) ([]byte, error) {
	block := make([]byte, badgerBlockSize)
	item, err := txn.Get(blkKey(key, idx))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return block, nil
	}
	if err != nil {
		return nil, err
	}
	err = item.Value(func(val []byte) error {
		copy(block, val)
		return nil
	})
	return block, err
}

func (s *BadgerStorage) ReadAt(key string, p []byte, off int64) (int, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		size, err := s.size(txn, key)
		if err != nil {
			return err
		}
		if off < 0 || off+int64(len(p)) > size {
			return fmt.Errorf("read [%d,%d) outside object of %d bytes", off, off+int64(len(p)), size)
		}

		for done := 0; done < len(p); {
			pos := off + int64(done)
			idx := uint32(pos / badgerBlockSize)
			within := int(pos % badgerBlockSize)
			want := badgerBlockSize - within
			if want > len(p)-done {
				want = len(p) - done
			}

			item, err := txn.Get(blkKey(key, idx))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				clear(p[done : done+want])
			case err != nil:
				return err
			default:
				err = item.Value(func(val []byte) error {
					copy(p[done:done+want], val[within:])
					return nil
				})
				if err != nil {
					return err
				}
			}
			done += want
		}
		return nil
	})
	if err != nil {
		return 0, classifyBadger(err)
	}
	return len(p), nil
}

// Close is a no-op; every write is committed in its own transaction.
func (s *BadgerStorage) Close(key string) error {
	return nil
}

func (s *BadgerStorage) Remove(key string) error {
	if err := s.db.DropPrefix(blkPrefix(key)); err != nil {
		return classifyBadger(err)
	}
	return classifyBadger(s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(objKey(key))
	}))
}

func (s *BadgerStorage) List() ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(badgerObjPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return keys, nil
}

func classifyBadger(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrConflict) || errors.Is(err, badger.ErrBlockedWrites) {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}
