// ABOUTME: Fixed cache file header and availability bitmap
// ABOUTME: Little-endian header at offset 0, bitmap at 0x70, data after it
package cache

import (
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// ChunkSize is the availability granularity.
	ChunkSize = 4116

	// HeaderSize is the fixed header length; the bitmap starts here.
	HeaderSize = 0x70

	headerMagic  = 1
	headerLayout = 60
	keyBlobSize  = 36
	padSize      = 52
	padByte      = 0xCC
)

var (
	ErrBadHeader   = errors.New("cache: invalid header")
	ErrKeyMismatch = errors.New("cache: header belongs to another key")
)

// Header is the decoded fixed header of a cache file.
type Header struct {
	DataSize  uint32
	ChunkSize uint32
	KeyBlob   [keyBlobSize]byte
}

// NewHeader builds the header for key with the given data size.
func NewHeader(key string, size uint32) Header {
	h := Header{DataSize: size, ChunkSize: ChunkSize}
	sum := sha1.Sum([]byte(key))
	copy(h.KeyBlob[:], sum[:])
	return h
}

// Marshal encodes the header into HeaderSize bytes.
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0x00:], headerMagic)
	binary.LittleEndian.PutUint32(b[0x04:], h.DataSize)
	binary.LittleEndian.PutUint32(b[0x08:], h.ChunkSize)
	binary.LittleEndian.PutUint32(b[0x0c:], headerLayout)
	// 0x10 and 0x14 stay zero
	copy(b[0x18:0x18+keyBlobSize], h.KeyBlob[:])
	for i := 0x18 + keyBlobSize; i < 0x18+keyBlobSize+padSize; i++ {
		b[i] = padByte
	}
	return b
}

// ParseHeader decodes and validates a header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrBadHeader, len(b))
	}
	if binary.LittleEndian.Uint32(b[0x00:]) != headerMagic {
		return Header{}, fmt.Errorf("%w: bad magic", ErrBadHeader)
	}
	if binary.LittleEndian.Uint32(b[0x0c:]) != headerLayout {
		return Header{}, fmt.Errorf("%w: unknown layout", ErrBadHeader)
	}
	h := Header{
		DataSize:  binary.LittleEndian.Uint32(b[0x04:]),
		ChunkSize: binary.LittleEndian.Uint32(b[0x08:]),
	}
	if h.DataSize == 0 || h.ChunkSize == 0 {
		return Header{}, fmt.Errorf("%w: zero size", ErrBadHeader)
	}
	copy(h.KeyBlob[:], b[0x18:0x18+keyBlobSize])
	return h, nil
}

// Matches reports whether the header was written for key.
func (h Header) Matches(key string) bool {
	return h.KeyBlob == NewHeader(key, 0).KeyBlob
}

// ChunkCount returns ceil(size / chunkSize).
func ChunkCount(size, chunkSize uint32) int {
	return int((uint64(size) + uint64(chunkSize) - 1) / uint64(chunkSize))
}

// BitmapLen returns the persisted bitmap length in bytes.
func BitmapLen(size, chunkSize uint32) int {
	return (ChunkCount(size, chunkSize) + 7) / 8
}

// FileSize returns the total storage footprint of an entry.
func FileSize(size uint32) int64 {
	return int64(HeaderSize) + int64(BitmapLen(size, ChunkSize)) + int64(size)
}

// Bitmap is a little-endian bit vector: chunk i lives in byte i/8 at bit i%8.
type Bitmap []byte

// NewBitmap allocates a bitmap for n chunks.
func NewBitmap(n int) Bitmap {
	return make(Bitmap, (n+7)/8)
}

func (b Bitmap) Has(i int) bool {
	return b[i/8]&(1<<(uint(i)%8)) != 0
}

func (b Bitmap) Set(i int) {
	b[i/8] |= 1 << (uint(i) % 8)
}

// Count returns the number of set bits among the first n.
func (b Bitmap) Count(n int) int {
	c := 0
	for i := 0; i < n; i++ {
		if b.Has(i) {
			c++
		}
	}
	return c
}

// span is a half-open byte interval within one chunk.
type span struct {
	lo, hi uint32
}

// coverage tracks written intervals of chunks that are not yet complete.
type coverage map[int][]span

// add records [lo,hi) within chunk idx and reports whether the chunk now
// covers [0,length).
func (c coverage) add(idx int, lo, hi, length uint32) bool {
	spans := append(c[idx], span{lo, hi})

	// insertion sort; lists stay tiny
	for i := len(spans) - 1; i > 0 && spans[i].lo < spans[i-1].lo; i-- {
		spans[i], spans[i-1] = spans[i-1], spans[i]
	}

	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.lo <= last.hi {
			if s.hi > last.hi {
				last.hi = s.hi
			}
			continue
		}
		merged = append(merged, s)
	}

	if len(merged) == 1 && merged[0].lo == 0 && merged[0].hi >= length {
		delete(c, idx)
		return true
	}
	c[idx] = merged
	return false
}
