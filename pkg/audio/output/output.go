// ABOUTME: Sample ring shared between Deliver and the device reader
// ABOUTME: Underruns are filled with silence
package output

import (
	"encoding/binary"
	"sync"
)

// ring is a bounded FIFO of interleaved samples.
type ring struct {
	mu   sync.Mutex
	buf  []int16
	head int // next read
	size int
}

func newRing(samples int) *ring {
	return &ring{buf: make([]int16, samples)}
}

// Free returns the writable sample count.
func (r *ring) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) - r.size
}

// Len returns the buffered sample count.
func (r *ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Write appends as many samples as fit and returns the count.
func (r *ring) Write(p []int16) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(len(p), len(r.buf)-r.size)
	tail := (r.head + r.size) % len(r.buf)
	first := copy(r.buf[tail:], p[:n])
	copy(r.buf, p[first:n])
	r.size += n
	return n
}

// Read serves little-endian 16-bit bytes to the device. When the ring runs
// dry the rest of p is silence, so the device keeps its clock.
func (r *ring) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	samples := len(p) / 2
	i := 0
	for ; i < samples && r.size > 0; i++ {
		binary.LittleEndian.PutUint16(p[i*2:], uint16(r.buf[r.head]))
		r.head = (r.head + 1) % len(r.buf)
		r.size--
	}
	clear(p[i*2 : samples*2])
	return samples * 2, nil
}

// Reset drops everything buffered.
func (r *ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head, r.size = 0, 0
}
