// ABOUTME: In-memory bounded byte pipe implementing Conn
// ABOUTME: No goroutines; both ends are driven by the caller
package transport

import "sync"

type pipeBuffer struct {
	data   []byte
	closed bool
}

type pipeShared struct {
	mu       sync.Mutex
	capacity int
	bufs     [2]pipeBuffer // bufs[i] is read by end i
}

// PipeEnd is one side of a Pipe.
type PipeEnd struct {
	shared *pipeShared
	side   int
}

// NewPipe returns two connected ends. Each direction buffers at most
// capacity bytes; Send beyond that is partial or ErrWouldBlock.
func NewPipe(capacity int) (*PipeEnd, *PipeEnd) {
	if capacity <= 0 {
		capacity = 64 * 1024
	}
	s := &pipeShared{capacity: capacity}
	return &PipeEnd{shared: s, side: 0}, &PipeEnd{shared: s, side: 1}
}

func (p *PipeEnd) Send(b []byte) (int, error) {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()

	if p.shared.bufs[p.side].closed {
		return 0, ErrClosed
	}
	peer := &p.shared.bufs[1-p.side]
	if peer.closed {
		return 0, ErrClosed
	}
	free := p.shared.capacity - len(peer.data)
	if free <= 0 {
		return 0, ErrWouldBlock
	}
	n := len(b)
	if n > free {
		n = free
	}
	peer.data = append(peer.data, b[:n]...)
	return n, nil
}

func (p *PipeEnd) Recv(b []byte) (int, error) {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()

	own := &p.shared.bufs[p.side]
	if len(own.data) == 0 {
		if own.closed || p.shared.bufs[1-p.side].closed {
			return 0, ErrClosed
		}
		return 0, ErrWouldBlock
	}
	n := copy(b, own.data)
	own.data = own.data[n:]
	return n, nil
}

// Buffered returns the bytes waiting to be read by this end.
func (p *PipeEnd) Buffered() int {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()
	return len(p.shared.bufs[p.side].data)
}

func (p *PipeEnd) Close() error {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()
	p.shared.bufs[p.side].closed = true
	return nil
}
