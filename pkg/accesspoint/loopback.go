// ABOUTME: In-process transport.Dialer connected directly to a Service
// ABOUTME: Synchronous and goroutine-free; tests can stall, drop or refuse connections
package accesspoint

import (
	"errors"
	"sync"

	"github.com/Thalhammer/libspotify-embedded/pkg/transport"
)

// ErrRefused is returned by Dial while refusals are pending.
var ErrRefused = errors.New("accesspoint: connection refused")

// Loopback dials peers of a Service without any network.
type Loopback struct {
	svc *Service

	mu        sync.Mutex
	failDials int
	conns     []*LoopbackConn
}

// NewLoopback creates a dialer for svc.
func NewLoopback(svc *Service) *Loopback {
	return &Loopback{svc: svc}
}

// Dial ignores addr and connects a new peer.
func (l *Loopback) Dial(addr string) (transport.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failDials > 0 {
		l.failDials--
		return nil, ErrRefused
	}
	c := &LoopbackConn{peer: l.svc.NewPeer(), addr: addr}
	l.conns = append(l.conns, c)
	return c, nil
}

// FailNextDials makes the next n dials fail.
func (l *Loopback) FailNextDials(n int) {
	l.mu.Lock()
	l.failDials = n
	l.mu.Unlock()
}

// DropAll breaks every open connection.
func (l *Loopback) DropAll() {
	for _, c := range l.Conns() {
		c.Drop()
	}
}

// Conns returns every connection dialed so far.
func (l *Loopback) Conns() []*LoopbackConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*LoopbackConn(nil), l.conns...)
}

// Last returns the most recent connection, or nil.
func (l *Loopback) Last() *LoopbackConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.conns) == 0 {
		return nil
	}
	return l.conns[len(l.conns)-1]
}

// LoopbackConn is the client end of a loopback connection.
type LoopbackConn struct {
	peer *Peer
	addr string

	mu      sync.Mutex
	stalled bool
	dropped bool
	closed  bool
}

// Peer returns the server side of the connection.
func (c *LoopbackConn) Peer() *Peer { return c.peer }

// Addr returns the address passed to Dial.
func (c *LoopbackConn) Addr() string { return c.addr }

// Stall makes Recv report ErrWouldBlock while on.
func (c *LoopbackConn) Stall(on bool) {
	c.mu.Lock()
	c.stalled = on
	c.mu.Unlock()
}

// Drop breaks the connection as if the network failed.
func (c *LoopbackConn) Drop() {
	c.mu.Lock()
	c.dropped = true
	c.mu.Unlock()
	c.peer.Close()
}

// Closed reports whether the client closed the connection.
func (c *LoopbackConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *LoopbackConn) Send(p []byte) (int, error) {
	c.mu.Lock()
	broken := c.dropped || c.closed
	c.mu.Unlock()
	if broken {
		return 0, transport.ErrClosed
	}
	if err := c.peer.Feed(p); err != nil {
		c.Drop()
		return 0, err
	}
	return len(p), nil
}

func (c *LoopbackConn) Recv(p []byte) (int, error) {
	c.mu.Lock()
	broken, stalled := c.dropped || c.closed, c.stalled
	c.mu.Unlock()
	if broken {
		return 0, transport.ErrClosed
	}
	if stalled {
		return 0, transport.ErrWouldBlock
	}
	if n := c.peer.Read(p); n > 0 {
		return n, nil
	}
	if c.peer.Closed() {
		return 0, transport.ErrClosed
	}
	return 0, transport.ErrWouldBlock
}

func (c *LoopbackConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.peer.Close()
	return nil
}
