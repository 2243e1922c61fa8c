// ABOUTME: Resolver, Dialer and Conn interfaces
// ABOUTME: ErrWouldBlock is shared with the rest of the engine via errcode
package transport

import (
	"errors"

	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
)

// ErrWouldBlock reports that the operation should be retried later.
var ErrWouldBlock = errcode.ErrWouldBlock

// ErrClosed is returned by operations on a closed Conn.
var ErrClosed = errors.New("transport: connection closed")

// Resolver maps a hostname to a dialable address.
//
// The first call for a host may start a lookup and return ErrWouldBlock.
type Resolver interface {
	Resolve(host string) (string, error)
}

// Dialer opens connections. The returned Conn may still be establishing,
// in which case Send and Recv return ErrWouldBlock until it is ready.
type Dialer interface {
	Dial(addr string) (Conn, error)
}

// Conn is a non-blocking byte stream.
type Conn interface {
	// Send writes up to len(p) bytes and returns how many were accepted.
	Send(p []byte) (int, error)
	// Recv reads up to len(p) bytes.
	Recv(p []byte) (int, error)
	Close() error
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(host string) (string, error)

func (f ResolverFunc) Resolve(host string) (string, error) { return f(host) }

// DialerFunc adapts a function to Dialer.
type DialerFunc func(addr string) (Conn, error)

func (f DialerFunc) Dial(addr string) (Conn, error) { return f(addr) }

// StaticResolver resolves every host to itself. Useful when the address is
// already numeric or resolution is handled by the dialer.
var StaticResolver = ResolverFunc(func(host string) (string, error) { return host, nil })
