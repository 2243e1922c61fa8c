// ABOUTME: Asynchronous wrapper around the system resolver
// ABOUTME: Lookups run in a goroutine and are polled by Resolve
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

type lookup struct {
	done bool
	addr string
	err  error
}

// NetResolver resolves host:port strings through net.DefaultResolver
// without blocking the caller.
type NetResolver struct {
	Timeout time.Duration

	mu      sync.Mutex
	lookups map[string]*lookup
}

// NewNetResolver creates a resolver with the given per-lookup timeout.
func NewNetResolver(timeout time.Duration) *NetResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NetResolver{Timeout: timeout, lookups: make(map[string]*lookup)}
}

// Resolve accepts "host:port". It returns ErrWouldBlock while the lookup is
// running. A finished result is handed out once; the next call for the same
// host starts a fresh lookup.
func (r *NetResolver) Resolve(hostport string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.lookups[hostport]; ok {
		if !l.done {
			return "", ErrWouldBlock
		}
		delete(r.lookups, hostport)
		return l.addr, l.err
	}

	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", hostport, err)
	}
	if ip := net.ParseIP(host); ip != nil {
		return hostport, nil
	}

	l := &lookup{}
	r.lookups[hostport] = l
	go r.run(l, host, port)
	return "", ErrWouldBlock
}

func (r *NetResolver) run(l *lookup, host, port string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupHost(ctx, host)

	r.mu.Lock()
	defer r.mu.Unlock()
	l.done = true
	switch {
	case err != nil:
		l.err = fmt.Errorf("resolve %s: %w", host, err)
	case len(addrs) == 0:
		l.err = fmt.Errorf("resolve %s: no addresses", host)
	default:
		l.addr = net.JoinHostPort(addrs[0], port)
	}
}
