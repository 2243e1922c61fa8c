// ABOUTME: Transport capability package (socket and DNS)
// ABOUTME: Non-blocking Conn/Resolver contracts plus concrete adapters
// Package transport defines the non-blocking network capability consumed by
// the session.
//
// Every operation returns immediately. An operation that cannot complete
// yet returns ErrWouldBlock and is retried on the next pump. Adapters that
// wrap blocking APIs (the system resolver, gorilla websockets) confine their
// goroutines inside the adapter.
package transport
