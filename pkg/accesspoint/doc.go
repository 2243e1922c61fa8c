// ABOUTME: Reference access point serving the session protocol
// ABOUTME: Accounts, sealed login blobs, a track catalog and two transports
// Package accesspoint implements the server side of the protocol spoken by
// package session.
//
// A Service holds the shared state: the account Directory, the blob
// Sealer and the Catalog. Each connection gets a Peer that consumes
// inbound bytes and produces outbound bytes, independent of transport.
// Two transports are provided:
//
//   - Server: websocket over HTTP, one binary message per write
//   - Loopback: an in-process transport.Dialer with no goroutines, used by
//     tests to drive the full protocol deterministically
//
// Example:
//
//	dir := accesspoint.NewDirectory()
//	dir.Add("alice", "secret", accesspoint.Premium)
//	catalog := accesspoint.NewCatalog(logger)
//	catalog.AddTone("spotify:track:a440", "A440", 440, 10*time.Second)
//	svc, _ := accesspoint.NewService(accesspoint.Config{
//		Directory: dir,
//		Sealer:    sealer,
//		Catalog:   catalog,
//	})
//	srv, _ := accesspoint.NewServer(accesspoint.ServerConfig{Port: 4070, Service: svc})
//	go srv.Start()
package accesspoint
