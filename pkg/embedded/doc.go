// ABOUTME: Embedded device facade package
// ABOUTME: One Engine per process driving session, cache and playback
// Package embedded is the entry point for devices built on the library.
//
// Init wires a notification bus, the session manager, the chunk cache and
// the playback controller together. The application then calls PumpEvents
// from a single goroutine as often as it can; every callback and event
// handler runs from inside that call.
//
// Example:
//
//	e, err := embedded.Init(embedded.Config{
//	    Session: session.Config{ /* device identity, access point, HAL */ },
//	    Storage: cache.NewMemoryStorage(),
//	    Sink:    sink,
//	})
//	if err != nil {
//	    return err
//	}
//	defer e.Free()
//
//	e.Subscribe(notify.KindLoggedIn, notify.HandlerFunc(func(notify.Event) error {
//	    return e.PlayURI("spotify:playlist:mix", 0, 0)
//	}))
//	e.LoginPassword("alice", "secret")
//	for {
//	    e.PumpEvents()
//	    time.Sleep(5 * time.Millisecond)
//	}
package embedded
