// ABOUTME: Package documentation for the session manager
// ABOUTME: Connection lifecycle, login flows and reconnect backoff
/*
Package session owns the connection to an access point.

A Manager is created once per process with New and driven by calling Pump
(or PumpEvents) on a steady cadence from a single goroutine. Login starts an
asynchronous flow: resolve, dial, hello, authenticate. The outcome arrives as
bus events; authentication failures are never returned from Login itself.

	bus := notify.NewBus(logger)
	mgr, err := session.New(session.Config{
		APIVersion:    version.APIVersion,
		WorkingMemory: 1 << 20,
		AppKey:        key,
		Brand:         "Acme",
		Model:         "Speaker",
		APAddress:     "ap.example.net:4070",
		Resolver:      transport.NewNetResolver(0),
		Dialer:        transport.NewWebSocketDialer("", logger),
		Bus:           bus,
		OnError:       func(err *errcode.Error) { log.Print(err) },
	})
	...
	mgr.LoginPassword("alice", "secret")
	for {
		mgr.PumpEvents()
		time.Sleep(10 * time.Millisecond)
	}

After a lost connection the manager moves to TemporaryError, waits out an
exponential backoff and retries with the blob issued by the last successful
login.
*/
package session
