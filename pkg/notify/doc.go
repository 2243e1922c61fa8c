// ABOUTME: Notification bus package
// ABOUTME: Typed event fan-out drained one event per subscriber per pump
// Package notify implements the notification bus shared by the session,
// cache and playback components.
//
// Producers Publish events at any time. Delivery happens only inside
// Dispatch, which the pump calls once per cycle: each subscriber receives
// at most one pending event per call, in subscription order.
//
// Example:
//
//	bus := notify.NewBus(logger)
//	h := bus.Subscribe(notify.KindLoggedIn, notify.HandlerFunc(func(ev notify.Event) error {
//	    fmt.Println("logged in")
//	    return nil
//	}))
//	defer bus.Unsubscribe(h)
package notify
