// ABOUTME: Zeroconf discovery package
// ABOUTME: Announces the device, browses access points and serves pairing requests
// Package discovery makes a device visible to local pairing peers.
//
// An Announcer advertises the device over mDNS and can be paused while
// the device should stay hidden. InfoHandler answers the pairing HTTP
// requests (getInfo and addUser) the announcement points to. Browse finds
// access points that advertise themselves on the local network.
//
// Example:
//
//	a, err := discovery.NewAnnouncer(discovery.Config{Name: "Kitchen", Port: 4070})
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	http.Handle(a.Path(), discovery.NewInfoHandler(pairing, logger))
package discovery
