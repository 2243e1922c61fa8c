// ABOUTME: Events published by the session manager
// ABOUTME: State changes, login results, server messages
package session

import "github.com/Thalhammer/libspotify-embedded/pkg/notify"

// StateEvent reports a connection state transition.
type StateEvent struct {
	State State
	Prev  State
}

func (StateEvent) Kind() notify.Kind { return notify.KindConnectionStateChanged }

// LoggedInEvent carries the canonical username and a blob usable for a
// later blob login.
type LoggedInEvent struct {
	Username    string
	AccountType string
	Blob        []byte
}

func (LoggedInEvent) Kind() notify.Kind { return notify.KindLoggedIn }

// LoggedOutEvent follows an explicit logout.
type LoggedOutEvent struct{}

func (LoggedOutEvent) Kind() notify.Kind { return notify.KindLoggedOut }

// MessageEvent is a text message pushed by the access point.
type MessageEvent struct {
	Text string
}

func (MessageEvent) Kind() notify.Kind { return notify.KindMessageReceived }
