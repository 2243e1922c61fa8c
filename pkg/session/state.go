// ABOUTME: Connection states, connectivity hints and login methods
// ABOUTME: Plain enums with wire-friendly names
package session

// State is the connection state reported to subscribers.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateLoggedIn
	StateTemporaryError
	StateReconnect
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLoggedIn:
		return "logged_in"
	case StateTemporaryError:
		return "temporary_error"
	case StateReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// Connectivity is a network quality hint supplied by the application.
type Connectivity int

const (
	ConnectivityOffline Connectivity = iota
	ConnectivityWired
	ConnectivityWireless
	ConnectivityMobile
)

func (c Connectivity) String() string {
	switch c {
	case ConnectivityOffline:
		return "offline"
	case ConnectivityWired:
		return "wired"
	case ConnectivityWireless:
		return "wireless"
	case ConnectivityMobile:
		return "mobile"
	default:
		return "unknown"
	}
}

// Method selects the credential kind for Login.
type Method int

const (
	MethodPassword Method = iota
	MethodBlob
	MethodToken
)

func (m Method) String() string {
	switch m {
	case MethodPassword:
		return "password"
	case MethodBlob:
		return "blob"
	case MethodToken:
		return "token"
	default:
		return "unknown"
	}
}

// Credentials carries the fields for one login method.
type Credentials struct {
	Username string
	Password string
	Blob     []byte
	Token    string
}

// phase tracks progress of the connection flow.
type phase int

const (
	phaseIdle phase = iota
	phaseResolve
	phaseDial
	phaseHello
	phaseAuth
	phaseOnline
)
