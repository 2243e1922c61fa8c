// ABOUTME: Event kinds and the Event/Handler contracts
// ABOUTME: Concrete event payloads live in the packages that publish them
package notify

// Kind identifies an event family.
type Kind int

const (
	KindConnectionStateChanged Kind = iota
	KindLoggedIn
	KindLoggedOut
	KindMessageReceived
	KindPlaybackNotify
	KindAudioDataReady
	KindSeek
	KindVolumeChanged
	KindTrackUnavailable
	KindStorageAlloc
	KindStorageWrite
	KindStorageRead
	KindStorageClose
	KindPrefetchDone
	KindError
)

var kindNames = [...]string{
	"connection_state_changed",
	"logged_in",
	"logged_out",
	"message_received",
	"playback_notify",
	"audio_data_ready",
	"seek",
	"volume_changed",
	"track_unavailable",
	"storage_alloc",
	"storage_write",
	"storage_read",
	"storage_close",
	"prefetch_done",
	"error",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Event is anything published on the bus.
type Event interface {
	Kind() Kind
}

// Coalescer is implemented by events that may be merged into an older
// undelivered event of the same subscriber. Coalesce returns the merged
// event and true, or false to queue the event separately.
type Coalescer interface {
	Coalesce(older Event) (Event, bool)
}

// Handler receives events for the kinds it subscribed to.
type Handler interface {
	HandleEvent(ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev Event) error

func (f HandlerFunc) HandleEvent(ev Event) error {
	return f(ev)
}

// Handle identifies a subscription.
type Handle uint64

// ErrorEvent carries an asynchronous failure.
type ErrorEvent struct {
	Err error
}

func (ErrorEvent) Kind() Kind { return KindError }
