// ABOUTME: Playback context snapshots and track metadata records
// ABOUTME: A Context is never modified after publication; changes build a new one
package playback

import (
	"github.com/Thalhammer/libspotify-embedded/pkg/protocol"
)

// State is the playback state.
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Context is an immutable snapshot of the playback state. Tracks and
// Order must not be modified by callers.
type Context struct {
	URI    string
	Title  string
	Tracks []protocol.TrackInfo

	// Order lists track indexes in play order. Index is the current
	// track's position in Tracks, or -1.
	Order []int
	Index int

	PositionMs  int64
	Volume      uint16
	VolumeSteps int
	Shuffle     bool
	Repeat      bool
	Bitrate     Bitrate
	State       State
}

// Track returns the current track.
func (c *Context) Track() (protocol.TrackInfo, bool) {
	if c.Index < 0 || c.Index >= len(c.Tracks) {
		return protocol.TrackInfo{}, false
	}
	return c.Tracks[c.Index], true
}

// clone returns a shallow copy for building the next snapshot.
func (c *Context) clone() *Context {
	n := *c
	return &n
}

// slot returns the position of track index in Order.
func (c *Context) slot(index int) int {
	for i, idx := range c.Order {
		if idx == index {
			return i
		}
	}
	return -1
}

// step returns the track index delta places after from in play order,
// wrapping when repeat is on.
func (c *Context) step(from, delta int) (int, bool) {
	s := c.slot(from)
	if s < 0 {
		return -1, false
	}
	n := s + delta
	if n < 0 || n >= len(c.Order) {
		if !c.Repeat || len(c.Order) == 0 {
			return -1, false
		}
		n = ((n % len(c.Order)) + len(c.Order)) % len(c.Order)
	}
	return c.Order[n], true
}

// TrackMetadata describes one track around the playback head.
type TrackMetadata struct {
	ContextTitle string
	ContextURI   string
	Title        string
	URI          string
	Artist       string
	ArtistURI    string
	Album        string
	AlbumURI     string
	ImageURI     string
	DurationMs   int64
	Index        int
	Bitrate      int // kbit/s of the file that plays, zero if none
}

func identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}
