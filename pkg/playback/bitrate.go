// ABOUTME: Bitrate tiers and per-track file selection
// ABOUTME: Picks the best file not above the requested tier and connectivity cap
package playback

import (
	"github.com/Thalhammer/libspotify-embedded/pkg/protocol"
	"github.com/Thalhammer/libspotify-embedded/pkg/session"
)

// Bitrate is a stream quality tier.
type Bitrate int

const (
	BitrateLow Bitrate = iota
	BitrateNormal
	BitrateHigh
)

// Kbps returns the nominal rate of the tier in kbit/s.
func (b Bitrate) Kbps() int {
	switch b {
	case BitrateLow:
		return 96
	case BitrateHigh:
		return 320
	default:
		return 160
	}
}

func (b Bitrate) String() string {
	switch b {
	case BitrateLow:
		return "low"
	case BitrateNormal:
		return "normal"
	case BitrateHigh:
		return "high"
	default:
		return "unknown"
	}
}

// capFor returns the highest tier allowed on a connection.
func capFor(c session.Connectivity) Bitrate {
	if c == session.ConnectivityMobile {
		return BitrateNormal
	}
	return BitrateHigh
}

// selectFile returns the file to play for the requested tier. It prefers
// the highest bitrate not above the limit and otherwise the lowest one
// above it. Among equal bitrates the first listed file wins.
func selectFile(files []protocol.AudioFile, want Bitrate, conn session.Connectivity) (protocol.AudioFile, bool) {
	limit := min(want, capFor(conn)).Kbps()

	below, above := -1, -1
	for i, f := range files {
		if f.FileID == "" || f.Size == 0 {
			continue
		}
		if f.Bitrate <= limit {
			if below < 0 || f.Bitrate > files[below].Bitrate {
				below = i
			}
		} else if above < 0 || f.Bitrate < files[above].Bitrate {
			above = i
		}
	}
	switch {
	case below >= 0:
		return files[below], true
	case above >= 0:
		return files[above], true
	default:
		return protocol.AudioFile{}, false
	}
}
