// ABOUTME: Device operations exposed by the Engine
// ABOUTME: Thin delegation to session, playback and discovery with argument checks
package embedded

import (
	"strings"
	"time"

	"github.com/Thalhammer/libspotify-embedded/internal/version"
	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/notify"
	"github.com/Thalhammer/libspotify-embedded/pkg/playback"
	"github.com/Thalhammer/libspotify-embedded/pkg/session"
)

const imagePrefix = "spotify:image:"

// Subscribe registers h for events of kind.
func (e *Engine) Subscribe(kind notify.Kind, h notify.Handler) notify.Handle {
	return e.bus.Subscribe(kind, h)
}

// Unsubscribe removes a subscription.
func (e *Engine) Unsubscribe(h notify.Handle) bool { return e.bus.Unsubscribe(h) }

// Connection

func (e *Engine) SetDisplayName(name string) error {
	if err := e.sess.SetDisplayName(name); err != nil {
		return err
	}
	e.pairing.refresh(e.sess.ZeroConfVars())
	return nil
}

func (e *Engine) SetConnectivity(c session.Connectivity) error { return e.sess.SetConnectivity(c) }
func (e *Engine) Connectivity() session.Connectivity { return e.sess.Connectivity() }

func (e *Engine) LoginPassword(username, password string) error {
	return e.sess.LoginPassword(username, password)
}

func (e *Engine) LoginBlob(username string, blob []byte) error {
	return e.sess.LoginBlob(username, blob)
}

func (e *Engine) LoginToken(token string) error { return e.sess.LoginToken(token) }
func (e *Engine) IsLoggedIn() bool { return e.sess.IsLoggedIn() }
func (e *Engine) Logout() error { return e.sess.Logout() }

// Playback

func (e *Engine) PlayURI(uri string, index int, positionMs int64) error {
	return e.ctrl.PlayURI(uri, index, positionMs)
}

func (e *Engine) Play() error { return e.ctrl.Play() }
func (e *Engine) Pause() error { return e.ctrl.Pause() }
func (e *Engine) Seek(positionMs int64) error { return e.ctrl.Seek(positionMs) }
func (e *Engine) SkipNext() error { return e.ctrl.Next() }
func (e *Engine) SkipPrev() error { return e.ctrl.Prev() }
func (e *Engine) QueueURI(uri string) error { return e.ctrl.Queue(uri) }
func (e *Engine) Prefetch(uri string) error { return e.ctrl.Prefetch(uri) }
func (e *Engine) StopPrefetching() error { return e.ctrl.StopPrefetching() }
func (e *Engine) SetBitrate(b playback.Bitrate) error { return e.ctrl.SetBitrate(b) }
func (e *Engine) EnableShuffle(on bool) { e.ctrl.SetShuffle(on) }
func (e *Engine) EnableRepeat(on bool) { e.ctrl.SetRepeat(on) }
func (e *Engine) IsShuffled() bool { return e.ctrl.IsShuffled() }
func (e *Engine) IsRepeated() bool { return e.ctrl.IsRepeated() }
func (e *Engine) IsPlaying() bool { return e.ctrl.IsPlaying() }
func (e *Engine) IsActiveDevice() bool { return e.ctrl.IsActive() }
func (e *Engine) Position() int64 { return e.ctrl.Position() }
func (e *Engine) Volume() uint16 { return e.ctrl.Volume() }

// UpdateVolume applies a volume chosen on the device.
func (e *Engine) UpdateVolume(v uint16) { e.ctrl.SetVolume(v) }

func (e *Engine) SetVolumeSteps(steps int) error { return e.ctrl.SetVolumeSteps(steps) }

// Metadata describes the previous (-1), current (0) or next (1) track.
func (e *Engine) Metadata(offset int) (playback.TrackMetadata, error) {
	return e.ctrl.Metadata(offset)
}

// MetadataValidRange returns the offsets Metadata accepts right now.
func (e *Engine) MetadataValidRange() (lo, hi int) { return e.ctrl.MetadataValidRange() }

// ImageURL turns a spotify:image: uri into a fetchable URL.
func (e *Engine) ImageURL(uri string) (string, error) {
	id, ok := strings.CutPrefix(uri, imagePrefix)
	if !ok || id == "" || strings.ContainsAny(id, ":/?#") {
		return "", errcode.New(errcode.InvalidArgument, "embedded.image_url", "not an image uri: %q", uri)
	}
	return e.cfg.ImageBaseURL + id, nil
}

// Zeroconf

func (e *Engine) ZeroConfVars() session.ZeroConfVars { return e.sess.ZeroConfVars() }

// ZeroConfAnnouncePause withdraws the mDNS announcement.
func (e *Engine) ZeroConfAnnouncePause() error {
	if e.announcer == nil {
		return errcode.New(errcode.Uninitialized, "embedded.zeroconf", "announcement disabled")
	}
	return e.announcer.Pause()
}

// ZeroConfAnnounceResume publishes the mDNS announcement again.
func (e *Engine) ZeroConfAnnounceResume() error {
	if e.announcer == nil {
		return errcode.New(errcode.Uninitialized, "embedded.zeroconf", "announcement disabled")
	}
	return e.announcer.Resume()
}

// Identity

func (e *Engine) ServerTime() time.Time { return e.sess.ServerTime() }
func (e *Engine) CanonicalUsername() string { return e.sess.CanonicalUsername() }
func (e *Engine) BrandName() string { return e.sess.Brand() }
func (e *Engine) ModelName() string { return e.sess.Model() }
func (e *Engine) LibraryVersion() string { return version.Library() }

// ProductType returns the account type of the logged in user.
func (e *Engine) ProductType() (string, error) {
	if !e.sess.IsLoggedIn() {
		return "", errcode.New(errcode.Uninitialized, "embedded.product_type", "not logged in")
	}
	return e.sess.AccountType(), nil
}
