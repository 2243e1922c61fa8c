// ABOUTME: Playback notifications and the events the controller publishes
// ABOUTME: Notification values follow the vendor playback-notify list
package playback

import (
	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
	"github.com/Thalhammer/libspotify-embedded/pkg/notify"
)

// Notification is a playback state change reported through NotifyEvent.
type Notification int

const (
	NotifyPlay Notification = iota
	NotifyPause
	NotifyTrackChanged
	NotifyNext
	NotifyPrev
	NotifyShuffleOn
	NotifyShuffleOff
	NotifyRepeatOn
	NotifyRepeatOff
	NotifyBecameActive
	NotifyBecameInactive
	NotifyLostPermission
	NotifyAudioFlush
	NotifyAudioDeliveryDone
	NotifyContextChanged
	NotifyTrackDelivered
	NotifyMetadataChanged
)

var notificationNames = [...]string{
	"play",
	"pause",
	"track_changed",
	"next",
	"prev",
	"shuffle_on",
	"shuffle_off",
	"repeat_on",
	"repeat_off",
	"became_active",
	"became_inactive",
	"lost_permission",
	"audio_flush",
	"audio_delivery_done",
	"context_changed",
	"track_delivered",
	"metadata_changed",
}

func (n Notification) String() string {
	if n >= 0 && int(n) < len(notificationNames) {
		return notificationNames[n]
	}
	return "unknown"
}

// NotifyEvent carries one playback notification.
type NotifyEvent struct {
	Notification Notification
}

func (NotifyEvent) Kind() notify.Kind { return notify.KindPlaybackNotify }

// AudioDataReadyEvent reports decoded frames waiting for the sink.
type AudioDataReadyEvent struct {
	Frames int
	Format audio.Format
}

func (AudioDataReadyEvent) Kind() notify.Kind { return notify.KindAudioDataReady }

// Coalesce replaces an undelivered event with the newer one.
func (e AudioDataReadyEvent) Coalesce(older notify.Event) (notify.Event, bool) {
	if _, ok := older.(AudioDataReadyEvent); !ok {
		return nil, false
	}
	return e, true
}

// SeekEvent reports a new playback position.
type SeekEvent struct {
	PositionMs int64
}

func (SeekEvent) Kind() notify.Kind { return notify.KindSeek }

// VolumeEvent reports a volume change.
type VolumeEvent struct {
	Volume uint16
}

func (VolumeEvent) Kind() notify.Kind { return notify.KindVolumeChanged }

// TrackUnavailableEvent reports a context track that was skipped because
// it cannot be played.
type TrackUnavailableEvent struct {
	URI   string
	Index int
}

func (TrackUnavailableEvent) Kind() notify.Kind { return notify.KindTrackUnavailable }

// PrefetchDoneEvent reports that a prefetched track is fully cached.
type PrefetchDoneEvent struct {
	URI    string
	FileID string
}

func (PrefetchDoneEvent) Kind() notify.Kind { return notify.KindPrefetchDone }
