// ABOUTME: Prometheus collectors for cache, session and playback activity
// ABOUTME: Registered once on the default registry via promauto
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache
	CacheBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spe_cache_bytes_written_total",
			Help: "Bytes written into cache entries",
		},
	)

	CacheBytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spe_cache_bytes_read_total",
			Help: "Bytes read from cache entries",
		},
	)

	CacheChunksCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spe_cache_chunks_completed_total",
			Help: "Chunks whose full extent has been written",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spe_cache_evictions_total",
			Help: "Entries removed to stay within the storage budget",
		},
	)

	CacheStorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spe_cache_storage_errors_total",
			Help: "Storage failures by operation and class",
		},
		[]string{"op", "class"}, // class: transient, permanent
	)

	CacheBytesInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spe_cache_bytes_in_use",
			Help: "Allocated bytes across all cache entries",
		},
	)

	// Session
	SessionStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spe_session_state_transitions_total",
			Help: "Connection state transitions by target state",
		},
		[]string{"state"},
	)

	SessionLoginFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spe_session_login_failures_total",
			Help: "Failed logins by error code",
		},
		[]string{"code"},
	)

	SessionReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spe_session_reconnect_attempts_total",
			Help: "Automatic reconnect attempts",
		},
	)

	SessionFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spe_session_frames_total",
			Help: "Protocol frames by direction",
		},
		[]string{"direction"}, // in, out
	)

	// Playback
	PlaybackFramesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spe_playback_frames_delivered_total",
			Help: "Audio frames consumed by the sink",
		},
	)

	PlaybackTrackSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spe_playback_track_skips_total",
			Help: "Tracks skipped automatically by reason",
		},
		[]string{"reason"},
	)

	// Access point
	AccessPointPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spe_accesspoint_peers",
			Help: "Connected access point peers",
		},
	)

	AccessPointBytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spe_accesspoint_bytes_served_total",
			Help: "File bytes served in chunk frames",
		},
	)
)

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
