// ABOUTME: Server clock estimation with drift compensation
// ABOUTME: Fed by client/time round trips; answers "what time is it on the access point"
package clocksync

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

const (
	maxRTT        = 2 * time.Second
	degradedRTT   = 500 * time.Millisecond
	maxResidual   = 250 * time.Millisecond
	staleAfter    = 2 * time.Minute
	smoothingRate = 0.1
)

// Sync estimates the offset between the local clock and the access point.
type Sync struct {
	mu             sync.RWMutex
	clock          clock.Clock
	log            zerolog.Logger
	offset         int64   // microseconds, server - client
	drift          float64 // μs/μs
	rtt            int64
	quality        Quality
	lastSync       time.Time
	lastSyncMicros int64
	samples        int
}

// New creates a synchronizer reading local time from clk.
func New(clk clock.Clock, logger zerolog.Logger) *Sync {
	if clk == nil {
		clk = clock.New()
	}
	return &Sync{clock: clk, log: logger, quality: QualityLost}
}

// ClientMicros returns the local clock in Unix microseconds.
func (s *Sync) ClientMicros() int64 {
	return s.clock.Now().UnixMicro()
}

// ProcessResponse folds one exchange into the estimate. t1 and t4 are local
// send/receive times, t2 and t3 the server receive/send times, all in Unix
// microseconds.
func (s *Sync) ProcessResponse(t1, t2, t3, t4 int64) {
	rtt, measured := calculateOffset(t1, t2, t3, t4)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rtt = rtt
	s.lastSync = s.clock.Now()

	if rtt < 0 || rtt > maxRTT.Microseconds() {
		s.log.Debug().Int64("rtt_us", rtt).Msg("discarding time sample")
		return
	}

	switch s.samples {
	case 0:
		s.offset = measured
	case 1:
		if dt := float64(t4 - s.lastSyncMicros); dt > 0 {
			s.drift = float64(measured-s.offset) / dt
		}
		s.offset = measured
	default:
		dt := float64(t4 - s.lastSyncMicros)
		if dt <= 0 {
			return
		}
		predicted := s.offset + int64(s.drift*dt)
		residual := measured - predicted
		if residual > maxResidual.Microseconds() || residual < -maxResidual.Microseconds() {
			s.log.Debug().Int64("residual_us", residual).Msg("discarding time sample")
			return
		}
		s.offset = predicted + int64(smoothingRate*float64(residual))
		s.drift += smoothingRate * float64(residual) / dt
	}

	s.lastSyncMicros = t4
	s.samples++
	if rtt < degradedRTT.Microseconds() {
		s.quality = QualityGood
	} else {
		s.quality = QualityDegraded
	}

	s.log.Debug().Int64("offset_us", s.offset).Int64("rtt_us", rtt).Int("samples", s.samples).Msg("server clock updated")
}

// SetServerTime seeds the estimate from a single server timestamp with
// unknown latency, as carried by server/hello.
func (s *Sync) SetServerTime(serverMicros int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.samples > 0 {
		return
	}
	now := s.clock.Now()
	s.offset = serverMicros - now.UnixMicro()
	s.lastSyncMicros = now.UnixMicro()
	s.lastSync = now
	s.quality = QualityDegraded
}

// calculateOffset computes RTT and clock offset
func calculateOffset(t1, t2, t3, t4 int64) (rtt, offset int64) {
	rtt = (t4 - t1) - (t3 - t2)
	offset = ((t2 - t1) + (t3 - t4)) / 2
	return
}

// Offset returns the current offset in microseconds.
func (s *Sync) Offset() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// Stats returns the offset, last round trip and quality.
func (s *Sync) Stats() (offset, rtt int64, quality Quality) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset, s.rtt, s.quality
}

// CheckQuality marks the estimate lost when no sample arrived recently.
func (s *Sync) CheckQuality() Quality {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clock.Since(s.lastSync) > staleAfter {
		s.quality = QualityLost
	}
	return s.quality
}

// ServerNow returns the estimated current server time.
func (s *Sync) ServerNow() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client := s.clock.Now().UnixMicro()
	dt := client - s.lastSyncMicros
	return time.UnixMicro(client + s.offset + int64(s.drift*float64(dt)))
}

// ServerToLocal converts a server timestamp (Unix μs) to local time.
func (s *Sync) ServerToLocal(serverMicros int64) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.samples == 0 && s.offset == 0 {
		return time.UnixMicro(serverMicros)
	}
	numerator := float64(serverMicros) - float64(s.offset) + s.drift*float64(s.lastSyncMicros)
	return time.UnixMicro(int64(numerator / (1.0 + s.drift)))
}

// Reset forgets all samples.
func (s *Sync) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offset, s.drift, s.rtt = 0, 0, 0
	s.samples = 0
	s.lastSyncMicros = 0
	s.quality = QualityLost
}
