// ABOUTME: Sine tone generator used to synthesize catalog tracks
// ABOUTME: Produces interleaved 16-bit samples at any rate and channel count
package accesspoint

import (
	"math"
	"sync"
)

// ToneSource generates a sine tone at half scale.
type ToneSource struct {
	sampleIndex uint64
	sampleMu    sync.Mutex
	frequency   float64
	sampleRate  int
	channels    int
}

// NewToneSource creates a tone generator
func NewToneSource(frequency float64, sampleRate, channels int) *ToneSource {
	return &ToneSource{
		frequency:  frequency,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Read fills samples with whole frames and returns the samples written.
func (s *ToneSource) Read(samples []int16) (int, error) {
	s.sampleMu.Lock()
	defer s.sampleMu.Unlock()

	frames := len(samples) / s.channels
	for i := 0; i < frames; i++ {
		t := float64(s.sampleIndex+uint64(i)) / float64(s.sampleRate)
		v := int16(math.Sin(2*math.Pi*s.frequency*t) * 32767.0 * 0.5)
		for ch := 0; ch < s.channels; ch++ {
			samples[i*s.channels+ch] = v
		}
	}
	s.sampleIndex += uint64(frames)

	return frames * s.channels, nil
}

// Samples renders frames frames into a new buffer.
func (s *ToneSource) Samples(frames int) []int16 {
	buf := make([]int16, frames*s.channels)
	s.Read(buf)
	return buf
}

func (s *ToneSource) SampleRate() int { return s.sampleRate }
func (s *ToneSource) Channels() int   { return s.channels }
