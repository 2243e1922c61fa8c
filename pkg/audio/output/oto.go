// ABOUTME: Oto-based audio sink
// ABOUTME: Converts to the device format and buffers into a ring read by oto
package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"

	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
	"github.com/Thalhammer/libspotify-embedded/pkg/audio/resample"
)

// Oto plays audio through the system device.
type Oto struct {
	mu      sync.Mutex
	otoCtx  *oto.Context
	player  *oto.Player
	ring    *ring
	device  audio.Format
	res     *resample.Resampler
	scratch []int16
	log     zerolog.Logger
}

var _ audio.Sink = (*Oto)(nil)

// NewOto opens the audio device. oto allows one context per process, so
// the device format is fixed for the life of the sink.
func NewOto(sampleRate, channels int, buffer time.Duration, logger zerolog.Logger) (*Oto, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	if buffer <= 0 {
		buffer = 500 * time.Millisecond
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	device := audio.Format{Codec: audio.CodecPCM, SampleRate: sampleRate, Channels: channels, BitDepth: 16}
	o := &Oto{
		otoCtx: ctx,
		ring:   newRing(device.Frames(buffer) * channels),
		device: device,
		log:    logger.With().Str("component", "output").Logger(),
	}
	o.player = ctx.NewPlayer(o.ring)
	o.player.Play()

	o.log.Info().Int("sample_rate", sampleRate).Int("channels", channels).Dur("buffer", buffer).Msg("audio output initialized")
	return o, nil
}

// Format returns the device format.
func (o *Oto) Format() audio.Format { return o.device }

// Deliver buffers as many frames as fit and returns the count taken.
func (o *Oto) Deliver(samples []int16, format audio.Format) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	if format.Channels < 1 || format.SampleRate <= 0 {
		return 0
	}
	freeFrames := o.ring.Free() / o.device.Channels
	if format.SampleRate != o.device.SampleRate {
		// leave room for the resampler rounding up
		freeFrames = freeFrames*format.SampleRate/o.device.SampleRate - 1
	}
	frames := min(len(samples)/format.Channels, freeFrames)
	if frames <= 0 {
		return 0
	}

	in := convertChannels(samples[:frames*format.Channels], format.Channels, o.device.Channels, &o.scratch)
	if format.SampleRate != o.device.SampleRate {
		if o.res == nil || o.res.InputRate() != format.SampleRate {
			o.res = resample.New(format.SampleRate, o.device.SampleRate, o.device.Channels)
		}
		out := make([]int16, o.res.OutputSamplesNeeded(len(in)))
		n := o.res.Resample(in, out)
		in = out[:n]
	}
	o.ring.Write(in)
	return frames
}

// Buffered returns the play time waiting in the ring.
func (o *Oto) Buffered() time.Duration {
	return o.device.Duration(o.ring.Len() / o.device.Channels)
}

// Flush drops buffered audio, used on seek and track change.
func (o *Oto) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ring.Reset()
	if o.res != nil {
		o.res.Reset()
	}
}

// SetVolume sets the device volume on the 0..65535 scale.
func (o *Oto) SetVolume(volume uint16) {
	o.player.SetVolume(float64(volume) / audio.MaxVolume)
}

// Close stops playback and releases the device.
func (o *Oto) Close() error {
	if o.player != nil {
		if err := o.player.Close(); err != nil {
			o.log.Warn().Err(err).Msg("player close failed")
		}
		o.player = nil
	}
	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
	}
	return nil
}

// convertChannels maps interleaved samples from one layout to another.
// Mono is duplicated to stereo; stereo is averaged to mono.
func convertChannels(in []int16, from, to int, scratch *[]int16) []int16 {
	if from == to {
		return in
	}
	frames := len(in) / from
	need := frames * to
	if cap(*scratch) < need {
		*scratch = make([]int16, need)
	}
	out := (*scratch)[:need]
	for f := 0; f < frames; f++ {
		switch {
		case from == 1 && to == 2:
			out[f*2], out[f*2+1] = in[f], in[f]
		case from == 2 && to == 1:
			out[f] = int16((int32(in[f*2]) + int32(in[f*2+1])) / 2)
		}
	}
	return out
}
