// ABOUTME: Audio type definitions
// ABOUTME: Formats, the sink contract and sample conversion helpers
package audio

import (
	"fmt"
	"time"
)

// Codecs carried by catalog files.
const (
	CodecPCM  = "pcm"
	CodecMP3  = "mp3"
	CodecOpus = "opus"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23

	// MaxVolume is full scale on the 0..65535 volume range.
	MaxVolume = 65535
)

// Format describes audio stream format
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// Validate reports whether the format can be decoded and played.
func (f Format) Validate() error {
	switch f.Codec {
	case CodecPCM, CodecMP3, CodecOpus:
	default:
		return fmt.Errorf("unsupported codec %q", f.Codec)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("invalid channel count %d", f.Channels)
	}
	return nil
}

// FrameBytes returns the size of one raw PCM frame.
func (f Format) FrameBytes() int {
	depth := f.BitDepth
	if depth == 0 {
		depth = 16
	}
	return f.Channels * depth / 8
}

// Frames returns how many frames cover d.
func (f Format) Frames(d time.Duration) int {
	return int(d * time.Duration(f.SampleRate) / time.Second)
}

// Duration returns the play time of n frames.
func (f Format) Duration(frames int) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dHz/%dch", f.Codec, f.SampleRate, f.Channels)
}

// Sink consumes decoded audio. samples are interleaved 16-bit frames in
// format. Deliver returns the number of frames taken, which may be fewer
// than offered; it must not block.
type Sink interface {
	Deliver(samples []int16, format Format) int
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(samples []int16, format Format) int

func (f SinkFunc) Deliver(samples []int16, format Format) int { return f(samples, format) }

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// ScaleVolume scales samples in place by volume/65535.
func ScaleVolume(samples []int16, volume uint16) {
	if volume == MaxVolume {
		return
	}
	for i, s := range samples {
		samples[i] = int16(int32(s) * int32(volume) / MaxVolume)
	}
}
