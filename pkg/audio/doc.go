// ABOUTME: Audio fundamentals shared by playback, decoders and sinks
// ABOUTME: Defines Format, the Sink contract and sample conversions
// Package audio provides the audio types used between the playback
// controller, the streaming decoders and the output sinks.
//
//   - Format: codec, sample rate, channel count and bit depth of a stream
//   - Sink: the consumer of decoded interleaved int16 frames
//
// It also provides sample helpers:
//   - 16-bit ↔ 24-bit conversions
//   - software volume scaling on the 0..65535 scale
//
// Example:
//
//	format := audio.Format{
//	    Codec:      audio.CodecPCM,
//	    SampleRate: 44100,
//	    Channels:   2,
//	    BitDepth:   16,
//	}
//	consumed := sink.Deliver(samples, format)
package audio
