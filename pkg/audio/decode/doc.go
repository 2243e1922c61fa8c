// ABOUTME: Audio decoder package for multiple codec support
// ABOUTME: Packet decoders plus streaming decoders over an io.Reader
// Package decode turns catalog files into interleaved 16-bit samples.
//
// Supports: PCM (16-bit and 24-bit little-endian), MP3, Opus
//
// Packet decoders implement Decoder. Streams implement Stream and pull
// from an io.Reader, typically a reader over a cache entry. Opus files are
// a sequence of packets, each prefixed with its length as a big-endian
// uint16.
//
// Example:
//
//	stream, err := decode.NewStream(format, reader)
//	n, err := stream.Read(samples)
package decode
