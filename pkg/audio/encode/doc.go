// ABOUTME: Audio encoder package for encoding PCM to catalog files
// ABOUTME: Provides Encoder interface and implementations for PCM, Opus
// Package encode produces catalog files from interleaved 16-bit samples.
//
// Supports: PCM (16-bit and 24-bit little-endian), Opus
//
// Opus files are written as length-prefixed packets, the layout the
// decode package reads back.
//
// Example:
//
//	encoder, err := encode.NewOpus(format)
//	file, err := encode.File(encoder, samples, encoder.FrameSamples())
package encode
