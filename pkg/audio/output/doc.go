// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the oto-backed audio.Sink
// Package output implements audio.Sink on top of the system audio device.
//
// Oto keeps a bounded ring of samples that the device drains in real time.
// Deliver never blocks; it accepts as many frames as fit and converts
// sample rate and channel count to the device format on the way in.
//
// Example:
//
//	sink, err := output.NewOto(44100, 2, 500*time.Millisecond, logger)
//	consumed := sink.Deliver(samples, format)
package output
