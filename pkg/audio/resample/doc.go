// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts interleaved int16 audio between sample rates
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation for converting between sample rates. The last
// input frame of each call is carried into the next so block boundaries
// do not click.
//
// Example:
//
//	r := resample.New(22050, 44100, 2)
//	out := make([]int16, r.OutputSamplesNeeded(len(in)))
//	n := r.Resample(in, out)
package resample
