// ABOUTME: Error taxonomy for the session and cache engine
// ABOUTME: Codes split into session (config/auth) and playback categories
// Package errcode defines the tagged error type shared by every package.
//
// Synchronous failures are returned as *Error values. Asynchronous failures
// (remote auth decisions, playback and storage faults) are published on the
// notification bus carrying the same type.
//
// Example:
//
//	if errors.Is(err, errcode.InvalidArgument) {
//	    // caller passed something out of range
//	}
package errcode
