// ABOUTME: Code enumeration, categories and the Error wrapper type
// ABOUTME: Codes implement error so errors.Is matches on the code alone
package errcode

import (
	"errors"
	"fmt"
)

// Code identifies a failure.
type Code int

const (
	OK Code = iota
	Failed
	InitFailed
	APIVersionMismatch
	NullArgument
	InvalidArgument
	Uninitialized
	AlreadyInitialized
	BadCredentials
	NeedsPremium
	TravelRestriction
	ApplicationBanned
	GeneralLoginError
	Unsupported
	NotActiveDevice
	APIRateLimited

	// Playback range. The vendor numbering reserves 1000 as the start of
	// this range; values here are not wire compatible with it.
	PlaybackGeneral
	PlaybackRateLimited
	CappingLimitReached
	AdIsPlaying
	CorruptTrack
	ContextFailed
	PrefetchUnavailable
	AlreadyPrefetching
	StorageReadError
	StorageWriteError
	PrefetchDownloadFailed
)

// Category groups codes by where they originate.
type Category int

const (
	CategorySession Category = iota
	CategoryPlayback
)

func (c Category) String() string {
	if c == CategoryPlayback {
		return "playback"
	}
	return "session"
}

var names = map[Code]string{
	OK:                     "ok",
	Failed:                 "failed",
	InitFailed:             "init_failed",
	APIVersionMismatch:     "api_version_mismatch",
	NullArgument:           "null_argument",
	InvalidArgument:        "invalid_argument",
	Uninitialized:          "uninitialized",
	AlreadyInitialized:     "already_initialized",
	BadCredentials:         "bad_credentials",
	NeedsPremium:           "needs_premium",
	TravelRestriction:      "travel_restriction",
	ApplicationBanned:      "application_banned",
	GeneralLoginError:      "general_login_error",
	Unsupported:            "unsupported",
	NotActiveDevice:        "not_active_device",
	APIRateLimited:         "api_rate_limited",
	PlaybackGeneral:        "playback_general",
	PlaybackRateLimited:    "playback_rate_limited",
	CappingLimitReached:    "capping_limit_reached",
	AdIsPlaying:            "ad_is_playing",
	CorruptTrack:           "corrupt_track",
	ContextFailed:          "context_failed",
	PrefetchUnavailable:    "prefetch_unavailable",
	AlreadyPrefetching:     "already_prefetching",
	StorageReadError:       "storage_read_error",
	StorageWriteError:      "storage_write_error",
	PrefetchDownloadFailed: "prefetch_download_failed",
}

// String returns the wire name of the code.
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error lets a bare Code act as an errors.Is target.
func (c Code) Error() string {
	return c.String()
}

// Category reports whether the code belongs to the playback range.
func (c Code) Category() Category {
	if c >= PlaybackGeneral {
		return CategoryPlayback
	}
	return CategorySession
}

// Parse maps a wire name back to its code. Unknown names yield Failed.
func Parse(name string) Code {
	for c, n := range names {
		if n == name {
			return c
		}
	}
	return Failed
}

// ErrWouldBlock reports that a non-blocking operation cannot complete yet
// and should be retried on a later pump.
var ErrWouldBlock = errors.New("operation would block")

// Error is a failure tagged with a Code.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a bare Code or another *Error carrying the same code.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Code:
		return e.Code == t
	case *Error:
		return e.Code == t.Code && (t.Op == "" || t.Op == e.Op)
	}
	return false
}

// New returns an *Error for op with a formatted cause.
func New(code Code, op string, format string, args ...interface{}) *Error {
	var cause error
	if format != "" {
		cause = fmt.Errorf(format, args...)
	}
	return &Error{Code: code, Op: op, Err: cause}
}

// Wrap tags err with code. A nil err stays nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the code from err. Nil is OK; untagged errors are Failed.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Failed
}
