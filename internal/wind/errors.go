package wind

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors for the TransientRemote class: always recovered by the
// worker via re-enqueue and backoff, never propagated.
var (
	ErrNotFound     = errors.New("remote file not found")
	ErrBadStatus    = errors.New("unexpected HTTP status")
	ErrNetwork      = errors.New("network failure")
	ErrFetchTimeout = errors.New("per-file fetch timed out")
)

// ErrDecode marks a Decode-class failure: the unpacker rejected a
// downloaded file. Treated identically to TransientRemote for the current
// attempt.
var ErrDecode = errors.New("grib decode failed")

// Session-class errors, surfaced to the Downloader's caller. Kept as
// distinct sentinels rather than one generic "timed out" value: the
// completion wait elapsing is a different condition from the caller's
// context being cancelled during that same wait (see DESIGN.md Open
// Question 1).
var (
	// ErrSessionTimeout means the session's wall-clock deadline elapsed
	// before the completion event fired.
	ErrSessionTimeout = errors.New("session deadline exceeded")

	// ErrIncomplete means the completion event fired (files_complete ==
	// files_count) but the checklist was not fully set.
	ErrIncomplete = errors.New("checklist incomplete at session completion")

	// ErrNoOutput means open() was called with both outputs disabled.
	ErrNoOutput = errors.New("session requires at least one output")

	// ErrDeadlinePassed means download() was entered with a deadline
	// already in the past.
	ErrDeadlinePassed = errors.New("deadline already passed")
)

// IsTransient reports whether err belongs to the TransientRemote or Decode
// classes and should be handled by re-enqueue, not propagation.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBadStatus) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrFetchTimeout) ||
		errors.Is(err, ErrDecode)
}
