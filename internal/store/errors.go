package store

import "errors"

var (
	// ErrStorageUnavailable means the local store could not be established.
	// Callers treat this as "offline features disabled", not a fatal error.
	ErrStorageUnavailable = errors.New("local store unavailable")

	// ErrWriteFailed means a specific put or delete failed, for example on a
	// full medium. Surfaced to queue callers as a failed enqueue.
	ErrWriteFailed = errors.New("local store write failed")

	// ErrDrainLockHeld means another drainer currently owns the drain marker.
	ErrDrainLockHeld = errors.New("drain already in progress")
)
