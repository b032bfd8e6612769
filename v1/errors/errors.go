// Package errors holds the sentinel errors shared by the teamcal packages.
package errors

import "errors"

var (
	// ErrTimeout is returned when a blocking operation exceeds its deadline.
	ErrTimeout = errors.New("teamcal: timeout")
	// ErrConnectionClosed reports a transport that went away. It never reaches
	// realtime callers; the channel reconnects instead.
	ErrConnectionClosed = errors.New("teamcal: connection closed")
	// ErrMalformedFrame reports a frame that could not be decoded.
	ErrMalformedFrame = errors.New("teamcal: malformed frame")
	// ErrNotUsable is returned when an operation targets a calendar without
	// lock support (the personal calendar) or an empty target.
	ErrNotUsable = errors.New("teamcal: lock target not usable")
	// ErrWriteNotAuthorized is returned when the pre-save lease check fails
	// and the write was not attempted.
	ErrWriteNotAuthorized = errors.New("teamcal: write not authorized")
	// ErrVersionConflict reports a save rejected for a stale base version.
	ErrVersionConflict = errors.New("teamcal: version conflict")
)
