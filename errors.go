package main

import (
	"errors"
	"fmt"

	"Drover/pkg/types"
)

// Failure kinds surfaced to callers as structured results. Nothing in this
// file is fatal to the process; the service stays up for other devices
// regardless of one automation run's outcome.
var (
	// ErrScreenshotDecode means the captured image could not be read at
	// all. Distinct from an "unknown screen" result so callers can tell
	// "I don't know what's on screen" from "I couldn't read the screen".
	ErrScreenshotDecode = errors.New("screenshot could not be decoded")

	// ErrDeviceUnreachable propagates transport-level connection failures
	ErrDeviceUnreachable = errors.New("device unreachable")

	// ErrNotFound is returned by store lookups for missing rows
	ErrNotFound = errors.New("not found")
)

// ActionError reports which action of a macro failed. The executor stops at
// the failing index; later actions are never attempted.
type ActionError struct {
	Index int
	Kind  types.ActionKind
	Err   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %d (%s) failed: %v", e.Index, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
