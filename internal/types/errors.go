package types

import "errors"

// Sentinel errors for engine conditions
var (
	// ErrNodeNotFound indicates a target or anchor id does not resolve
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoEditsApplied indicates no find string of a text-edit call matched
	ErrNoEditsApplied = errors.New("no edits applied")

	// ErrMalformedChange indicates a change request has no valid shape
	ErrMalformedChange = errors.New("malformed change")

	// ErrPersistenceBlocked indicates the destructive-overwrite guard refused a write
	ErrPersistenceBlocked = errors.New("persistence blocked")
)
