package models

import "errors"

// Domain failure kinds. Repositories and services wrap these with %w so
// callers can branch with errors.Is; routes map them to HTTP status codes.
var (
	// ErrInvalidTarget covers unregistered target types and payload fields
	// that do not belong to the target type's schema.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrNotFound covers missing drafts and missing canonical records.
	ErrNotFound = errors.New("not found")
	// ErrConflictingDraft fires when an unresolved draft already exists for
	// the same (target_type, target_id).
	ErrConflictingDraft = errors.New("conflicting draft")
	// ErrInvalidTransition covers status updates that lost a compare-and-swap
	// race; ordinary guard failures are reported via TransitionResult instead.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrTargetMissing fires when materialization references a canonical
	// record that no longer exists.
	ErrTargetMissing = errors.New("target missing")
)
