package game

import "errors"

// Sentinel errors shared across the engine, session store, and repositories.
// Callers are expected to branch with errors.Is.
var (
	// ErrNotFound indicates a quest, step, option, or progress record is absent.
	// It is a no-op condition for the chat surface, never fatal.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is returned when access control rejects a player.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAttemptsExceeded is returned when a restart is requested after the
	// attempt limit was reached.
	ErrAttemptsExceeded = errors.New("attempts exceeded")

	// ErrNotPaid is returned when a quest requires payment before playing.
	ErrNotPaid = errors.New("quest not paid")
)
