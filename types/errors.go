package types

import (
	"errors"
	"strings"
)

// Sentinel errors for the rota library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).

// Manager errors - public API errors returned by the Manager.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNATSConnectionRequired is returned when the NATS connection is nil.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrInvalidDate is returned when a date string is not canonical YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date")

	// ErrShuffleInProgress is returned when a shuffle is triggered for a date
	// that already has a live running event.
	ErrShuffleInProgress = errors.New("shuffle already in progress")

	// ErrCommitFailed is returned when a shuffle's visible countdown ended but
	// the result could not be persisted. The event is left running; the
	// expected recovery path is a subsequent manual shuffle trigger.
	ErrCommitFailed = errors.New("shuffle commit failed")

	// ErrConnectivity indicates a NATS/KV connectivity issue, used to
	// distinguish network failures from application errors.
	ErrConnectivity = errors.New("connectivity issue")

	// ErrAlreadyObserving is returned when a second observation is started
	// for a date that this manager is already watching.
	ErrAlreadyObserving = errors.New("already observing date")

	// ErrManagerClosed is returned when an operation is attempted on a
	// closed manager.
	ErrManagerClosed = errors.New("manager is closed")
)

// Store errors - persistence layer errors.
var (
	// ErrDayNotFound is returned when no assignment document exists for a date.
	ErrDayNotFound = errors.New("assignment day not found")

	// ErrEventNotFound is returned when no shuffle event exists for a date.
	ErrEventNotFound = errors.New("shuffle event not found")

	// ErrEventExists is returned when publishing an event for a date that
	// already has one.
	ErrEventExists = errors.New("shuffle event already exists")

	// ErrMutateConflictExhausted is returned when the optimistic
	// read-modify-write loop gave up after repeated revision conflicts.
	ErrMutateConflictExhausted = errors.New("assignment mutation retries exhausted")
)

// Common errors - shared across components.
var (
	// ErrNoKeysFound is returned when NATS KV returns no keys (expected condition).
	ErrNoKeysFound = errors.New("no keys found")
)

// IsNoKeysFoundError checks if an error indicates that no keys were found in NATS KV.
//
// NATS reports this condition either as a direct "nats: no keys found" error
// or wrapped inside another message, so both forms are handled.
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true if the error indicates no keys were found, false otherwise
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoKeysFound) {
		return true
	}

	return strings.Contains(err.Error(), "no keys found")
}
