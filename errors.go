package rota

import (
	"github.com/IKcoding-jp/rota/types"
)

// Re-exported sentinel errors. Check with errors.Is.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrNATSConnectionRequired is returned when the NATS connection is nil.
	ErrNATSConnectionRequired = types.ErrNATSConnectionRequired

	// ErrInvalidDate is returned when a date string is not canonical YYYY-MM-DD.
	ErrInvalidDate = types.ErrInvalidDate

	// ErrShuffleInProgress is returned when a shuffle is triggered for a date
	// that already has a live running event.
	ErrShuffleInProgress = types.ErrShuffleInProgress

	// ErrCommitFailed is returned when a shuffle's countdown ended but the
	// result could not be persisted. The event stays running; a subsequent
	// manual trigger is the recovery path.
	ErrCommitFailed = types.ErrCommitFailed

	// ErrDayNotFound is returned when no assignment document exists for a date.
	ErrDayNotFound = types.ErrDayNotFound

	// ErrEventNotFound is returned when no shuffle event exists for a date.
	ErrEventNotFound = types.ErrEventNotFound

	// ErrMutateConflictExhausted is returned when the optimistic
	// read-modify-write loop gave up after repeated revision conflicts.
	ErrMutateConflictExhausted = types.ErrMutateConflictExhausted

	// ErrAlreadyObserving is returned when a second observation is started
	// for a date this manager is already watching.
	ErrAlreadyObserving = types.ErrAlreadyObserving

	// ErrManagerClosed is returned when an operation is attempted on a
	// closed manager.
	ErrManagerClosed = types.ErrManagerClosed
)
