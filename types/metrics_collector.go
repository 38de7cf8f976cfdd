package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods may be called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces so callers can
// implement only the surface they care about and embed a nop for the rest.
type MetricsCollector interface {
	SchedulerMetrics
	StoreMetrics
	CoordinatorMetrics
	SyncGuardMetrics
}

// SchedulerMetrics defines metrics for fairness scheduling runs.
type SchedulerMetrics interface {
	// RecordShuffleComputed records one scheduler run: how many slots were
	// filled and how many slots needed the relaxation ladder beyond the
	// strict pool.
	RecordShuffleComputed(slots, relaxedSlots int)
}

// StoreMetrics defines metrics for the assignment store.
type StoreMetrics interface {
	// RecordMutate records one mutation attempt outcome for a date document.
	RecordMutate(changed bool)

	// RecordMutateConflict records an optimistic write conflict that was
	// retried by the read-modify-write loop.
	RecordMutateConflict()

	// RecordKVOperationDuration records the duration of a KV operation in seconds.
	RecordKVOperationDuration(operation string, duration float64)
}

// CoordinatorMetrics defines metrics for the shuffle event protocol.
type CoordinatorMetrics interface {
	// RecordEventPublished records a shuffle event broadcast.
	RecordEventPublished(date string)

	// RecordEventCommitted records the commit outcome after the countdown.
	RecordEventCommitted(date string, success bool)

	// RecordObserverJoin records how far into the countdown an observer
	// joined, in seconds (0 for the triggering client).
	RecordObserverJoin(elapsed float64)
}

// SyncGuardMetrics defines metrics for client-side snapshot reconciliation.
type SyncGuardMetrics interface {
	// RecordGuardMerge records one remote snapshot reconciliation outcome:
	// "applied", "merged", "caught_up", or "timed_out".
	RecordGuardMerge(outcome string)
}
