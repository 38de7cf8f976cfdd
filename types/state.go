package types

// EventState is the lifecycle state of a persisted ShuffleEvent.
//
// The persisted protocol is intentionally small:
//
//	(absent) → EventRunning → EventDone → (cleared)
//
// Absence of the event document means no shuffle is in progress for that date.
type EventState string

const (
	// EventRunning means the shuffle countdown is in progress and the result
	// has not been committed yet.
	EventRunning EventState = "running"

	// EventDone means the triggering client committed the result.
	EventDone EventState = "done"
)

// ObserverPhase is the client-side finite-state machine for watching one
// shuffle event. It replaces ad hoc "am I mid-animation" flags with named
// states owned by the coordinator.
//
//	PhaseIdle → PhaseAnimating → PhaseRevealed
//
// An observer that joins after the shared completion instant skips
// PhaseAnimating entirely.
type ObserverPhase int

const (
	// PhaseIdle means no live event is being observed for the date.
	PhaseIdle ObserverPhase = iota

	// PhaseAnimating means a countdown toward the shared completion instant
	// is in progress.
	PhaseAnimating

	// PhaseRevealed means the event's result has been surfaced to the client.
	PhaseRevealed
)

// String returns the string representation of the phase.
func (p ObserverPhase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseAnimating:
		return "Animating"
	case PhaseRevealed:
		return "Revealed"
	default:
		return "Unknown"
	}
}
