package rota

import (
	"github.com/IKcoding-jp/rota/types"
)

// Re-exported domain types so callers work with the root package alone.
type (
	// Team is an organizational sub-group whose members can be assigned to
	// task labels.
	Team = types.Team

	// Member belongs to exactly one Team and may carry excluded labels.
	Member = types.Member

	// TaskLabel is one schedulable work slot, filled once per Team per day.
	TaskLabel = types.TaskLabel

	// Assignment is the resolved (Team, TaskLabel, Member?, date) tuple.
	Assignment = types.Assignment

	// AssignmentDay is the full assignment set for one calendar date.
	AssignmentDay = types.AssignmentDay

	// ShuffleEvent is the ephemeral record of one in-flight shuffle.
	ShuffleEvent = types.ShuffleEvent

	// ShuffleHistory is an immutable record of one executed shuffle.
	ShuffleHistory = types.ShuffleHistory

	// PairExclusion forbids two Teams' members from repeating as a pair.
	PairExclusion = types.PairExclusion

	// EventState is the lifecycle state of a persisted ShuffleEvent.
	EventState = types.EventState

	// ObserverPhase is the client-side FSM state for watching one event.
	ObserverPhase = types.ObserverPhase

	// Logger is the logging interface accepted by WithLogger.
	Logger = types.Logger

	// MetricsCollector is the metrics interface accepted by WithMetrics.
	MetricsCollector = types.MetricsCollector
)

// Re-exported state constants.
const (
	EventRunning = types.EventRunning
	EventDone    = types.EventDone

	PhaseIdle      = types.PhaseIdle
	PhaseAnimating = types.PhaseAnimating
	PhaseRevealed  = types.PhaseRevealed
)

// DateFormat is the canonical layout for assignment dates.
const DateFormat = types.DateFormat

// MemberRef returns a pointer to the given member ID, for building assignments.
func MemberRef(id string) *string {
	return types.MemberRef(id)
}

// NormalizePair returns the two identities in canonical order.
func NormalizePair(id1, id2 string) (string, string) {
	return types.NormalizePair(id1, id2)
}
