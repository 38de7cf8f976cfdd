package types

import (
	"fmt"
	"sort"
	"time"

	"github.com/zeebo/xxh3"
)

// DateFormat is the canonical layout for assignment dates.
//
// Dates are plain YYYY-MM-DD strings so that lexical comparison matches
// chronological order and the string can serve directly as a KV key.
const DateFormat = "2006-01-02"

// Team is an organizational sub-group whose members can be assigned to task labels.
type Team struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// Member belongs to exactly one Team and may carry a set of task labels it
// must never receive.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// TeamID references the owning Team.
	TeamID string `json:"teamId"`

	// ExcludedTaskLabelIDs lists labels this member must never be assigned.
	ExcludedTaskLabelIDs []string `json:"excludedTaskLabelIds"`

	// Active marks the member as eligible for scheduling. Inactive members
	// are skipped by the scheduler but keep their master-data record.
	Active bool `json:"active"`

	Order int `json:"order"`
}

// Excludes reports whether the member is barred from the given task label.
func (m Member) Excludes(taskLabelID string) bool {
	for _, id := range m.ExcludedTaskLabelIDs {
		if id == taskLabelID {
			return true
		}
	}

	return false
}

// TaskLabel is one schedulable work slot, filled once per Team per day.
//
// LeftLabel is the primary display string; RightLabel is optional.
type TaskLabel struct {
	ID         string `json:"id"`
	LeftLabel  string `json:"leftLabel"`
	RightLabel string `json:"rightLabel,omitempty"`
	Order      int    `json:"order"`
}

// Assignment is the resolved (Team, TaskLabel, Member?, date) tuple.
//
// MemberID is a pointer so that "no eligible member" (nil) is an explicit
// absence marker, distinct from an empty string and never conflated with a
// field that was simply not set.
type Assignment struct {
	TeamID       string  `json:"teamId"`
	TaskLabelID  string  `json:"taskLabelId"`
	MemberID     *string `json:"memberId"`
	AssignedDate string  `json:"assignedDate"`
}

// SlotKey returns the unique key of the assignment's slot within a day.
func (a Assignment) SlotKey() string {
	return a.TeamID + "__" + a.TaskLabelID
}

// HasMember reports whether a concrete member occupies the slot.
func (a Assignment) HasMember() bool {
	return a.MemberID != nil && *a.MemberID != ""
}

// MemberRef returns a pointer to the given member ID, for building assignments.
func MemberRef(id string) *string {
	return &id
}

// AssignmentDay is the full set of Assignments for one calendar date, stored
// as a single document keyed by date. It is the single writable source of
// truth for that day's board.
type AssignmentDay struct {
	Date        string       `json:"date"`
	Assignments []Assignment `json:"assignments"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// ShuffleEvent is the ephemeral record of one in-flight shuffle, observed by
// every subscriber of its date. Absence of a live event means no shuffle is
// in progress.
type ShuffleEvent struct {
	Date       string       `json:"date"`
	EventID    string       `json:"eventId"`
	StartedAt  time.Time    `json:"startedAt"`
	DurationMs int64        `json:"durationMs"`
	Result     []Assignment `json:"resultAssignments"`
	State      EventState   `json:"state"`
}

// Duration returns the fixed event duration.
func (e ShuffleEvent) Duration() time.Duration {
	return time.Duration(e.DurationMs) * time.Millisecond
}

// EndsAt returns the shared wall-clock completion instant.
//
// Every observer derives its countdown from this instant rather than from a
// local timer, so clients joining mid-animation still converge.
func (e ShuffleEvent) EndsAt() time.Time {
	return e.StartedAt.Add(e.Duration())
}

// Remaining returns how much of the countdown is left at the given instant.
// A non-positive result means the event is already over from that observer's
// perspective.
func (e ShuffleEvent) Remaining(now time.Time) time.Duration {
	return e.EndsAt().Sub(now)
}

// ShuffleHistory is an immutable record of one executed shuffle, retained as
// lookback input for the fairness scheduler.
type ShuffleHistory struct {
	ID          string       `json:"id"`
	TargetDate  string       `json:"targetDate"`
	Assignments []Assignment `json:"assignments"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// PairExclusion forbids the chosen members of two Teams from repeating as a
// pair within the lookback window. The team IDs are stored normalized
// (TeamID1 < TeamID2) so that (A,B) and (B,A) are the same rule.
type PairExclusion struct {
	ID        string    `json:"id"`
	TeamID1   string    `json:"teamId1"`
	TeamID2   string    `json:"teamId2"`
	CreatedAt time.Time `json:"createdAt"`
}

// Involves reports whether the rule references the given team.
func (p PairExclusion) Involves(teamID string) bool {
	return p.TeamID1 == teamID || p.TeamID2 == teamID
}

// Other returns the counterpart team of the rule, or "" if teamID is not part
// of it.
func (p PairExclusion) Other(teamID string) string {
	switch teamID {
	case p.TeamID1:
		return p.TeamID2
	case p.TeamID2:
		return p.TeamID1
	default:
		return ""
	}
}

// NormalizePair returns the two identities in canonical order.
func NormalizePair(id1, id2 string) (string, string) {
	if id1 < id2 {
		return id1, id2
	}

	return id2, id1
}

// PairKey hashes an unordered identity pair into a canonical set key.
//
// The pair is normalized first, so PairKey(a, b) == PairKey(b, a).
func PairKey(id1, id2 string) uint64 {
	lo, hi := NormalizePair(id1, id2)

	return xxh3.HashString(lo + "\x00" + hi)
}

// NormalizeAssignments deduplicates assignments by slot (last write wins),
// forces the given date onto every entry, and canonicalizes absent members to
// nil. The result is not sorted; see SortAssignments.
func NormalizeAssignments(assignments []Assignment, date string) []Assignment {
	bySlot := make(map[string]Assignment, len(assignments))
	order := make([]string, 0, len(assignments))

	for _, a := range assignments {
		a.AssignedDate = date
		if a.MemberID != nil && *a.MemberID == "" {
			a.MemberID = nil
		}

		key := a.SlotKey()
		if _, seen := bySlot[key]; !seen {
			order = append(order, key)
		}
		bySlot[key] = a
	}

	result := make([]Assignment, 0, len(bySlot))
	for _, key := range order {
		result = append(result, bySlot[key])
	}

	return result
}

// SortAssignments sorts assignments into the canonical stable order used for
// comparison and persistence: by team ID, then task label ID.
func SortAssignments(assignments []Assignment) {
	sort.SliceStable(assignments, func(i, j int) bool {
		if assignments[i].TeamID != assignments[j].TeamID {
			return assignments[i].TeamID < assignments[j].TeamID
		}

		return assignments[i].TaskLabelID < assignments[j].TaskLabelID
	})
}

// AssignmentsEqual compares two canonically sorted assignment sets by slot
// and member. Assigned dates are ignored; both sets are expected to carry the
// same date after normalization.
func AssignmentsEqual(a, b []Assignment) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i].TeamID != b[i].TeamID || a[i].TaskLabelID != b[i].TaskLabelID {
			return false
		}

		am, bm := a[i].MemberID, b[i].MemberID
		switch {
		case am == nil && bm == nil:
		case am == nil || bm == nil:
			return false
		case *am != *bm:
			return false
		}
	}

	return true
}

// ValidateDate checks that a date string is canonical YYYY-MM-DD.
func ValidateDate(date string) error {
	if _, err := time.Parse(DateFormat, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	return nil
}
