package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/IKcoding-jp/rota/internal/natsutil"
	"github.com/IKcoding-jp/rota/types"
)

// Updater transforms the current assignment set of a date into the desired
// one. It receives a private copy and may mutate or replace it freely; the
// store normalizes and sorts whatever it returns before comparing/writing.
//
// An Updater may be called more than once when the optimistic write loses a
// revision race, so it must be side-effect free.
type Updater func(current []types.Assignment) []types.Assignment

// MutateResult reports the outcome of one MutateAssignmentDay call.
type MutateResult struct {
	// Day is the document as persisted (or as found, when Changed is false).
	Day types.AssignmentDay

	// Changed is false when the updater produced a set equal to what is
	// already stored and the write was skipped entirely.
	Changed bool
}

// GetAssignmentDay loads the assignment document for a date.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - date: Canonical YYYY-MM-DD date key
//
// Returns:
//   - types.AssignmentDay: The stored document
//   - error: types.ErrDayNotFound if no document exists for the date
func (s *Store) GetAssignmentDay(ctx context.Context, date string) (types.AssignmentDay, error) {
	defer s.observe("day_get", time.Now())

	day, _, err := s.getDay(ctx, date)

	return day, err
}

// getDay loads a day document plus its KV revision for CAS writes.
func (s *Store) getDay(ctx context.Context, date string) (types.AssignmentDay, uint64, error) {
	entry, err := s.days.Get(ctx, date)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return types.AssignmentDay{}, 0, fmt.Errorf("%w: %s", types.ErrDayNotFound, date)
		}

		return types.AssignmentDay{}, 0, fmt.Errorf("failed to get assignment day %s: %w", date, err)
	}

	var day types.AssignmentDay
	if err := unmarshal(entry.Value(), &day); err != nil {
		return types.AssignmentDay{}, 0, err
	}

	return day, entry.Revision(), nil
}

// MutateAssignmentDay applies an updater to a date's document under
// optimistic concurrency.
//
// Each attempt reads the current document (treating a missing one as empty),
// runs the updater on a copy, then normalizes the result: duplicate
// (team, label) slots collapse to the last write, every entry is stamped with
// the target date, empty member IDs become explicit absence, and the set is
// sorted into canonical order. If the normalized result equals what is
// already stored, no write is issued and Changed is false. Otherwise the
// document is created or updated against the read revision; a revision
// conflict restarts the attempt from a fresh read.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - date: Canonical YYYY-MM-DD date key
//   - update: Pure transformation of the current assignment set
//
// Returns:
//   - MutateResult: Persisted document and whether a write happened
//   - error: types.ErrInvalidDate, types.ErrMutateConflictExhausted, or a KV error
//
// Example:
//
//	result, err := store.MutateAssignmentDay(ctx, "2026-09-01", func(current []types.Assignment) []types.Assignment {
//	    return append(current, newAssignment)
//	})
func (s *Store) MutateAssignmentDay(ctx context.Context, date string, update Updater) (MutateResult, error) {
	if err := types.ValidateDate(date); err != nil {
		return MutateResult{}, err
	}

	defer s.observe("day_mutate", time.Now())

	for attempt := 0; attempt < s.maxMutateRetries; attempt++ {
		select {
		case <-ctx.Done():
			return MutateResult{}, ctx.Err()
		default:
		}

		current, revision, err := s.getDay(ctx, date)
		exists := true

		switch {
		case errors.Is(err, types.ErrDayNotFound):
			exists = false
			current = types.AssignmentDay{Date: date}
		case err != nil:
			return MutateResult{}, err
		}

		next := update(cloneAssignments(current.Assignments))
		next = types.NormalizeAssignments(next, date)
		types.SortAssignments(next)

		stored := cloneAssignments(current.Assignments)
		types.SortAssignments(stored)

		if exists && types.AssignmentsEqual(stored, next) {
			s.metrics.RecordMutate(false)
			s.logger.Debug("assignment mutation skipped, no change", "date", date)

			return MutateResult{Day: current, Changed: false}, nil
		}

		now := time.Now().UTC()
		day := types.AssignmentDay{
			Date:        date,
			Assignments: next,
			CreatedAt:   current.CreatedAt,
			UpdatedAt:   now,
		}
		if !exists {
			day.CreatedAt = now
		}

		data, err := marshal(day)
		if err != nil {
			return MutateResult{}, err
		}

		if exists {
			_, err = s.days.Update(ctx, date, data, revision)
		} else {
			_, err = s.days.Create(ctx, date, data)
		}

		if err == nil {
			s.metrics.RecordMutate(true)
			s.logger.Debug("assignment day written", "date", date, "slots", len(next), "created", !exists)

			return MutateResult{Day: day, Changed: true}, nil
		}

		if natsutil.IsWriteConflict(err) {
			s.metrics.RecordMutateConflict()
			s.logger.Debug("assignment write conflict, retrying", "date", date, "attempt", attempt+1)

			continue
		}

		return MutateResult{}, fmt.Errorf("failed to write assignment day %s: %w", date, err)
	}

	return MutateResult{}, fmt.Errorf("%w: %s after %d attempts", types.ErrMutateConflictExhausted, date, s.maxMutateRetries)
}

// EnsureAssignmentDay lazily creates the document for a date.
//
// If the document already exists it is returned as-is. Otherwise the board is
// seeded from the most recent prior day (re-dated, members kept) so a board
// carries over between days; with no prior day at all, an empty
// (team x label) grid is built from master data. Concurrent bootstraps race
// on the KV create and the loser adopts the winner's document.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - date: Canonical YYYY-MM-DD date key
//
// Returns:
//   - types.AssignmentDay: Existing or freshly created document
//   - error: Validation or KV error
func (s *Store) EnsureAssignmentDay(ctx context.Context, date string) (types.AssignmentDay, error) {
	if err := types.ValidateDate(date); err != nil {
		return types.AssignmentDay{}, err
	}

	day, _, err := s.getDay(ctx, date)
	if err == nil {
		return day, nil
	}
	if !errors.Is(err, types.ErrDayNotFound) {
		return types.AssignmentDay{}, err
	}

	seed, err := s.seedAssignments(ctx, date)
	if err != nil {
		return types.AssignmentDay{}, err
	}

	result, err := s.MutateAssignmentDay(ctx, date, func(current []types.Assignment) []types.Assignment {
		if len(current) > 0 {
			// Another client bootstrapped the date first.
			return current
		}

		return seed
	})
	if err != nil {
		return types.AssignmentDay{}, err
	}

	return result.Day, nil
}

// seedAssignments builds the initial board for a new date: the latest prior
// day's board re-dated, or an empty grid from master data.
func (s *Store) seedAssignments(ctx context.Context, date string) ([]types.Assignment, error) {
	prior, err := s.latestDayBefore(ctx, date)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		s.logger.Debug("seeding assignment day from prior board", "date", date, "prior", prior.Date)

		return cloneAssignments(prior.Assignments), nil
	}

	teams, err := s.Teams(ctx)
	if err != nil {
		return nil, err
	}
	labels, err := s.TaskLabels(ctx)
	if err != nil {
		return nil, err
	}

	grid := make([]types.Assignment, 0, len(teams)*len(labels))
	for _, team := range teams {
		for _, label := range labels {
			grid = append(grid, types.Assignment{
				TeamID:       team.ID,
				TaskLabelID:  label.ID,
				MemberID:     nil,
				AssignedDate: date,
			})
		}
	}

	return grid, nil
}

// latestDayBefore returns the most recent day document strictly before the
// given date, or nil when none exists. Date keys sort lexically in
// chronological order, so a plain key scan suffices.
func (s *Store) latestDayBefore(ctx context.Context, date string) (*types.AssignmentDay, error) {
	defer s.observe("day_scan", time.Now())

	lister, err := s.days.ListKeys(ctx)
	if err != nil {
		if types.IsNoKeysFoundError(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list assignment days: %w", err)
	}

	best := ""
	for key := range lister.Keys() {
		if key < date && key > best {
			best = key
		}
	}

	if best == "" {
		return nil, nil
	}

	day, _, err := s.getDay(ctx, best)
	if err != nil {
		if errors.Is(err, types.ErrDayNotFound) {
			return nil, nil
		}

		return nil, err
	}

	return &day, nil
}

// RemoveMemberAssignments clears every slot a member occupies on a date.
//
// Used when a member is deleted so the day's board does not keep referencing
// a missing identity. Slots stay present with an absent member. A date with
// no document is a no-op rather than a bootstrap.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - date: Canonical YYYY-MM-DD date key
//   - memberID: Member whose slots are cleared
//
// Returns:
//   - MutateResult: Changed is false when the member held no slot
//   - error: Validation or KV error
func (s *Store) RemoveMemberAssignments(ctx context.Context, date, memberID string) (MutateResult, error) {
	if _, err := s.GetAssignmentDay(ctx, date); err != nil {
		if errors.Is(err, types.ErrDayNotFound) {
			return MutateResult{}, nil
		}

		return MutateResult{}, err
	}

	return s.MutateAssignmentDay(ctx, date, func(current []types.Assignment) []types.Assignment {
		for i := range current {
			if current[i].MemberID != nil && *current[i].MemberID == memberID {
				current[i].MemberID = nil
			}
		}

		return current
	})
}

// cloneAssignments returns a deep-enough copy for updater isolation. Member
// pointers are re-pointed so the updater cannot alias stored values.
func cloneAssignments(assignments []types.Assignment) []types.Assignment {
	if assignments == nil {
		return nil
	}

	result := make([]types.Assignment, len(assignments))
	copy(result, assignments)
	for i := range result {
		if result[i].MemberID != nil {
			id := *result[i].MemberID
			result[i].MemberID = &id
		}
	}

	return result
}
