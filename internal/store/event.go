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

// EventUpdate is one observation from a shuffle event watch.
type EventUpdate struct {
	// Event is the current event document, or nil when the key was deleted
	// (the shuffle finished and was cleared, or never existed).
	Event *types.ShuffleEvent
}

// PublishEvent broadcasts a new shuffle event for its date.
//
// At most one live event may exist per date. A date whose stored event is
// still running inside its countdown window rejects the publish with
// types.ErrEventExists. A stored event that is done, or whose countdown
// expired without being cleared (a crashed or failed committer), is taken
// over by the new event.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - event: Fully populated event (date, ID, start, duration, result, state)
//
// Returns:
//   - error: types.ErrEventExists when a live event already occupies the date
func (s *Store) PublishEvent(ctx context.Context, event types.ShuffleEvent) error {
	if err := types.ValidateDate(event.Date); err != nil {
		return err
	}

	defer s.observe("event_publish", time.Now())

	data, err := marshal(event)
	if err != nil {
		return err
	}

	_, err = s.events.Create(ctx, event.Date, data)
	if err == nil {
		s.metrics.RecordEventPublished(event.Date)
		s.logger.Info("shuffle event published", "date", event.Date, "event_id", event.EventID)

		return nil
	}
	if !errors.Is(err, jetstream.ErrKeyExists) {
		return fmt.Errorf("failed to publish shuffle event for %s: %w", event.Date, err)
	}

	// A previous event occupies the key; take it over only if it is no
	// longer live.
	existing, revision, err := s.GetEvent(ctx, event.Date)
	if err != nil {
		if errors.Is(err, types.ErrEventNotFound) {
			// Deleted between Create and Get; one shot at the empty key.
			if _, err := s.events.Create(ctx, event.Date, data); err != nil {
				return fmt.Errorf("%w: date %s", types.ErrEventExists, event.Date)
			}
			s.metrics.RecordEventPublished(event.Date)

			return nil
		}

		return err
	}

	if existing.State == types.EventRunning && time.Now().Before(existing.EndsAt()) {
		return fmt.Errorf("%w: date %s", types.ErrEventExists, event.Date)
	}

	if _, err := s.events.Update(ctx, event.Date, data, revision); err != nil {
		if natsutil.IsWriteConflict(err) {
			return fmt.Errorf("%w: date %s", types.ErrEventExists, event.Date)
		}

		return fmt.Errorf("failed to replace stale shuffle event for %s: %w", event.Date, err)
	}

	s.metrics.RecordEventPublished(event.Date)
	s.logger.Info("shuffle event replaced stale predecessor",
		"date", event.Date, "event_id", event.EventID, "stale_event_id", existing.EventID)

	return nil
}

// GetEvent loads the current shuffle event for a date.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - date: Canonical YYYY-MM-DD date key
//
// Returns:
//   - types.ShuffleEvent: The stored event
//   - uint64: KV revision, for CAS on state advances
//   - error: types.ErrEventNotFound if no event exists for the date
func (s *Store) GetEvent(ctx context.Context, date string) (types.ShuffleEvent, uint64, error) {
	defer s.observe("event_get", time.Now())

	entry, err := s.events.Get(ctx, date)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return types.ShuffleEvent{}, 0, fmt.Errorf("%w: %s", types.ErrEventNotFound, date)
		}

		return types.ShuffleEvent{}, 0, fmt.Errorf("failed to get shuffle event for %s: %w", date, err)
	}

	var event types.ShuffleEvent
	if err := unmarshal(entry.Value(), &event); err != nil {
		return types.ShuffleEvent{}, 0, err
	}

	return event, entry.Revision(), nil
}

// AdvanceEventState moves a specific event to a new lifecycle state.
//
// The event ID must match the stored event; a publish that raced in between
// is left untouched and types.ErrEventNotFound is returned.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - date: Canonical YYYY-MM-DD date key
//   - eventID: ID the caller believes is stored
//   - state: Target state
//
// Returns:
//   - error: types.ErrEventNotFound if the event is gone or superseded
func (s *Store) AdvanceEventState(ctx context.Context, date, eventID string, state types.EventState) error {
	defer s.observe("event_advance", time.Now())

	event, revision, err := s.GetEvent(ctx, date)
	if err != nil {
		return err
	}
	if event.EventID != eventID {
		return fmt.Errorf("%w: %s superseded by %s", types.ErrEventNotFound, eventID, event.EventID)
	}
	if event.State == state {
		return nil
	}

	event.State = state

	data, err := marshal(event)
	if err != nil {
		return err
	}

	if _, err := s.events.Update(ctx, date, data, revision); err != nil {
		if natsutil.IsWriteConflict(err) {
			return fmt.Errorf("%w: %s superseded during state advance", types.ErrEventNotFound, eventID)
		}

		return fmt.Errorf("failed to advance shuffle event %s: %w", eventID, err)
	}

	s.logger.Debug("shuffle event state advanced", "date", date, "event_id", eventID, "state", state)

	return nil
}

// ClearEvent removes a finished event from its date key.
//
// Idempotent: a missing or already superseded event clears to nil.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - date: Canonical YYYY-MM-DD date key
//   - eventID: ID of the event to clear; other IDs are left in place
//
// Returns:
//   - error: KV error only; absence is not an error
func (s *Store) ClearEvent(ctx context.Context, date, eventID string) error {
	defer s.observe("event_clear", time.Now())

	event, _, err := s.GetEvent(ctx, date)
	if err != nil {
		if errors.Is(err, types.ErrEventNotFound) {
			return nil
		}

		return err
	}
	if event.EventID != eventID {
		return nil
	}

	if err := s.events.Delete(ctx, date); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to clear shuffle event %s: %w", eventID, err)
	}

	s.logger.Debug("shuffle event cleared", "date", date, "event_id", eventID)

	return nil
}

// WatchEvent subscribes to the shuffle event key of one date.
//
// The channel first delivers the current value (nil Event when there is
// none), then every subsequent put and delete, and closes when the context
// is cancelled. Payloads that fail to decode are skipped with a warning
// rather than tearing down the watch.
//
// Parameters:
//   - ctx: Context controlling the watch lifetime
//   - date: Canonical YYYY-MM-DD date key
//
// Returns:
//   - <-chan EventUpdate: Stream of event observations
//   - error: Validation or KV watcher setup error
func (s *Store) WatchEvent(ctx context.Context, date string) (<-chan EventUpdate, error) {
	if err := types.ValidateDate(date); err != nil {
		return nil, err
	}

	watcher, err := s.events.Watch(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to watch shuffle events for %s: %w", date, err)
	}

	updates := make(chan EventUpdate, 16)

	go func() {
		defer close(updates)
		defer func() { _ = watcher.Stop() }()

		// The watcher replays the current value first and marks the end of
		// the replay with a nil entry. An empty key therefore still yields
		// exactly one initial observation.
		sawInitial := false

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					if !sawInitial {
						sawInitial = true
						s.send(ctx, updates, EventUpdate{Event: nil})
					}

					continue
				}

				sawInitial = true

				if entry.Operation() == jetstream.KeyValueDelete || entry.Operation() == jetstream.KeyValuePurge {
					s.send(ctx, updates, EventUpdate{Event: nil})

					continue
				}

				var event types.ShuffleEvent
				if err := unmarshal(entry.Value(), &event); err != nil {
					s.logger.Warn("skipping undecodable shuffle event", "date", date, "error", err)

					continue
				}

				s.send(ctx, updates, EventUpdate{Event: &event})
			}
		}
	}()

	return updates, nil
}

// send delivers an update unless the watch context ended first.
func (s *Store) send(ctx context.Context, ch chan<- EventUpdate, update EventUpdate) {
	select {
	case ch <- update:
	case <-ctx.Done():
	}
}
