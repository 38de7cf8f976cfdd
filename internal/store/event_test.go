package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/IKcoding-jp/rota/types"
)

func testEvent(date string, startedAt time.Time) types.ShuffleEvent {
	return types.ShuffleEvent{
		Date:       date,
		EventID:    uuid.NewString(),
		StartedAt:  startedAt,
		DurationMs: 3000,
		Result: []types.Assignment{
			{TeamID: "team-a", TaskLabelID: "label-1", MemberID: types.MemberRef("m1"), AssignedDate: date},
		},
		State: types.EventRunning,
	}
}

func TestPublishEvent_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	const date = "2026-09-01"

	event := testEvent(date, time.Now().UTC())
	require.NoError(t, env.store.PublishEvent(ctx, event))

	stored, _, err := env.store.GetEvent(ctx, date)
	require.NoError(t, err)
	require.Equal(t, event.EventID, stored.EventID)
	require.Equal(t, types.EventRunning, stored.State)

	// A second publish while the countdown runs is rejected.
	err = env.store.PublishEvent(ctx, testEvent(date, time.Now().UTC()))
	require.ErrorIs(t, err, types.ErrEventExists)

	require.NoError(t, env.store.AdvanceEventState(ctx, date, event.EventID, types.EventDone))

	stored, _, err = env.store.GetEvent(ctx, date)
	require.NoError(t, err)
	require.Equal(t, types.EventDone, stored.State)

	// A done event no longer blocks the date.
	next := testEvent(date, time.Now().UTC())
	require.NoError(t, env.store.PublishEvent(ctx, next))

	require.NoError(t, env.store.ClearEvent(ctx, date, next.EventID))
	_, _, err = env.store.GetEvent(ctx, date)
	require.ErrorIs(t, err, types.ErrEventNotFound)

	// Clearing again is a no-op.
	require.NoError(t, env.store.ClearEvent(ctx, date, next.EventID))
}

func TestPublishEvent_TakesOverExpiredEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	const date = "2026-09-01"

	// A running event whose countdown ended long ago: the committer crashed
	// or its commit failed. A fresh trigger must be able to take the date.
	stale := testEvent(date, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, env.store.PublishEvent(ctx, stale))

	fresh := testEvent(date, time.Now().UTC())
	require.NoError(t, env.store.PublishEvent(ctx, fresh))

	stored, _, err := env.store.GetEvent(ctx, date)
	require.NoError(t, err)
	require.Equal(t, fresh.EventID, stored.EventID)
}

func TestAdvanceEventState_Superseded(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	const date = "2026-09-01"

	event := testEvent(date, time.Now().UTC())
	require.NoError(t, env.store.PublishEvent(ctx, event))

	err := env.store.AdvanceEventState(ctx, date, "some-other-event", types.EventDone)
	require.ErrorIs(t, err, types.ErrEventNotFound)

	// A superseded clear leaves the live event alone.
	require.NoError(t, env.store.ClearEvent(ctx, date, "some-other-event"))
	_, _, err = env.store.GetEvent(ctx, date)
	require.NoError(t, err)
}

func nextUpdate(t *testing.T, updates <-chan EventUpdate) EventUpdate {
	t.Helper()

	select {
	case update, ok := <-updates:
		require.True(t, ok, "watch channel closed unexpectedly")

		return update
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event update")

		return EventUpdate{}
	}
}

func TestWatchEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	const date = "2026-09-01"

	updates, err := env.store.WatchEvent(ctx, date)
	require.NoError(t, err)

	// Initial observation: no event yet.
	require.Nil(t, nextUpdate(t, updates).Event)

	event := testEvent(date, time.Now().UTC())
	require.NoError(t, env.store.PublishEvent(ctx, event))

	update := nextUpdate(t, updates)
	require.NotNil(t, update.Event)
	require.Equal(t, event.EventID, update.Event.EventID)
	require.Equal(t, types.EventRunning, update.Event.State)

	require.NoError(t, env.store.AdvanceEventState(ctx, date, event.EventID, types.EventDone))

	update = nextUpdate(t, updates)
	require.NotNil(t, update.Event)
	require.Equal(t, types.EventDone, update.Event.State)

	require.NoError(t, env.store.ClearEvent(ctx, date, event.EventID))
	require.Nil(t, nextUpdate(t, updates).Event)
}

func TestWatchEvent_JoinsWithCurrentValue(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	const date = "2026-09-01"

	event := testEvent(date, time.Now().UTC())
	require.NoError(t, env.store.PublishEvent(ctx, event))

	// A late subscriber sees the live event as its first observation.
	updates, err := env.store.WatchEvent(ctx, date)
	require.NoError(t, err)

	update := nextUpdate(t, updates)
	require.NotNil(t, update.Event)
	require.Equal(t, event.EventID, update.Event.EventID)
}
