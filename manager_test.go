package rota

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	rotatest "github.com/IKcoding-jp/rota/testing"
	"github.com/IKcoding-jp/rota/types"
)

func newTestManager(t *testing.T, nc *nats.Conn, mutate func(*Config)) *Manager {
	t.Helper()

	cfg := TestConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mgr, err := NewManager(t.Context(), &cfg, nc,
		WithLogger(rotatest.NewTestLogger(t)),
		WithRand(rand.New(rand.NewPCG(7, 11))),
	)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	return mgr
}

func seedRoster(t *testing.T, mgr *Manager) {
	t.Helper()

	ctx := t.Context()

	require.NoError(t, mgr.PutTeam(ctx, Team{ID: "team-a", Name: "A", Order: 0}))
	require.NoError(t, mgr.PutTeam(ctx, Team{ID: "team-b", Name: "B", Order: 1}))
	require.NoError(t, mgr.PutTaskLabel(ctx, TaskLabel{ID: "label-1", LeftLabel: "Open", Order: 0}))
	require.NoError(t, mgr.PutTaskLabel(ctx, TaskLabel{ID: "label-2", LeftLabel: "Close", Order: 1}))

	for i, seed := range []struct{ id, team string }{
		{"m1", "team-a"}, {"m2", "team-a"}, {"m3", "team-b"}, {"m4", "team-b"},
	} {
		require.NoError(t, mgr.PutMember(ctx, Member{
			ID: seed.id, Name: seed.id, TeamID: seed.team, Active: true, Order: i,
		}))
	}
}

func TestNewManager_Validation(t *testing.T) {
	t.Run("nil connection", func(t *testing.T) {
		cfg := TestConfig()
		_, err := NewManager(t.Context(), &cfg, nil)
		require.ErrorIs(t, err, ErrNATSConnectionRequired)
	})

	t.Run("unknown timezone", func(t *testing.T) {
		_, nc := rotatest.StartEmbeddedNATS(t)
		cfg := TestConfig()
		cfg.Timezone = "Mars/Olympus_Mons"
		_, err := NewManager(t.Context(), &cfg, nc)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("ack timeout below debounce", func(t *testing.T) {
		_, nc := rotatest.StartEmbeddedNATS(t)
		cfg := TestConfig()
		cfg.SyncGuard.DebounceInterval = 500 * time.Millisecond
		cfg.SyncGuard.AckTimeout = 100 * time.Millisecond
		_, err := NewManager(t.Context(), &cfg, nc)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestManager_ShuffleEndToEnd(t *testing.T) {
	_, nc := rotatest.StartEmbeddedNATS(t)
	mgr := newTestManager(t, nc, nil)
	seedRoster(t, mgr)
	ctx := t.Context()

	started := time.Now()
	outcome, err := mgr.Shuffle(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(started), mgr.cfg.ShuffleDuration,
		"the trigger waits out the full countdown before committing")

	require.NoError(t, types.ValidateDate(outcome.Date))
	require.Equal(t, 4, outcome.Stats.Slots, "2 teams x 2 labels")
	require.Len(t, outcome.Day.Assignments, 4)

	// Every slot carries a member of its own team, each used once.
	seen := map[string]bool{}
	for _, a := range outcome.Day.Assignments {
		require.True(t, a.HasMember())
		require.False(t, seen[*a.MemberID], "member assigned twice in one run")
		seen[*a.MemberID] = true
	}

	// The committed document is readable and the event is done.
	day, err := mgr.Board(ctx, outcome.Date)
	require.NoError(t, err)
	require.Equal(t, outcome.Day.Assignments, day.Assignments)

	event, err := mgr.LiveEvent(ctx, outcome.Date)
	require.NoError(t, err)
	require.Equal(t, outcome.Event.EventID, event.EventID)
	require.Equal(t, EventDone, event.State)

	histories, err := mgr.RecentHistory(ctx, 5)
	require.NoError(t, err)
	require.Len(t, histories, 1)
	require.Equal(t, outcome.Date, histories[0].TargetDate)

	// A done event does not block the next trigger.
	_, err = mgr.Shuffle(ctx)
	require.NoError(t, err)

	histories, err = mgr.RecentHistory(ctx, 5)
	require.NoError(t, err)
	require.Len(t, histories, 2)
}

func TestManager_ShuffleRejectedWhileEventRunning(t *testing.T) {
	_, nc := rotatest.StartEmbeddedNATS(t)
	mgr := newTestManager(t, nc, nil)
	seedRoster(t, mgr)
	ctx := t.Context()

	date, err := mgr.ResolveServerDate(ctx)
	require.NoError(t, err)

	// Another client's countdown is in progress.
	require.NoError(t, mgr.store.PublishEvent(ctx, types.ShuffleEvent{
		Date:       date,
		EventID:    "evt-other",
		StartedAt:  time.Now().UTC(),
		DurationMs: 10_000,
		State:      types.EventRunning,
	}))

	_, err = mgr.Shuffle(ctx)
	require.ErrorIs(t, err, ErrShuffleInProgress)
}

func TestManager_ObserverConvergence(t *testing.T) {
	_, nc := rotatest.StartEmbeddedNATS(t)

	longer := func(cfg *Config) { cfg.ShuffleDuration = 900 * time.Millisecond }
	trigger := newTestManager(t, nc, longer)
	watcher := newTestManager(t, nc, longer)
	seedRoster(t, trigger)
	ctx := t.Context()

	date, err := trigger.ResolveServerDate(ctx)
	require.NoError(t, err)

	type reveal struct {
		at    time.Time
		event ShuffleEvent
	}

	animatingA := make(chan time.Duration, 1)
	revealedA := make(chan reveal, 1)
	require.NoError(t, trigger.ObserveShuffles(ctx, date, ShuffleObserver{
		OnAnimating: func(_ ShuffleEvent, remaining time.Duration) { animatingA <- remaining },
		OnRevealed:  func(e ShuffleEvent) { revealedA <- reveal{at: time.Now(), event: e} },
	}))

	shuffleErr := make(chan error, 1)
	go func() {
		_, err := trigger.Shuffle(ctx)
		shuffleErr <- err
	}()

	// Observer A joins at the start of the countdown.
	select {
	case remaining := <-animatingA:
		require.Greater(t, remaining, 500*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("observer A never saw the event start")
	}

	// Observer B joins ~a third into the countdown; it must animate only
	// for the remaining time, not restart from the full duration.
	time.Sleep(300 * time.Millisecond)

	animatingB := make(chan time.Duration, 1)
	revealedB := make(chan reveal, 1)
	require.NoError(t, watcher.ObserveShuffles(ctx, date, ShuffleObserver{
		OnAnimating: func(_ ShuffleEvent, remaining time.Duration) { animatingB <- remaining },
		OnRevealed:  func(e ShuffleEvent) { revealedB <- reveal{at: time.Now(), event: e} },
	}))

	select {
	case remaining := <-animatingB:
		require.Less(t, remaining, 700*time.Millisecond, "late joiner animates only the leftover window")
	case <-time.After(5 * time.Second):
		t.Fatal("observer B never saw the running event")
	}

	var a, b reveal
	select {
	case a = <-revealedA:
	case <-time.After(5 * time.Second):
		t.Fatal("observer A never revealed")
	}
	select {
	case b = <-revealedB:
	case <-time.After(5 * time.Second):
		t.Fatal("observer B never revealed")
	}

	require.Equal(t, a.event.EventID, b.event.EventID)

	// Both converge on the same wall-clock instant, not on offsets relative
	// to when each observer joined.
	drift := a.at.Sub(b.at)
	if drift < 0 {
		drift = -drift
	}
	require.Less(t, drift, 300*time.Millisecond, "observers revealed %v apart", drift)

	ends := a.event.EndsAt()
	require.WithinDuration(t, ends, a.at, 400*time.Millisecond)
	require.WithinDuration(t, ends, b.at, 400*time.Millisecond)

	require.NoError(t, <-shuffleErr)
}

func TestManager_LateJoinerRevealsImmediately(t *testing.T) {
	_, nc := rotatest.StartEmbeddedNATS(t)
	mgr := newTestManager(t, nc, nil)
	ctx := t.Context()

	const date = "2026-09-01"

	// An event whose reveal instant passed while this client was away.
	require.NoError(t, mgr.store.PublishEvent(ctx, types.ShuffleEvent{
		Date:       date,
		EventID:    "evt-finished",
		StartedAt:  time.Now().UTC().Add(-2 * time.Second),
		DurationMs: 400,
		State:      types.EventRunning,
	}))

	animated := make(chan struct{}, 1)
	revealed := make(chan ShuffleEvent, 1)
	require.NoError(t, mgr.ObserveShuffles(ctx, date, ShuffleObserver{
		OnAnimating: func(ShuffleEvent, time.Duration) { animated <- struct{}{} },
		OnRevealed:  func(e ShuffleEvent) { revealed <- e },
	}))

	select {
	case e := <-revealed:
		require.Equal(t, "evt-finished", e.EventID)
	case <-time.After(5 * time.Second):
		t.Fatal("late joiner never revealed")
	}

	select {
	case <-animated:
		t.Fatal("late joiner must not re-animate a finished event")
	default:
	}

	require.Equal(t, PhaseRevealed, mgr.ObserverPhase(date))
}

func TestManager_ObserveShuffles_DuplicateDate(t *testing.T) {
	_, nc := rotatest.StartEmbeddedNATS(t)
	mgr := newTestManager(t, nc, nil)

	require.NoError(t, mgr.ObserveShuffles(t.Context(), "2026-09-01", ShuffleObserver{}))
	err := mgr.ObserveShuffles(t.Context(), "2026-09-01", ShuffleObserver{})
	require.ErrorIs(t, err, ErrAlreadyObserving)
}

func TestManager_SyncMemberTeams(t *testing.T) {
	_, nc := rotatest.StartEmbeddedNATS(t)
	mgr := newTestManager(t, nc, nil)
	seedRoster(t, mgr)
	ctx := t.Context()

	master, err := mgr.store.MasterData(ctx)
	require.NoError(t, err)

	// The committed board reveals m1 on a team-b slot.
	mgr.syncMemberTeams(ctx, master, []Assignment{
		{TeamID: "team-b", TaskLabelID: "label-1", MemberID: MemberRef("m1")},
	})

	members, err := mgr.Members(ctx)
	require.NoError(t, err)
	for _, member := range members {
		if member.ID == "m1" {
			require.Equal(t, "team-b", member.TeamID)
		}
	}
}

func TestManager_RemoveMember(t *testing.T) {
	_, nc := rotatest.StartEmbeddedNATS(t)
	mgr := newTestManager(t, nc, nil)
	seedRoster(t, mgr)
	ctx := t.Context()

	date, err := mgr.ResolveServerDate(ctx)
	require.NoError(t, err)

	_, err = mgr.MutateBoard(ctx, date, func([]Assignment) []Assignment {
		return []Assignment{{TeamID: "team-a", TaskLabelID: "label-1", MemberID: MemberRef("m1")}}
	})
	require.NoError(t, err)

	require.NoError(t, mgr.RemoveMember(ctx, "m1"))

	members, err := mgr.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 3)

	day, err := mgr.Board(ctx, date)
	require.NoError(t, err)
	require.Len(t, day.Assignments, 1)
	require.Nil(t, day.Assignments[0].MemberID, "removed member's slot stays, emptied")
}

func TestManager_Close(t *testing.T) {
	_, nc := rotatest.StartEmbeddedNATS(t)
	mgr := newTestManager(t, nc, nil)

	mgr.Close()
	mgr.Close() // idempotent

	_, err := mgr.Shuffle(t.Context())
	require.ErrorIs(t, err, ErrManagerClosed)

	err = mgr.ObserveShuffles(t.Context(), "2026-09-01", ShuffleObserver{})
	require.ErrorIs(t, err, ErrManagerClosed)
}
