package rota

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/IKcoding-jp/rota/internal/kvutil"
	"github.com/IKcoding-jp/rota/internal/logging"
	"github.com/IKcoding-jp/rota/internal/metrics"
	"github.com/IKcoding-jp/rota/internal/store"
	"github.com/IKcoding-jp/rota/scheduler"
	"github.com/IKcoding-jp/rota/syncguard"
	"github.com/IKcoding-jp/rota/types"
)

// Manager is the entry point of the library: it owns the KV buckets, runs
// the shuffle protocol, and hosts per-date event observers.
//
// A Manager is safe for concurrent use. It does not own the NATS connection
// and never closes it.
type Manager struct {
	cfg      Config
	conn     *nats.Conn
	js       jetstream.JetStream
	store    *store.Store
	location *time.Location

	logger  types.Logger
	metrics types.MetricsCollector
	rand    scheduler.Source

	// runs tracks one live event observation per date.
	runs *xsync.Map[string, *observerRun]

	mu     sync.Mutex
	closed bool
}

// ShuffleOutcome reports a completed shuffle.
type ShuffleOutcome struct {
	// Date the shuffle targeted, resolved from the server clock.
	Date string

	// Event as published, including the shared start instant.
	Event ShuffleEvent

	// Stats from the fairness computation.
	Stats scheduler.Stats

	// Day is the committed assignment document.
	Day AssignmentDay
}

// MutateOutcome reports one board mutation.
type MutateOutcome struct {
	// Day is the document as persisted (or as found, when Changed is false).
	Day AssignmentDay

	// Changed is false when the mutation produced no difference and the
	// write was skipped.
	Changed bool
}

// ShuffleObserver receives the client-side view of one date's shuffle
// events. All callbacks are optional and are invoked from the observation
// goroutine; they must not block for long.
type ShuffleObserver struct {
	// OnAnimating fires when a live event starts (or is joined mid-flight)
	// with the time left until the shared reveal instant.
	OnAnimating func(event ShuffleEvent, remaining time.Duration)

	// OnRevealed fires exactly once per event at the shared reveal instant,
	// or immediately when the observer joins after it has passed.
	OnRevealed func(event ShuffleEvent)

	// OnCleared fires when the date's event is removed.
	OnCleared func()
}

// observerRun is the per-date finite-state machine for event observation.
type observerRun struct {
	mu        sync.Mutex
	eventID   string
	startedAt time.Time
	timer     *time.Timer
	phase     types.ObserverPhase
}

// NewManager creates a Manager and bootstraps its KV buckets.
//
// Parameters:
//   - ctx: Context for the bucket bootstrap
//   - cfg: Configuration (missing values are filled with defaults, then
//     validated; modified in place)
//   - conn: Established NATS connection (not owned; never closed)
//   - opts: Functional options (WithLogger, WithMetrics, WithRand)
//
// Returns:
//   - *Manager: Ready-to-use manager
//   - error: ErrNATSConnectionRequired, ErrInvalidConfig, or a KV error
//
// Example:
//
//	cfg := rota.DefaultConfig()
//	mgr, err := rota.NewManager(ctx, &cfg, conn, rota.WithLogger(logger))
func NewManager(ctx context.Context, cfg *Config, conn *nats.Conn, opts ...Option) (*Manager, error) {
	if conn == nil {
		return nil, types.ErrNATSConnectionRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", types.ErrInvalidConfig, cfg.Timezone)
	}

	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = logging.NewNop()
	}
	if options.metrics == nil {
		options.metrics = metrics.NewNop()
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	buckets, err := ensureBuckets(ctx, js, cfg.KVBuckets)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      *cfg,
		conn:     conn,
		js:       js,
		location: location,
		logger:   options.logger,
		metrics:  options.metrics,
		rand:     options.rand,
		runs:     xsync.NewMap[string, *observerRun](),
	}
	m.store = store.New(store.Config{
		Days:             buckets.days,
		Events:           buckets.events,
		History:          buckets.history,
		Master:           buckets.master,
		MaxMutateRetries: cfg.MaxMutateRetries,
		HistoryIndexCap:  cfg.HistoryIndexCap,
		Logger:           options.logger,
		Metrics:          options.metrics,
	})

	m.logger.Info("rota manager created",
		"timezone", cfg.Timezone, "shuffle_duration", cfg.ShuffleDuration, "lookback", cfg.LookbackShuffles)

	return m, nil
}

type bucketSet struct {
	days, events, history, master jetstream.KeyValue
}

func ensureBuckets(ctx context.Context, js jetstream.JetStream, cfg KVBucketConfig) (bucketSet, error) {
	var (
		set bucketSet
		err error
	)

	set.days, err = kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.DayBucket,
		Description: "rota per-date assignment documents",
		History:     1,
	}, 0)
	if err != nil {
		return bucketSet{}, err
	}

	set.events, err = kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.EventBucket,
		Description: "rota live shuffle events",
		TTL:         cfg.EventTTL,
		History:     1,
	}, 0)
	if err != nil {
		return bucketSet{}, err
	}

	set.history, err = kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.HistoryBucket,
		Description: "rota shuffle history",
		TTL:         cfg.HistoryTTL,
		History:     1,
	}, 0)
	if err != nil {
		return bucketSet{}, err
	}

	set.master, err = kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.MasterBucket,
		Description: "rota master data",
		History:     1,
	}, 0)
	if err != nil {
		return bucketSet{}, err
	}

	return set, nil
}

// opCtx derives a per-operation timeout context.
func (m *Manager) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.OperationTimeout)
}

func (m *Manager) checkOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.ErrManagerClosed
	}

	return nil
}

// Shuffle runs one full shuffle for today's server-resolved date.
//
// The flow: resolve the target date from the server clock, load master data
// and the lookback history, compute a fair assignment set, publish a running
// ShuffleEvent with a server start instant, wait until the shared reveal
// instant (StartedAt + duration, never a local countdown), commit the result
// into the day document, propagate member team moves, append the history
// record, and mark the event done.
//
// Exactly this flow commits; observers only render. A commit failure leaves
// the event running and surfaces ErrCommitFailed; the expected recovery is a
// later manual trigger, which takes over the stale event.
//
// Parameters:
//   - ctx: Context for the entire flow, including the countdown wait
//
// Returns:
//   - ShuffleOutcome: Target date, published event, scheduler stats, committed day
//   - error: ErrShuffleInProgress, ErrCommitFailed, or a transport error
func (m *Manager) Shuffle(ctx context.Context) (ShuffleOutcome, error) {
	if err := m.checkOpen(); err != nil {
		return ShuffleOutcome{}, err
	}

	date, err := m.ResolveServerDate(ctx)
	if err != nil {
		return ShuffleOutcome{}, err
	}

	opctx, cancel := m.opCtx(ctx)
	day, err := m.store.EnsureAssignmentDay(opctx, date)
	cancel()
	if err != nil {
		return ShuffleOutcome{}, err
	}

	opctx, cancel = m.opCtx(ctx)
	master, err := m.store.MasterData(opctx)
	cancel()
	if err != nil {
		return ShuffleOutcome{}, err
	}

	opctx, cancel = m.opCtx(ctx)
	histories, err := m.store.RecentShuffleHistory(opctx, m.cfg.LookbackShuffles)
	cancel()
	if err != nil {
		return ShuffleOutcome{}, err
	}

	lookback := make([][]types.Assignment, 0, len(histories))
	for _, h := range histories {
		lookback = append(lookback, h.Assignments)
	}

	src := m.rand
	if src == nil {
		src = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	result, stats := scheduler.ComputeWithSource(scheduler.Input{
		Teams:          master.Teams,
		TaskLabels:     master.TaskLabels,
		Members:        master.Members,
		History:        lookback,
		Current:        day.Assignments,
		PairExclusions: master.PairExclusions,
		TargetDate:     date,
	}, src)
	m.metrics.RecordShuffleComputed(stats.Slots, stats.RelaxedSlots)

	opctx, cancel = m.opCtx(ctx)
	startedAt, err := m.store.ServerNow(opctx)
	cancel()
	if err != nil {
		return ShuffleOutcome{}, err
	}

	event := types.ShuffleEvent{
		Date:       date,
		EventID:    uuid.NewString(),
		StartedAt:  startedAt,
		DurationMs: m.cfg.ShuffleDuration.Milliseconds(),
		Result:     result,
		State:      types.EventRunning,
	}

	opctx, cancel = m.opCtx(ctx)
	err = m.store.PublishEvent(opctx, event)
	cancel()
	if err != nil {
		if errors.Is(err, types.ErrEventExists) {
			return ShuffleOutcome{}, fmt.Errorf("%w: date %s", types.ErrShuffleInProgress, date)
		}

		return ShuffleOutcome{}, err
	}

	m.logger.Info("shuffle started",
		"date", date, "event_id", event.EventID, "slots", stats.Slots, "relaxed_slots", stats.RelaxedSlots)

	// The reveal instant is derived from the shared server start, not from
	// a local countdown, so every client converges on the same wall clock.
	if err := m.waitUntil(ctx, event.EndsAt()); err != nil {
		return ShuffleOutcome{}, err
	}

	committed, err := m.commitShuffle(ctx, event, master)
	if err != nil {
		m.metrics.RecordEventCommitted(date, false)
		m.logger.Error("shuffle commit failed, event left running",
			"date", date, "event_id", event.EventID, "error", err)

		return ShuffleOutcome{}, fmt.Errorf("%w: %w", types.ErrCommitFailed, err)
	}
	m.metrics.RecordEventCommitted(date, true)

	m.logger.Info("shuffle committed", "date", date, "event_id", event.EventID)

	return ShuffleOutcome{Date: date, Event: event, Stats: stats, Day: committed}, nil
}

// waitUntil sleeps until the given wall-clock instant.
func (m *Manager) waitUntil(ctx context.Context, deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// commitShuffle persists the event result: day document, member team moves,
// history record, event state.
func (m *Manager) commitShuffle(ctx context.Context, event types.ShuffleEvent, master store.MasterData) (types.AssignmentDay, error) {
	opctx, cancel := m.opCtx(ctx)
	resultCopy := event.Result
	mutation, err := m.store.MutateAssignmentDay(opctx, event.Date, func([]types.Assignment) []types.Assignment {
		return resultCopy
	})
	cancel()
	if err != nil {
		return types.AssignmentDay{}, err
	}

	// Best effort: a member revealed on another team's slot moves teams.
	m.syncMemberTeams(ctx, master, event.Result)

	opctx, cancel = m.opCtx(ctx)
	_, err = m.store.AppendShuffleHistory(opctx, types.ShuffleHistory{
		TargetDate:  event.Date,
		Assignments: event.Result,
	})
	cancel()
	if err != nil {
		return types.AssignmentDay{}, err
	}

	opctx, cancel = m.opCtx(ctx)
	err = m.store.AdvanceEventState(opctx, event.Date, event.EventID, types.EventDone)
	cancel()
	if err != nil {
		return types.AssignmentDay{}, err
	}

	return mutation.Day, nil
}

// syncMemberTeams updates master data for members whose committed slot
// belongs to a different team. Failures are logged, not propagated: the
// board is already committed and master data converges on the next shuffle.
func (m *Manager) syncMemberTeams(ctx context.Context, master store.MasterData, result []types.Assignment) {
	teamOf := make(map[string]string, len(master.Members))
	for _, member := range master.Members {
		teamOf[member.ID] = member.TeamID
	}

	for _, a := range result {
		if !a.HasMember() {
			continue
		}
		current, known := teamOf[*a.MemberID]
		if !known || current == a.TeamID {
			continue
		}

		opctx, cancel := m.opCtx(ctx)
		err := m.store.UpdateMemberTeam(opctx, *a.MemberID, a.TeamID)
		cancel()
		if err != nil {
			m.logger.Warn("member team move not persisted",
				"member_id", *a.MemberID, "team_id", a.TeamID, "error", err)

			continue
		}
		teamOf[*a.MemberID] = a.TeamID
	}
}

// ObserveShuffles watches one date's shuffle events until ctx is cancelled.
//
// The observer joins with the current state: a live event mid-countdown
// animates only for the remaining time; an event whose reveal instant has
// passed reveals immediately without re-animating. Repeated observations of
// the same event (same ID and start instant) never restart the countdown.
// Observers never commit.
//
// Parameters:
//   - ctx: Context controlling the observation lifetime
//   - date: Canonical YYYY-MM-DD date key
//   - observer: Callbacks for phase transitions
//
// Returns:
//   - error: ErrAlreadyObserving, validation, or watch setup error
func (m *Manager) ObserveShuffles(ctx context.Context, date string, observer ShuffleObserver) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := types.ValidateDate(date); err != nil {
		return err
	}

	run := &observerRun{phase: types.PhaseIdle}
	if _, loaded := m.runs.LoadOrStore(date, run); loaded {
		return fmt.Errorf("%w: %s", types.ErrAlreadyObserving, date)
	}

	updates, err := m.store.WatchEvent(ctx, date)
	if err != nil {
		m.runs.Delete(date)

		return err
	}

	go func() {
		defer func() {
			run.mu.Lock()
			if run.timer != nil {
				run.timer.Stop()
			}
			run.mu.Unlock()
			m.runs.Delete(date)
		}()

		for update := range updates {
			m.handleEventUpdate(run, observer, update.Event)
		}
	}()

	return nil
}

// ObserverPhase returns the current observation phase for a date.
func (m *Manager) ObserverPhase(date string) types.ObserverPhase {
	run, ok := m.runs.Load(date)
	if !ok {
		return types.PhaseIdle
	}

	run.mu.Lock()
	defer run.mu.Unlock()

	return run.phase
}

// handleEventUpdate advances one observer FSM for a single observation.
func (m *Manager) handleEventUpdate(run *observerRun, observer ShuffleObserver, event *types.ShuffleEvent) {
	run.mu.Lock()
	defer run.mu.Unlock()

	if event == nil {
		if run.timer != nil {
			run.timer.Stop()
			run.timer = nil
		}
		cleared := run.eventID != ""
		run.eventID = ""
		run.phase = types.PhaseIdle
		if cleared && observer.OnCleared != nil {
			observer.OnCleared()
		}

		return
	}

	if run.eventID == event.EventID && run.startedAt.Equal(event.StartedAt) {
		// Same event observed again (e.g. its done transition): the
		// countdown must not restart. Reveal happens via the armed timer.
		return
	}

	if run.timer != nil {
		run.timer.Stop()
		run.timer = nil
	}

	observed := *event
	run.eventID = observed.EventID
	run.startedAt = observed.StartedAt

	elapsed := time.Since(observed.StartedAt)
	m.metrics.RecordObserverJoin(elapsed.Seconds())

	if elapsed >= observed.Duration() {
		// Joined after the shared reveal instant: no animation.
		run.phase = types.PhaseRevealed
		if observer.OnRevealed != nil {
			observer.OnRevealed(observed)
		}

		return
	}

	run.phase = types.PhaseAnimating
	remaining := observed.Remaining(time.Now())
	if observer.OnAnimating != nil {
		observer.OnAnimating(observed, remaining)
	}

	run.timer = time.AfterFunc(remaining, func() {
		run.mu.Lock()
		defer run.mu.Unlock()

		if run.eventID != observed.EventID || run.phase != types.PhaseAnimating {
			return
		}
		run.phase = types.PhaseRevealed
		if observer.OnRevealed != nil {
			observer.OnRevealed(observed)
		}
	})
}

// ResolveServerDate returns today's date from the server clock in the
// configured timezone.
func (m *Manager) ResolveServerDate(ctx context.Context) (string, error) {
	opctx, cancel := m.opCtx(ctx)
	defer cancel()

	return m.store.ResolveServerDate(opctx, m.location)
}

// Board returns the assignment document for a date, creating it lazily from
// the most recent prior board or an empty (team x label) grid.
func (m *Manager) Board(ctx context.Context, date string) (AssignmentDay, error) {
	opctx, cancel := m.opCtx(ctx)
	defer cancel()

	return m.store.EnsureAssignmentDay(opctx, date)
}

// MutateBoard applies an updater to a date's document under optimistic
// concurrency; see the store semantics for normalization and the
// changed=false short-circuit.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - date: Canonical YYYY-MM-DD date key
//   - update: Pure transformation of the current assignment set
//
// Returns:
//   - MutateOutcome: Persisted document and whether a write happened
//   - error: ErrInvalidDate, ErrMutateConflictExhausted, or a KV error
func (m *Manager) MutateBoard(ctx context.Context, date string, update func(current []Assignment) []Assignment) (MutateOutcome, error) {
	opctx, cancel := m.opCtx(ctx)
	defer cancel()

	result, err := m.store.MutateAssignmentDay(opctx, date, store.Updater(update))
	if err != nil {
		return MutateOutcome{}, err
	}

	return MutateOutcome{Day: result.Day, Changed: result.Changed}, nil
}

// RecentHistory returns up to limit shuffle history records, newest first.
func (m *Manager) RecentHistory(ctx context.Context, limit int) ([]ShuffleHistory, error) {
	opctx, cancel := m.opCtx(ctx)
	defer cancel()

	return m.store.RecentShuffleHistory(opctx, limit)
}

// LiveEvent returns the current shuffle event for a date, if any.
func (m *Manager) LiveEvent(ctx context.Context, date string) (ShuffleEvent, error) {
	opctx, cancel := m.opCtx(ctx)
	defer cancel()

	event, _, err := m.store.GetEvent(opctx, date)

	return event, err
}

// NewGuard creates a client sync guard tuned from this manager's config.
func (m *Manager) NewGuard(initial syncguard.Snapshot) *syncguard.Guard {
	return syncguard.New(initial, syncguard.Config{
		DebounceInterval: m.cfg.SyncGuard.DebounceInterval,
		AckTimeout:       m.cfg.SyncGuard.AckTimeout,
		Logger:           m.logger,
		Metrics:          m.metrics,
	})
}

// Teams returns all teams sorted by display order.
func (m *Manager) Teams(ctx context.Context) ([]Team, error) {
	opctx, cancel := m.opCtx(ctx)
	defer cancel()

	return m.store.Teams(opctx)
}

// Members returns all members sorted by display order.
func (m *Manager) Members(ctx context.Context) ([]Member, error) {
	opctx, cancel := m.opCtx(ctx)
	defer cancel()

	return m.store.Members(opctx)
}

// TaskLabels returns all task labels sorted by display order.
func (m *Manager) TaskLabels(ctx context.Context) ([]TaskLabel, error) {
	opctx, cancel := m.opCtx(ctx)
	defer cancel()

	return m.store.TaskLabels(opctx)
}

// PairExclusions returns all pair exclusion rules, normalized.
func (m *Manager) PairExclusions(ctx context.Context) ([]PairExclusion, error) {
	opctx, cancel := m.opCtx(ctx)
	defer cancel()

	return m.store.PairExclusions(opctx)
}

// PutTeam stores or replaces a team record.
func (m *Manager) PutTeam(ctx context.Context, team Team) error {
	opctx, cancel := m.opCtx(ctx)
	defer cancel()

	return m.store.PutTeam(opctx, team)
}

// PutMember stores or replaces a member record.
func (m *Manager) PutMember(ctx context.Context, member Member) error {
	opctx, cancel := m.opCtx(ctx)
	defer cancel()

	return m.store.PutMember(opctx, member)
}

// PutTaskLabel stores or replaces a task label record.
func (m *Manager) PutTaskLabel(ctx context.Context, label TaskLabel) error {
	opctx, cancel := m.opCtx(ctx)
	defer cancel()

	return m.store.PutTaskLabel(opctx, label)
}

// PutPairExclusion stores or replaces a pair exclusion rule.
func (m *Manager) PutPairExclusion(ctx context.Context, pair PairExclusion) error {
	opctx, cancel := m.opCtx(ctx)
	defer cancel()

	return m.store.PutPairExclusion(opctx, pair)
}

// UpdateMemberExclusions replaces a member's excluded task label set.
func (m *Manager) UpdateMemberExclusions(ctx context.Context, memberID string, taskLabelIDs []string) error {
	opctx, cancel := m.opCtx(ctx)
	defer cancel()

	return m.store.UpdateMemberExclusions(opctx, memberID, taskLabelIDs)
}

// RemoveMember deletes a member and clears the slots it holds on today's
// board, leaving the slots present with absent members.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - memberID: Member to remove
//
// Returns:
//   - error: KV error from either step
func (m *Manager) RemoveMember(ctx context.Context, memberID string) error {
	date, err := m.ResolveServerDate(ctx)
	if err != nil {
		return err
	}

	opctx, cancel := m.opCtx(ctx)
	err = m.store.DeleteMember(opctx, memberID)
	cancel()
	if err != nil {
		return err
	}

	opctx, cancel = m.opCtx(ctx)
	_, err = m.store.RemoveMemberAssignments(opctx, date, memberID)
	cancel()
	if err != nil && !errors.Is(err, types.ErrDayNotFound) {
		return err
	}

	return nil
}

// Close marks the manager closed and stops its observer timers.
//
// The NATS connection is left open for the caller. Close is idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return
	}
	m.closed = true
	m.mu.Unlock()

	m.runs.Range(func(date string, run *observerRun) bool {
		run.mu.Lock()
		if run.timer != nil {
			run.timer.Stop()
			run.timer = nil
		}
		run.phase = types.PhaseIdle
		run.mu.Unlock()

		return true
	})

	m.logger.Info("rota manager closed")
}
