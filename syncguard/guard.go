// Package syncguard reconciles locally-pending edits with remote snapshots.
//
// A client that just wrote a change may, before the server acknowledges it,
// receive an older snapshot through its live subscription. Applying that
// snapshot naively would revert the client's own edit. The Guard tracks which
// top-level fields carry unconfirmed local values and merges incoming
// snapshots field by field until the server catches up or an ack timeout
// gives up on the stale write.
//
// The Guard never returns errors: its whole purpose is invisible
// reconciliation.
package syncguard

import (
	"sync"
	"time"

	"github.com/IKcoding-jp/rota/internal/logging"
	"github.com/IKcoding-jp/rota/internal/metrics"
	"github.com/IKcoding-jp/rota/types"
)

// Field identifies one top-level snapshot field that can be locked.
type Field string

const (
	// FieldAssignments covers the day's assignment set.
	FieldAssignments Field = "assignments"

	// FieldShuffleEvent covers the live shuffle event.
	FieldShuffleEvent Field = "shuffleEvent"
)

// Default timing tunables. The ack timeout is deliberately slightly longer
// than the write debounce so a write scheduled at the end of a debounce
// window still has time to land before the guard gives up on it.
const (
	DefaultDebounceInterval = 500 * time.Millisecond
	DefaultAckTimeout       = 750 * time.Millisecond
)

// Snapshot is the client-visible document the Guard protects: the current
// board plus the live shuffle event (nil when none is running).
type Snapshot struct {
	Assignments  []types.Assignment
	ShuffleEvent *types.ShuffleEvent
}

// clone returns an independent copy so callers cannot alias guard state.
func (s Snapshot) clone() Snapshot {
	out := Snapshot{}
	if s.Assignments != nil {
		out.Assignments = make([]types.Assignment, len(s.Assignments))
		copy(out.Assignments, s.Assignments)
	}
	if s.ShuffleEvent != nil {
		event := *s.ShuffleEvent
		out.ShuffleEvent = &event
	}

	return out
}

// Config tunes a Guard.
type Config struct {
	// DebounceInterval is how long the owner batches local edits before
	// writing. The guard itself does not schedule writes; the value is kept
	// here so the ack timeout default can be derived from it.
	DebounceInterval time.Duration

	// AckTimeout is how long locked fields survive without server catch-up
	// before the remote value wins (default: DebounceInterval + 250ms).
	AckTimeout time.Duration

	Logger  types.Logger
	Metrics types.MetricsCollector

	// Clock is injectable for deterministic tests (default time.Now).
	Clock func() time.Time
}

// Guard is the per-client reconciliation state for one date's document.
//
// All methods are safe for concurrent use.
type Guard struct {
	mu sync.Mutex

	local        Snapshot
	locked       map[Field]struct{}
	inFlight     int
	lastMutation time.Time

	debounce   time.Duration
	ackTimeout time.Duration
	clock      func() time.Time

	logger  types.Logger
	metrics types.MetricsCollector
}

// New creates a Guard seeded with an initial snapshot.
//
// Parameters:
//   - initial: Authoritative starting state (usually a fresh fetch)
//   - cfg: Tunables; zero values pick the defaults
//
// Returns:
//   - *Guard: Ready-to-use guard
func New(initial Snapshot, cfg Config) *Guard {
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultDebounceInterval
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = cfg.DebounceInterval + 250*time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Guard{
		local:      initial.clone(),
		locked:     make(map[Field]struct{}),
		debounce:   cfg.DebounceInterval,
		ackTimeout: cfg.AckTimeout,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// DebounceInterval returns the write batching interval the guard was tuned
// for.
func (g *Guard) DebounceInterval() time.Duration {
	return g.debounce
}

// Local returns a copy of the current client-visible snapshot.
func (g *Guard) Local() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.local.clone()
}

// LockedFields returns the fields currently protected from remote overwrite.
func (g *Guard) LockedFields() []Field {
	g.mu.Lock()
	defer g.mu.Unlock()

	fields := make([]Field, 0, len(g.locked))
	for field := range g.locked {
		fields = append(fields, field)
	}

	return fields
}

// InFlight returns the number of local writes awaiting acknowledgement.
func (g *Guard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.inFlight
}

// BeginMutation applies a local edit and locks the touched fields.
//
// The mutate callback receives the snapshot by pointer and edits it in
// place. The in-flight count is incremented and the mutation timestamp
// refreshed; the caller is expected to follow up with WriteSucceeded or
// WriteFailed once the corresponding write resolves.
//
// Parameters:
//   - mutate: In-place edit of the local snapshot
//   - fields: Fields the edit touched; they stay locked until catch-up,
//     timeout, or failure
//
// Returns:
//   - Snapshot: Copy of the post-edit local state
func (g *Guard) BeginMutation(mutate func(*Snapshot), fields ...Field) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	mutate(&g.local)
	for _, field := range fields {
		g.locked[field] = struct{}{}
	}
	g.inFlight++
	g.lastMutation = g.clock()

	g.logger.Debug("local mutation tracked", "locked", len(g.locked), "in_flight", g.inFlight)

	return g.local.clone()
}

// WriteSucceeded marks one in-flight write as acknowledged.
//
// Locks are not cleared here; they clear when the remote snapshot reflecting
// the write arrives (server catch-up) so an intervening stale snapshot still
// cannot revert the edit.
func (g *Guard) WriteSucceeded() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight > 0 {
		g.inFlight--
	}
}

// WriteFailed reports a failed save.
//
// All locks are dropped immediately: the optimistic local state is no longer
// defensible and the next remote snapshot (or an explicit Reset with a fresh
// fetch) becomes authoritative. The caller should re-fetch the document.
func (g *Guard) WriteFailed() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight > 0 {
		g.inFlight--
	}
	clear(g.locked)

	g.logger.Warn("local write failed, discarding optimistic state")
}

// Reset replaces the local state with an authoritative snapshot and clears
// every lock. Used after WriteFailed together with a fresh fetch.
func (g *Guard) Reset(snapshot Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.local = snapshot.clone()
	clear(g.locked)
	g.inFlight = 0
}

// ApplySnapshot merges a remote snapshot into the local state.
//
// If nothing is locked the remote snapshot applies outright. Otherwise the
// locked fields are compared against the remote values: matching values mean
// the server caught up, so locks clear and the snapshot applies. Mismatched
// values keep the local version for locked fields only, unless the ack
// timeout since the last local mutation has elapsed, in which case the
// remote value wins and locks clear.
//
// Parameters:
//   - remote: Incoming snapshot from the live subscription
//
// Returns:
//   - Snapshot: Copy of the merged client-visible state
func (g *Guard) ApplySnapshot(remote Snapshot) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.locked) == 0 {
		g.local = remote.clone()
		g.metrics.RecordGuardMerge("applied")

		return g.local.clone()
	}

	if g.lockedFieldsMatch(remote) {
		clear(g.locked)
		g.local = remote.clone()
		g.metrics.RecordGuardMerge("caught_up")
		g.logger.Debug("server caught up, locks cleared")

		return g.local.clone()
	}

	if g.clock().Sub(g.lastMutation) >= g.ackTimeout {
		// The write likely never landed; the remote value is the backstop.
		clear(g.locked)
		g.local = remote.clone()
		g.metrics.RecordGuardMerge("timed_out")
		g.logger.Warn("ack timeout elapsed, accepting remote snapshot", "timeout", g.ackTimeout)

		return g.local.clone()
	}

	// Field-level merge: locked fields keep local, the rest follow remote.
	merged := remote.clone()
	if _, ok := g.locked[FieldAssignments]; ok {
		merged.Assignments = g.local.clone().Assignments
	}
	if _, ok := g.locked[FieldShuffleEvent]; ok {
		merged.ShuffleEvent = g.local.clone().ShuffleEvent
	}
	g.local = merged
	g.metrics.RecordGuardMerge("merged")

	return g.local.clone()
}

// lockedFieldsMatch reports whether every locked field already has the same
// value remotely as locally.
func (g *Guard) lockedFieldsMatch(remote Snapshot) bool {
	if _, ok := g.locked[FieldAssignments]; ok {
		if !assignmentsMatch(g.local.Assignments, remote.Assignments) {
			return false
		}
	}
	if _, ok := g.locked[FieldShuffleEvent]; ok {
		if !eventsMatch(g.local.ShuffleEvent, remote.ShuffleEvent) {
			return false
		}
	}

	return true
}

// assignmentsMatch compares two assignment sets order-insensitively.
func assignmentsMatch(a, b []types.Assignment) bool {
	as := make([]types.Assignment, len(a))
	copy(as, a)
	bs := make([]types.Assignment, len(b))
	copy(bs, b)
	types.SortAssignments(as)
	types.SortAssignments(bs)

	return types.AssignmentsEqual(as, bs)
}

// eventsMatch compares two event references by identity and state.
func eventsMatch(a, b *types.ShuffleEvent) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.EventID == b.EventID && a.State == b.State
}
