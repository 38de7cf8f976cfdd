// Package store persists roster state in NATS JetStream KV buckets.
//
// Four buckets back the system: per-date assignment documents, ephemeral
// shuffle events, append-only shuffle history, and master data (teams,
// members, task labels, pair exclusions). All multi-writer paths use KV
// revisions for optimistic concurrency; a conflicting write restarts from a
// fresh read instead of clobbering the other writer.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/IKcoding-jp/rota/internal/logging"
	"github.com/IKcoding-jp/rota/internal/metrics"
	"github.com/IKcoding-jp/rota/types"
)

// Default tuning knobs, overridable via Config.
const (
	// DefaultMaxMutateRetries bounds the optimistic read-modify-write loop.
	DefaultMaxMutateRetries = 8

	// DefaultHistoryIndexCap bounds the newest-first history index key.
	DefaultHistoryIndexCap = 50
)

// Config describes the buckets and tunables for a Store.
//
// The KV handles are created by the caller (the Manager bootstraps them with
// kvutil.EnsureBucket; tests use the testing package helpers) so the store
// itself never owns the JetStream context.
type Config struct {
	// Days holds one AssignmentDay document per date key (YYYY-MM-DD).
	Days jetstream.KeyValue

	// Events holds at most one live ShuffleEvent per date key.
	Events jetstream.KeyValue

	// History holds immutable ShuffleHistory entries plus a newest-first index.
	History jetstream.KeyValue

	// Master holds teams, members, task labels and pair exclusions.
	Master jetstream.KeyValue

	// MaxMutateRetries bounds optimistic write retries (default 8).
	MaxMutateRetries int

	// HistoryIndexCap bounds the history index length (default 50).
	HistoryIndexCap int

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// Store is the JetStream-backed persistence layer.
//
// All methods are safe for concurrent use; per-key consistency comes from KV
// revisions, not from in-process locking.
type Store struct {
	days    jetstream.KeyValue
	events  jetstream.KeyValue
	history jetstream.KeyValue
	master  jetstream.KeyValue

	maxMutateRetries int
	historyIndexCap  int

	logger  types.Logger
	metrics types.MetricsCollector
}

// New creates a Store over the given buckets.
//
// Parameters:
//   - cfg: Bucket handles and tunables; nil Logger/Metrics default to nops
//
// Returns:
//   - *Store: Ready-to-use store instance
func New(cfg Config) *Store {
	if cfg.MaxMutateRetries <= 0 {
		cfg.MaxMutateRetries = DefaultMaxMutateRetries
	}
	if cfg.HistoryIndexCap <= 0 {
		cfg.HistoryIndexCap = DefaultHistoryIndexCap
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}

	return &Store{
		days:             cfg.Days,
		events:           cfg.Events,
		history:          cfg.History,
		master:           cfg.Master,
		maxMutateRetries: cfg.MaxMutateRetries,
		historyIndexCap:  cfg.HistoryIndexCap,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
	}
}

// observe records the duration of one KV operation.
//
// Usage: defer s.observe("day_get", time.Now())
func (s *Store) observe(operation string, start time.Time) {
	s.metrics.RecordKVOperationDuration(operation, time.Since(start).Seconds())
}

// marshal encodes a value as the canonical JSON wire form.
func marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}

	return data, nil
}

// unmarshal decodes a KV entry payload.
func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}

	return nil
}
