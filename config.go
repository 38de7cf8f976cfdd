package rota

import (
	"fmt"
	"time"
)

// KVBucketConfig configures NATS JetStream KV bucket names and TTLs.
type KVBucketConfig struct {
	// DayBucket holds one AssignmentDay document per date.
	DayBucket string `yaml:"dayBucket"`

	// EventBucket holds at most one live ShuffleEvent per date.
	EventBucket string `yaml:"eventBucket"`

	// HistoryBucket holds immutable ShuffleHistory entries.
	HistoryBucket string `yaml:"historyBucket"`

	// MasterBucket holds teams, members, task labels and pair exclusions.
	MasterBucket string `yaml:"masterBucket"`

	// EventTTL is how long event keys live without being cleared
	// (0 = no expiration). Events are normally cleared explicitly; the TTL
	// is a safety net against abandoned keys.
	EventTTL time.Duration `yaml:"eventTtl"`

	// HistoryTTL is how long history entries are retained
	// (0 = no expiration). Lookback only needs the newest few entries, so
	// bounded retention is safe.
	HistoryTTL time.Duration `yaml:"historyTtl"`
}

// SyncGuardConfig tunes the client-side reconciliation heuristics.
//
// The ack-timeout "give up and accept remote" branch is the correctness
// backstop, not the common path; both constants are deliberately exposed as
// tunables.
type SyncGuardConfig struct {
	// DebounceInterval is how long local edits are batched before writing.
	DebounceInterval time.Duration `yaml:"debounceInterval"`

	// AckTimeout is how long a locked field survives without server
	// catch-up. Must be >= DebounceInterval so a write scheduled at the end
	// of a debounce window can still land in time.
	AckTimeout time.Duration `yaml:"ackTimeout"`
}

// Config is the configuration for the Manager.
//
// All duration fields accept standard Go duration strings like "3s", "500ms".
type Config struct {
	// ShuffleDuration is the fixed visible countdown of a shuffle event.
	// Every observer converges on StartedAt + ShuffleDuration regardless of
	// when it joined.
	ShuffleDuration time.Duration `yaml:"shuffleDuration"`

	// LookbackShuffles is how many recent history entries feed the fairness
	// filters. Small by design to bound lookback cost.
	LookbackShuffles int `yaml:"lookbackShuffles"`

	// Timezone is the IANA zone the roster operates in; it decides which
	// calendar date a shuffle targets, independent of client clock skew.
	Timezone string `yaml:"timezone"`

	// OperationTimeout is the timeout for individual KV operations.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// MaxMutateRetries bounds the optimistic read-modify-write loop.
	MaxMutateRetries int `yaml:"maxMutateRetries"`

	// HistoryIndexCap bounds the newest-first history index key.
	HistoryIndexCap int `yaml:"historyIndexCap"`

	// KVBuckets controls NATS JetStream KV bucket configuration.
	KVBuckets KVBucketConfig `yaml:"kvBuckets"`

	// SyncGuard controls the client reconciliation tunables.
	SyncGuard SyncGuardConfig `yaml:"syncGuard"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		ShuffleDuration:  3000 * time.Millisecond,
		LookbackShuffles: 2,
		Timezone:         "UTC",
		OperationTimeout: 10 * time.Second,
		MaxMutateRetries: 8,
		HistoryIndexCap:  50,
		KVBuckets: KVBucketConfig{
			DayBucket:     "rota-days",
			EventBucket:   "rota-events",
			HistoryBucket: "rota-history",
			MasterBucket:  "rota-master",
			EventTTL:      24 * time.Hour,
			HistoryTTL:    0, // keep full history; lookback reads the newest entries
		},
		SyncGuard: SyncGuardConfig{
			DebounceInterval: 500 * time.Millisecond,
			AckTimeout:       750 * time.Millisecond,
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.ShuffleDuration == 0 {
		cfg.ShuffleDuration = defaults.ShuffleDuration
	}
	if cfg.LookbackShuffles == 0 {
		cfg.LookbackShuffles = defaults.LookbackShuffles
	}
	if cfg.Timezone == "" {
		cfg.Timezone = defaults.Timezone
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.MaxMutateRetries == 0 {
		cfg.MaxMutateRetries = defaults.MaxMutateRetries
	}
	if cfg.HistoryIndexCap == 0 {
		cfg.HistoryIndexCap = defaults.HistoryIndexCap
	}
	if cfg.KVBuckets.DayBucket == "" {
		cfg.KVBuckets.DayBucket = defaults.KVBuckets.DayBucket
	}
	if cfg.KVBuckets.EventBucket == "" {
		cfg.KVBuckets.EventBucket = defaults.KVBuckets.EventBucket
	}
	if cfg.KVBuckets.HistoryBucket == "" {
		cfg.KVBuckets.HistoryBucket = defaults.KVBuckets.HistoryBucket
	}
	if cfg.KVBuckets.MasterBucket == "" {
		cfg.KVBuckets.MasterBucket = defaults.KVBuckets.MasterBucket
	}
	if cfg.KVBuckets.EventTTL == 0 {
		cfg.KVBuckets.EventTTL = defaults.KVBuckets.EventTTL
	}
	// HistoryTTL of 0 is valid (keep everything), so no default is applied.
	if cfg.SyncGuard.DebounceInterval == 0 {
		cfg.SyncGuard.DebounceInterval = defaults.SyncGuard.DebounceInterval
	}
	if cfg.SyncGuard.AckTimeout == 0 {
		// Slightly longer than the debounce so an end-of-window write can
		// still be acknowledged before the guard gives up on it.
		cfg.SyncGuard.AckTimeout = cfg.SyncGuard.DebounceInterval + 250*time.Millisecond
	}
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - ShuffleDuration > 0 (the reveal instant must be in the future)
//   - LookbackShuffles >= 0
//   - OperationTimeout > 0
//   - AckTimeout >= DebounceInterval (ack window covers the write schedule)
//   - Bucket names non-empty
//
// Returns:
//   - error: Validation error with clear explanation, nil if valid
func (cfg *Config) Validate() error {
	if cfg.ShuffleDuration <= 0 {
		return fmt.Errorf("ShuffleDuration must be > 0, got %v", cfg.ShuffleDuration)
	}

	if cfg.LookbackShuffles < 0 {
		return fmt.Errorf("LookbackShuffles must be >= 0, got %d", cfg.LookbackShuffles)
	}

	if cfg.OperationTimeout <= 0 {
		return fmt.Errorf("OperationTimeout must be > 0, got %v", cfg.OperationTimeout)
	}

	if cfg.SyncGuard.AckTimeout < cfg.SyncGuard.DebounceInterval {
		return fmt.Errorf(
			"SyncGuard.AckTimeout (%v) must be >= SyncGuard.DebounceInterval (%v) so in-flight writes can land",
			cfg.SyncGuard.AckTimeout, cfg.SyncGuard.DebounceInterval,
		)
	}

	for name, bucket := range map[string]string{
		"DayBucket":     cfg.KVBuckets.DayBucket,
		"EventBucket":   cfg.KVBuckets.EventBucket,
		"HistoryBucket": cfg.KVBuckets.HistoryBucket,
		"MasterBucket":  cfg.KVBuckets.MasterBucket,
	} {
		if bucket == "" {
			return fmt.Errorf("KVBuckets.%s must not be empty", name)
		}
	}

	return nil
}

// TestConfig returns a Config optimized for fast test execution.
//
// All defaults are preserved except timings, which are shortened so tests
// exercising full shuffle countdowns complete quickly.
//
// Example:
//
//	cfg := rota.TestConfig()
//	mgr, err := rota.NewManager(ctx, &cfg, conn)
func TestConfig() Config {
	cfg := DefaultConfig()

	// Fast timings for test execution
	cfg.ShuffleDuration = 400 * time.Millisecond // 7.5x faster
	cfg.OperationTimeout = 5 * time.Second
	cfg.SyncGuard.DebounceInterval = 50 * time.Millisecond
	cfg.SyncGuard.AckTimeout = 75 * time.Millisecond

	return cfg
}
