package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/IKcoding-jp/rota/internal/natsutil"
	"github.com/IKcoding-jp/rota/types"
)

const (
	historyEntryPrefix = "entries."
	historyIndexKey    = "index"
)

// historyIndex is the newest-first list of entry IDs kept under a single KV
// key so recent lookups avoid a full bucket scan. It is a best-effort cache:
// readers always fall back to scanning when it is missing or stale.
type historyIndex struct {
	IDs []string `json:"ids"`
}

// AppendShuffleHistory stores an immutable record of one executed shuffle.
//
// The entry's CreatedAt is server-assigned: it is read back from the KV
// entry metadata after the create, so clients with skewed clocks cannot
// reorder history. The newest-first index is then advanced under optimistic
// concurrency; an index that cannot be updated is left for the fallback scan
// and never fails the append.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - history: Record to store; a missing ID is filled with a fresh UUID
//
// Returns:
//   - types.ShuffleHistory: Stored record with ID and server CreatedAt set
//   - error: Validation or KV error
func (s *Store) AppendShuffleHistory(ctx context.Context, history types.ShuffleHistory) (types.ShuffleHistory, error) {
	if err := types.ValidateDate(history.TargetDate); err != nil {
		return types.ShuffleHistory{}, err
	}
	if history.ID == "" {
		history.ID = uuid.NewString()
	}

	defer s.observe("history_append", time.Now())

	data, err := marshal(history)
	if err != nil {
		return types.ShuffleHistory{}, err
	}

	key := historyEntryPrefix + history.ID

	revision, err := s.history.Create(ctx, key, data)
	if err != nil {
		return types.ShuffleHistory{}, fmt.Errorf("failed to append shuffle history %s: %w", history.ID, err)
	}

	entry, err := s.history.GetRevision(ctx, key, revision)
	if err != nil {
		return types.ShuffleHistory{}, fmt.Errorf("failed to read back shuffle history %s: %w", history.ID, err)
	}
	history.CreatedAt = entry.Created()

	if err := s.advanceHistoryIndex(ctx, history.ID); err != nil {
		s.logger.Warn("shuffle history index not advanced, readers will fall back to scan",
			"history_id", history.ID, "error", err)
	}

	s.logger.Debug("shuffle history appended", "history_id", history.ID, "target_date", history.TargetDate)

	return history, nil
}

// advanceHistoryIndex prepends an ID to the bounded newest-first index under
// a CAS loop.
func (s *Store) advanceHistoryIndex(ctx context.Context, id string) error {
	for attempt := 0; attempt < s.maxMutateRetries; attempt++ {
		var (
			index    historyIndex
			revision uint64
			exists   = true
		)

		entry, err := s.history.Get(ctx, historyIndexKey)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			exists = false
		case err != nil:
			return fmt.Errorf("failed to read history index: %w", err)
		default:
			revision = entry.Revision()
			if err := unmarshal(entry.Value(), &index); err != nil {
				// Corrupt index; rebuild from this entry onward.
				index = historyIndex{}
			}
		}

		index.IDs = append([]string{id}, index.IDs...)
		if len(index.IDs) > s.historyIndexCap {
			index.IDs = index.IDs[:s.historyIndexCap]
		}

		data, err := marshal(index)
		if err != nil {
			return err
		}

		if exists {
			_, err = s.history.Update(ctx, historyIndexKey, data, revision)
		} else {
			_, err = s.history.Create(ctx, historyIndexKey, data)
		}

		if err == nil {
			return nil
		}
		if natsutil.IsWriteConflict(err) {
			continue
		}

		return fmt.Errorf("failed to write history index: %w", err)
	}

	return fmt.Errorf("%w: history index", types.ErrMutateConflictExhausted)
}

// RecentShuffleHistory returns up to limit records, newest first.
//
// The index key serves the common case; when it is missing, stale, or points
// at removed entries, the reader silently falls back to a full bucket scan
// sorted by server creation time. The fallback path never raises: an empty
// or unreadable bucket yields an empty slice.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - limit: Maximum number of records (non-positive means none)
//
// Returns:
//   - []types.ShuffleHistory: Newest-first records, possibly empty
//   - error: Connectivity-level KV errors only
func (s *Store) RecentShuffleHistory(ctx context.Context, limit int) ([]types.ShuffleHistory, error) {
	if limit <= 0 {
		return nil, nil
	}

	defer s.observe("history_recent", time.Now())

	records, ok, err := s.recentFromIndex(ctx, limit)
	if err != nil {
		return nil, err
	}
	if ok {
		return records, nil
	}

	return s.recentFromScan(ctx, limit)
}

// recentFromIndex serves the read via the index key. ok is false when the
// index is absent or cannot satisfy the request, signalling the caller to
// fall back.
func (s *Store) recentFromIndex(ctx context.Context, limit int) ([]types.ShuffleHistory, bool, error) {
	entry, err := s.history.Get(ctx, historyIndexKey)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to read history index: %w", err)
	}

	var index historyIndex
	if err := unmarshal(entry.Value(), &index); err != nil {
		return nil, false, nil
	}

	ids := index.IDs
	if len(ids) > limit {
		ids = ids[:limit]
	}

	records := make([]types.ShuffleHistory, 0, len(ids))
	for _, id := range ids {
		record, err := s.getHistoryEntry(ctx, id)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				// Index points at a removed entry; the scan is authoritative.
				return nil, false, nil
			}

			return nil, false, err
		}

		records = append(records, record)
	}

	return records, true, nil
}

// recentFromScan lists every entry and sorts by server creation time.
func (s *Store) recentFromScan(ctx context.Context, limit int) ([]types.ShuffleHistory, error) {
	lister, err := s.history.ListKeys(ctx)
	if err != nil {
		if types.IsNoKeysFoundError(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list shuffle history: %w", err)
	}

	var records []types.ShuffleHistory

	for key := range lister.Keys() {
		if !strings.HasPrefix(key, historyEntryPrefix) {
			continue
		}

		record, err := s.getHistoryEntry(ctx, strings.TrimPrefix(key, historyEntryPrefix))
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}

			return nil, err
		}

		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// getHistoryEntry loads one record, stamping CreatedAt from entry metadata.
func (s *Store) getHistoryEntry(ctx context.Context, id string) (types.ShuffleHistory, error) {
	entry, err := s.history.Get(ctx, historyEntryPrefix+id)
	if err != nil {
		return types.ShuffleHistory{}, err
	}

	var record types.ShuffleHistory
	if err := unmarshal(entry.Value(), &record); err != nil {
		return types.ShuffleHistory{}, err
	}
	record.CreatedAt = entry.Created()

	return record, nil
}
