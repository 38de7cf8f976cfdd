package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IKcoding-jp/rota/types"
)

func appendHistories(t *testing.T, env *testEnv, n int) []types.ShuffleHistory {
	t.Helper()

	records := make([]types.ShuffleHistory, 0, n)
	for i := 0; i < n; i++ {
		record, err := env.store.AppendShuffleHistory(t.Context(), types.ShuffleHistory{
			TargetDate: "2026-09-01",
			Assignments: []types.Assignment{
				{TeamID: "team-a", TaskLabelID: "label-1", MemberID: types.MemberRef(fmt.Sprintf("m%d", i+1))},
			},
		})
		require.NoError(t, err)
		require.NotEmpty(t, record.ID)
		require.False(t, record.CreatedAt.IsZero(), "CreatedAt is server-assigned on append")
		records = append(records, record)
	}

	return records
}

func TestShuffleHistory_AppendAndRecent(t *testing.T) {
	env := newTestEnv(t)

	records := appendHistories(t, env, 3)

	recent, err := env.store.RecentShuffleHistory(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	// Newest first: the lookback window always sees the latest shuffles.
	require.Equal(t, records[2].ID, recent[0].ID)
	require.Equal(t, records[1].ID, recent[1].ID)
	require.Equal(t, "m3", *recent[0].Assignments[0].MemberID)
}

func TestShuffleHistory_RecentBeyondAvailable(t *testing.T) {
	env := newTestEnv(t)

	appendHistories(t, env, 2)

	recent, err := env.store.RecentShuffleHistory(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}

func TestShuffleHistory_FallbackScan(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	records := appendHistories(t, env, 3)

	// Drop the index key entirely; reads must transparently fall back to a
	// full scan ordered by server creation time.
	require.NoError(t, env.history.Delete(ctx, historyIndexKey))

	recent, err := env.store.RecentShuffleHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, records[2].ID, recent[0].ID)
	require.Equal(t, records[1].ID, recent[1].ID)
}

func TestShuffleHistory_StaleIndexFallsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	records := appendHistories(t, env, 2)

	// Corrupt the index with an entry that no longer exists.
	data, err := marshal(historyIndex{IDs: []string{"ghost", records[1].ID}})
	require.NoError(t, err)
	_, err = env.history.Put(ctx, historyIndexKey, data)
	require.NoError(t, err)

	recent, err := env.store.RecentShuffleHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, records[1].ID, recent[0].ID)
	require.Equal(t, records[0].ID, recent[1].ID)
}

func TestShuffleHistory_EmptyBucket(t *testing.T) {
	env := newTestEnv(t)

	recent, err := env.store.RecentShuffleHistory(t.Context(), 5)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestShuffleHistory_NonPositiveLimit(t *testing.T) {
	env := newTestEnv(t)

	appendHistories(t, env, 1)

	recent, err := env.store.RecentShuffleHistory(t.Context(), 0)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestShuffleHistory_InvalidDate(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.store.AppendShuffleHistory(t.Context(), types.ShuffleHistory{TargetDate: "today"})
	require.ErrorIs(t, err, types.ErrInvalidDate)
}

func TestShuffleHistory_IndexBounded(t *testing.T) {
	env := newTestEnv(t)
	env.store.historyIndexCap = 2

	appendHistories(t, env, 4)

	entry, err := env.history.Get(t.Context(), historyIndexKey)
	require.NoError(t, err)

	var index historyIndex
	require.NoError(t, unmarshal(entry.Value(), &index))
	require.Len(t, index.IDs, 2, "index stays bounded regardless of append count")
}
