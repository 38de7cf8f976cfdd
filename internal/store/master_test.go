package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IKcoding-jp/rota/types"
)

func TestMasterData_SortedReaders(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	require.NoError(t, env.store.PutTeam(ctx, types.Team{ID: "team-z", Name: "Z", Order: 1}))
	require.NoError(t, env.store.PutTeam(ctx, types.Team{ID: "team-a", Name: "A", Order: 2}))
	require.NoError(t, env.store.PutTeam(ctx, types.Team{ID: "team-m", Name: "M", Order: 0}))

	require.NoError(t, env.store.PutTaskLabel(ctx, types.TaskLabel{ID: "label-2", LeftLabel: "Close", Order: 1}))
	require.NoError(t, env.store.PutTaskLabel(ctx, types.TaskLabel{ID: "label-1", LeftLabel: "Open", Order: 0}))

	require.NoError(t, env.store.PutMember(ctx, types.Member{ID: "m2", TeamID: "team-z", Active: true, Order: 1}))
	require.NoError(t, env.store.PutMember(ctx, types.Member{ID: "m1", TeamID: "team-m", Active: true, Order: 0}))

	data, err := env.store.MasterData(ctx)
	require.NoError(t, err)

	require.Equal(t, []string{"team-m", "team-z", "team-a"}, teamIDs(data.Teams))
	require.Equal(t, "label-1", data.TaskLabels[0].ID)
	require.Equal(t, "m1", data.Members[0].ID)
	require.Empty(t, data.PairExclusions)
}

func teamIDs(teams []types.Team) []string {
	ids := make([]string, len(teams))
	for i, team := range teams {
		ids[i] = team.ID
	}

	return ids
}

func TestPutPairExclusion_Normalized(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	require.NoError(t, env.store.PutPairExclusion(ctx, types.PairExclusion{
		ID:        "pair-1",
		TeamID1:   "team-z",
		TeamID2:   "team-a",
		CreatedAt: time.Now().UTC(),
	}))

	pairs, err := env.store.PairExclusions(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, "team-a", pairs[0].TeamID1)
	require.Equal(t, "team-z", pairs[0].TeamID2)
	require.True(t, pairs[0].Involves("team-z"))
	require.Equal(t, "team-a", pairs[0].Other("team-z"))
}

func TestUpdateMemberTeam(t *testing.T) {
	env := newTestEnv(t)
	seedMaster(t, env)
	ctx := t.Context()

	require.NoError(t, env.store.UpdateMemberTeam(ctx, "m1", "team-b"))

	members, err := env.store.Members(ctx)
	require.NoError(t, err)
	for _, member := range members {
		if member.ID == "m1" {
			require.Equal(t, "team-b", member.TeamID)
		}
	}

	err = env.store.UpdateMemberTeam(ctx, "nobody", "team-b")
	require.Error(t, err)
}

func TestUpdateMemberExclusions(t *testing.T) {
	env := newTestEnv(t)
	seedMaster(t, env)
	ctx := t.Context()

	require.NoError(t, env.store.UpdateMemberExclusions(ctx, "m2", []string{"label-1"}))

	members, err := env.store.Members(ctx)
	require.NoError(t, err)
	for _, member := range members {
		if member.ID == "m2" {
			require.True(t, member.Excludes("label-1"))
			require.False(t, member.Excludes("label-2"))
		}
	}
}

func TestDeleteMember(t *testing.T) {
	env := newTestEnv(t)
	seedMaster(t, env)
	ctx := t.Context()

	require.NoError(t, env.store.DeleteMember(ctx, "m4"))

	members, err := env.store.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 3)

	// Deleting an unknown member is a no-op.
	require.NoError(t, env.store.DeleteMember(ctx, "m4"))
}

func TestServerNow(t *testing.T) {
	env := newTestEnv(t)

	now, err := env.store.ServerNow(t.Context())
	require.NoError(t, err)
	require.False(t, now.IsZero())
	require.WithinDuration(t, time.Now().UTC(), now, 5*time.Second,
		"embedded server shares the local clock")
}

func TestResolveServerDate(t *testing.T) {
	env := newTestEnv(t)

	date, err := env.store.ResolveServerDate(t.Context(), time.UTC)
	require.NoError(t, err)
	require.NoError(t, types.ValidateDate(date))

	// nil location defaults to UTC.
	fallback, err := env.store.ResolveServerDate(t.Context(), nil)
	require.NoError(t, err)
	require.Equal(t, date, fallback)
}
