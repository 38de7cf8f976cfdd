package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizePair(t *testing.T) {
	lo, hi := NormalizePair("team-b", "team-a")
	require.Equal(t, "team-a", lo)
	require.Equal(t, "team-b", hi)

	lo, hi = NormalizePair("team-a", "team-b")
	require.Equal(t, "team-a", lo)
	require.Equal(t, "team-b", hi)
}

func TestPairKey_Unordered(t *testing.T) {
	require.Equal(t, PairKey("a1", "b1"), PairKey("b1", "a1"))
	require.NotEqual(t, PairKey("a1", "b1"), PairKey("a1", "b2"))
}

func TestPairKey_NoDelimiterCollision(t *testing.T) {
	// "ab"+"c" must not collide with "a"+"bc".
	require.NotEqual(t, PairKey("ab", "c"), PairKey("a", "bc"))
}

func TestNormalizeAssignments(t *testing.T) {
	t.Run("deduplicates by slot with last write wins", func(t *testing.T) {
		in := []Assignment{
			{TeamID: "t1", TaskLabelID: "l1", MemberID: MemberRef("m1")},
			{TeamID: "t1", TaskLabelID: "l1", MemberID: MemberRef("m2")},
		}

		out := NormalizeAssignments(in, "2026-09-01")
		require.Len(t, out, 1)
		require.Equal(t, "m2", *out[0].MemberID)
	})

	t.Run("forces date and canonicalizes empty member to nil", func(t *testing.T) {
		empty := ""
		in := []Assignment{
			{TeamID: "t1", TaskLabelID: "l1", MemberID: &empty, AssignedDate: "2020-01-01"},
		}

		out := NormalizeAssignments(in, "2026-09-01")
		require.Len(t, out, 1)
		require.Nil(t, out[0].MemberID)
		require.Equal(t, "2026-09-01", out[0].AssignedDate)
	})
}

func TestSortAssignments_Canonical(t *testing.T) {
	in := []Assignment{
		{TeamID: "t2", TaskLabelID: "l1"},
		{TeamID: "t1", TaskLabelID: "l2"},
		{TeamID: "t1", TaskLabelID: "l1"},
	}

	SortAssignments(in)

	require.Equal(t, "t1", in[0].TeamID)
	require.Equal(t, "l1", in[0].TaskLabelID)
	require.Equal(t, "t1", in[1].TeamID)
	require.Equal(t, "l2", in[1].TaskLabelID)
	require.Equal(t, "t2", in[2].TeamID)
}

func TestAssignmentsEqual(t *testing.T) {
	a := []Assignment{{TeamID: "t1", TaskLabelID: "l1", MemberID: MemberRef("m1")}}
	b := []Assignment{{TeamID: "t1", TaskLabelID: "l1", MemberID: MemberRef("m1")}}
	require.True(t, AssignmentsEqual(a, b))

	b[0].MemberID = nil
	require.False(t, AssignmentsEqual(a, b))

	// Dates are ignored by the comparison.
	b[0].MemberID = MemberRef("m1")
	b[0].AssignedDate = "1999-12-31"
	require.True(t, AssignmentsEqual(a, b))
}

func TestShuffleEvent_Timing(t *testing.T) {
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	event := ShuffleEvent{StartedAt: start, DurationMs: 3000}

	require.Equal(t, start.Add(3*time.Second), event.EndsAt())
	require.Equal(t, time.Second, event.Remaining(start.Add(2*time.Second)))
	require.LessOrEqual(t, event.Remaining(start.Add(5*time.Second)), time.Duration(0))
}

func TestValidateDate(t *testing.T) {
	require.NoError(t, ValidateDate("2026-09-01"))
	require.ErrorIs(t, ValidateDate("09/01/2026"), ErrInvalidDate)
	require.ErrorIs(t, ValidateDate(""), ErrInvalidDate)
}
