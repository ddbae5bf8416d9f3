package skiplist

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyShard(t *testing.T) {
	sl := New(0)
	assert.Empty(t, sl.TopK(10))
	_, ok := sl.RankOf("u1")
	assert.False(t, ok)
	_, ok = sl.ScoreOf("u1")
	assert.False(t, ok)
}

func TestThreeUsersOrderingAndTieBreak(t *testing.T) {
	sl := New(0)
	sl.Upsert("u1", 10)
	sl.Upsert("u2", 20)
	sl.Upsert("u3", 20)

	got := sl.TopK(3)
	require.Len(t, got, 3)
	assert.Equal(t, []Entry{
		{UserID: "u2", Score: 20, Rank: 1},
		{UserID: "u3", Score: 20, Rank: 2},
		{UserID: "u1", Score: 10, Rank: 3},
	}, got)

	rank, ok := sl.RankOf("u3")
	require.True(t, ok)
	assert.Equal(t, 2, rank)
}

func TestOverwriteRepositions(t *testing.T) {
	sl := New(0)
	sl.Upsert("u1", 10)
	sl.Upsert("u2", 20)
	sl.Upsert("u3", 20)

	inserted := sl.Upsert("u1", 25)
	assert.False(t, inserted)

	got := sl.TopK(3)
	assert.Equal(t, []Entry{
		{UserID: "u1", Score: 25, Rank: 1},
		{UserID: "u2", Score: 20, Rank: 2},
		{UserID: "u3", Score: 20, Rank: 3},
	}, got)

	score, ok := sl.ScoreOf("u1")
	require.True(t, ok)
	assert.Equal(t, int64(25), score)
	assert.Equal(t, 3, sl.Len())
}

func TestTieBreakStability(t *testing.T) {
	sl := New(0)
	sl.Upsert("b", 5)
	sl.Upsert("a", 5)

	got := sl.TopK(2)
	assert.Equal(t, []Entry{
		{UserID: "a", Score: 5, Rank: 1},
		{UserID: "b", Score: 5, Rank: 2},
	}, got)
}

func TestUpsertSameScoreIsNoop(t *testing.T) {
	sl := New(0)
	sl.Upsert("u1", 10)
	inserted := sl.Upsert("u1", 10)
	assert.False(t, inserted)
	assert.Equal(t, 1, sl.Len())
}

func TestNegativeKPanics(t *testing.T) {
	sl := New(0)
	assert.Panics(t, func() { sl.TopK(-1) })
}

func TestTopKFewerThanK(t *testing.T) {
	sl := New(0)
	sl.Upsert("u1", 1)
	got := sl.TopK(50)
	assert.Len(t, got, 1)
}

// TestSingleNodePerUser asserts invariant 7: after any sequence of upserts,
// level 0 contains exactly one node per user_id.
func TestSingleNodePerUser(t *testing.T) {
	sl := New(0)
	rng := rand.New(rand.NewSource(42))
	users := make([]string, 50)
	for i := range users {
		users[i] = fmt.Sprintf("user-%d", i)
	}

	for i := 0; i < 5000; i++ {
		u := users[rng.Intn(len(users))]
		sl.Upsert(u, rng.Int63n(1000))
	}

	seen := map[string]bool{}
	rows := sl.TopK(sl.Len())
	for _, r := range rows {
		assert.False(t, seen[r.UserID], "duplicate node for %s", r.UserID)
		seen[r.UserID] = true
	}
	assert.LessOrEqual(t, len(seen), len(users))
}

// TestRankMatchesTopKPosition asserts invariants 2-4: TopK is ordered by
// score desc / user_id asc, rank == index+1, and RankOf agrees with TopK.
func TestRankMatchesTopKPosition(t *testing.T) {
	sl := New(0)
	rng := rand.New(rand.NewSource(7))
	n := 300
	for i := 0; i < n; i++ {
		sl.Upsert(fmt.Sprintf("user-%04d", i), rng.Int63n(100))
	}

	rows := sl.TopK(n)
	require.Len(t, rows, n)
	for i, row := range rows {
		assert.Equal(t, i+1, row.Rank)
		if i > 0 {
			prev := rows[i-1]
			if prev.Score == row.Score {
				assert.Less(t, prev.UserID, row.UserID)
			} else {
				assert.Greater(t, prev.Score, row.Score)
			}
		}
		rank, ok := sl.RankOf(row.UserID)
		require.True(t, ok)
		assert.Equal(t, row.Rank, rank)
	}
}

func TestScoreOfReflectsLastWrite(t *testing.T) {
	sl := New(0)
	sl.Upsert("u1", 1)
	sl.Upsert("u1", 2)
	sl.Upsert("u1", 3)
	score, ok := sl.ScoreOf("u1")
	require.True(t, ok)
	assert.Equal(t, int64(3), score)
}
