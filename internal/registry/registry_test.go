package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rankly/leaderboard-engine/internal/config"
	"github.com/rankly/leaderboard-engine/internal/models"
)

func testConfig(dataDir string) config.Config {
	return config.Config{
		DataDir:          dataDir,
		WALBatchSize:     4,
		WALFlushInterval: 2 * time.Millisecond,
		ScoreMin:         0,
		ScoreMax:         1_000_000,
		MaxTopK:          100,
	}
}

func TestGetCreatesShardLazily(t *testing.T) {
	reg := New(testConfig(t.TempDir()), zap.NewNop())

	_, ok := reg.Peek("g1")
	assert.False(t, ok)

	s, err := reg.Get("g1")
	require.NoError(t, err)
	assert.True(t, s.IsReady())

	_, ok = reg.Peek("g1")
	assert.True(t, ok)
}

func TestGetReturnsSameShardOnSubsequentCalls(t *testing.T) {
	reg := New(testConfig(t.TempDir()), zap.NewNop())

	s1, err := reg.Get("g1")
	require.NoError(t, err)
	s2, err := reg.Get("g1")
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestConcurrentGetCoalescesCreation(t *testing.T) {
	reg := New(testConfig(t.TempDir()), zap.NewNop())

	var wg sync.WaitGroup
	results := make([]interface{}, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			s, err := reg.Get("shared-game")
			require.NoError(t, err)
			results[idx] = s
		}(i)
	}
	wg.Wait()

	first := results[0]
	for _, r := range results {
		assert.Same(t, first, r)
	}
}

func TestGetEmptyGameIDFails(t *testing.T) {
	reg := New(testConfig(t.TempDir()), zap.NewNop())
	_, err := reg.Get("")
	assert.Error(t, err)
}

func TestCheckpointAllAndCloseAll(t *testing.T) {
	dir := t.TempDir()
	reg := New(testConfig(dir), zap.NewNop())

	s, err := reg.Get("g1")
	require.NoError(t, err)
	require.NoError(t, s.UpdateScore(models.ScoreEntry{UserID: "u1", GameID: "g1", Score: 5}))

	errs := reg.CheckpointAll()
	assert.Empty(t, errs)

	assert.ElementsMatch(t, []string{"g1"}, reg.GameIDs())
	require.NoError(t, reg.CloseAll())
}
