package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rankly/leaderboard-engine/internal/models"
)

func TestAppendThenReplayRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game1.wal")

	w, err := Open(path, 4, 2*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	now := time.UnixMilli(time.Now().UnixMilli())
	entries := []models.ScoreEntry{
		{UserID: "u1", Score: 10, CTime: now},
		{UserID: "u2", Score: 20, CTime: now},
		{UserID: "u1", Score: 15, CTime: now},
	}
	for _, e := range entries {
		require.NoError(t, w.Append(e))
	}
	require.NoError(t, w.Close())

	got, err := Replay(path, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, e := range entries {
		assert.Equal(t, e.UserID, got[i].UserID)
		assert.Equal(t, e.Score, got[i].Score)
		assert.Equal(t, e.CTime.UnixMilli(), got[i].CTime.UnixMilli())
	}
}

func TestReplayMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	got, err := Replay(filepath.Join(dir, "missing.wal"), zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReplaySkipsMalformedTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game1.wal")

	w, err := Open(path, 4, 2*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Append(models.ScoreEntry{UserID: "u1", Score: 10, CTime: time.Now()}))
	require.NoError(t, w.Close())

	// Simulate a crash mid-write: append a partial, unterminated record.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("u2\t")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := Replay(path, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
}

func TestAppendRejectsDelimiterInUserID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game1.wal")
	w, err := Open(path, 4, 2*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	err = w.Append(models.ScoreEntry{UserID: "bad\tid", Score: 1, CTime: time.Now()})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snapshot := map[string]int64{"u1": 10, "u2": 20, "u3": 30}

	require.NoError(t, WriteCheckpoint(dir, "gameX", snapshot))

	loaded, ok, err := LoadCheckpoint(dir, "gameX", zap.NewNop())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snapshot, loaded)
}

func TestLoadCheckpointMissingIsNotOK(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := LoadCheckpoint(dir, "nope", zap.NewNop())
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestAppendReturnsRetryableWhenQueueFull fills the group-commit queue to
// capacity with no writer goroutine draining it, then hits the full queue
// with concurrent appends. Every one of them must see ErrRetryable rather
// than blocking or silently succeeding — the spec's back-pressure scenario.
func TestAppendReturnsRetryableWhenQueueFull(t *testing.T) {
	w := &WAL{
		queue:   make(chan *appendRequest, queueCapacity),
		closeCh: make(chan struct{}),
	}
	for i := 0; i < queueCapacity; i++ {
		w.queue <- &appendRequest{done: make(chan error, 1)}
	}

	const extra = 64
	errs := make([]error, extra)
	var wg sync.WaitGroup
	for i := 0; i < extra; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = w.Append(models.ScoreEntry{
				UserID: fmt.Sprintf("overflow-%d", idx), Score: int64(idx), CTime: time.Now(),
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, models.ErrRetryable)
	}
}

func TestStatsTracksAppendsAndBatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game1.wal")
	w, err := Open(path, 2, 2*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Append(models.ScoreEntry{UserID: fmt.Sprintf("u%d", i), Score: int64(i), CTime: time.Now()}))
	}

	stats := w.Stats()
	assert.Equal(t, int64(5), stats.Appends)
	assert.Greater(t, stats.Batches, int64(0))
	assert.Greater(t, stats.AvgBatchSize, 0.0)
}

func TestTruncateEmptiesLiveWAL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game1.wal")
	w, err := Open(path, 4, 2*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Append(models.ScoreEntry{UserID: "u1", Score: 1, CTime: time.Now()}))

	require.NoError(t, w.Truncate())
	require.NoError(t, w.Append(models.ScoreEntry{UserID: "u2", Score: 2, CTime: time.Now()}))
	require.NoError(t, w.Close())

	got, err := Replay(path, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u2", got[0].UserID)
}
