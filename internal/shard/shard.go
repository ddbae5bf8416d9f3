// Package shard implements the Shard Coordinator: the per-game_id unit
// that owns one Ranking Index and one Write-Ahead Log, enforces the
// write protocol (WAL first, then index), and performs recovery on
// construction before the shard is allowed to serve traffic.
//
// The lazy-instantiate, own-your-state-exclusively shape follows the
// in-pack torua repo's shard/registry split, adapted from torua's
// hash-partitioned key space to one shard per game_id.
package shard

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rankly/leaderboard-engine/internal/config"
	"github.com/rankly/leaderboard-engine/internal/models"
	"github.com/rankly/leaderboard-engine/internal/skiplist"
	"github.com/rankly/leaderboard-engine/internal/wal"
)

// Shard owns the Index+WAL pair for exactly one game_id.
type Shard struct {
	gameID string
	cfg    config.Config
	logger *zap.Logger

	index *skiplist.SkipList
	wal   *wal.WAL

	ready          atomic.Bool
	writesOK       atomic.Int64
	writesRejected atomic.Int64
	lastRecovery   atomic.Int64 // nanoseconds
}

// New constructs the shard for gameID, performing synchronous WAL replay
// before returning. Per the recovery protocol, the shard is not marked
// READY — and therefore rejects reads/writes — until replay completes.
func New(gameID string, cfg config.Config, logger *zap.Logger) (*Shard, error) {
	if gameID == "" {
		return nil, fmt.Errorf("%w: game_id must not be empty", models.ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Shard{
		gameID: gameID,
		cfg:    cfg,
		logger: logger.With(zap.String("game_id", gameID)),
		index:  skiplist.New(0),
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// recover implements §4.3's recovery protocol: load a checkpoint if one
// validates, replay the live WAL on top of it (last-write-wins per
// user_id, which Upsert already guarantees), then open the WAL for live
// appends and flip READY.
func (s *Shard) recover() error {
	start := time.Now()
	walPath := wal.WALPath(s.cfg.DataDir, s.gameID)

	snapshot, ok, err := wal.LoadCheckpoint(s.cfg.DataDir, s.gameID, s.logger)
	if err != nil {
		return fmt.Errorf("%w: shard %s: checkpoint load failed: %v", errFatal, s.gameID, err)
	}
	if ok {
		for userID, score := range snapshot {
			s.index.Upsert(userID, score)
		}
		s.logger.Info("loaded checkpoint", zap.Int("users", len(snapshot)))
	}

	entries, err := wal.Replay(walPath, s.logger)
	if err != nil {
		return fmt.Errorf("%w: shard %s: wal replay failed: %v", errFatal, s.gameID, err)
	}
	for _, e := range entries {
		s.index.Upsert(e.UserID, e.Score)
	}

	w, err := wal.Open(walPath, s.cfg.WALBatchSize, s.cfg.WALFlushInterval, s.logger)
	if err != nil {
		return fmt.Errorf("%w: shard %s: wal open failed: %v", errFatal, s.gameID, err)
	}
	s.wal = w

	s.lastRecovery.Store(int64(time.Since(start)))
	s.ready.Store(true)
	s.logger.Info("shard ready",
		zap.Int("replayed", len(entries)),
		zap.Duration("recovery", time.Since(start)),
		zap.Int("users", s.index.Len()),
	)
	return nil
}

// errFatal marks recovery failures the spec's error taxonomy calls Fatal:
// data directory unusable, a checkpoint that fails its integrity check.
// Registry.Get returns them to its caller (the HTTP handlers answer them
// with 500); they are not retryable, and they do not stop the process.
var errFatal = fmt.Errorf("leaderboard: fatal shard initialization error")

// IsReady reports whether the shard has finished recovery.
func (s *Shard) IsReady() bool {
	return s.ready.Load()
}

// GameID returns the shard's game_id.
func (s *Shard) GameID() string {
	return s.gameID
}

func (s *Shard) validate(entry models.ScoreEntry) error {
	if entry.UserID == "" {
		return fmt.Errorf("%w: user_id must not be empty", models.ErrInvalidInput)
	}
	if entry.GameID == "" {
		return fmt.Errorf("%w: game_id must not be empty", models.ErrInvalidInput)
	}
	if entry.GameID != s.gameID {
		return fmt.Errorf("%w: entry game_id %q does not match shard %q", models.ErrInvalidInput, entry.GameID, s.gameID)
	}
	if entry.Score < s.cfg.ScoreMin || entry.Score > s.cfg.ScoreMax {
		return fmt.Errorf("%w: score %d out of bounds [%d,%d]", models.ErrInvalidInput, entry.Score, s.cfg.ScoreMin, s.cfg.ScoreMax)
	}
	return nil
}

// UpdateScore enforces the write protocol: validate, append to the WAL
// (durably), and only then upsert the index. If the WAL append fails the
// index is left untouched and the error is returned to the caller
// unchanged (InvalidInput or RetryableIO).
func (s *Shard) UpdateScore(entry models.ScoreEntry) error {
	if !s.IsReady() {
		return models.ErrShardNotReady
	}
	if err := s.validate(entry); err != nil {
		return err
	}
	if entry.CTime.IsZero() {
		entry.CTime = time.Now()
	}

	if err := s.wal.Append(entry); err != nil {
		s.writesRejected.Add(1)
		return err
	}
	s.index.Upsert(entry.UserID, entry.Score)
	s.writesOK.Add(1)
	return nil
}

// TopK returns up to k leaderboard rows in ranking order. k must be >= 0;
// it is clamped to the configured MaxTopK.
func (s *Shard) TopK(k int) ([]models.LeaderboardRow, error) {
	if !s.IsReady() {
		return nil, models.ErrShardNotReady
	}
	if k < 0 {
		return nil, fmt.Errorf("%w: k must be >= 0", models.ErrInvalidInput)
	}
	if s.cfg.MaxTopK > 0 && k > s.cfg.MaxTopK {
		k = s.cfg.MaxTopK
	}

	entries := s.index.TopK(k)
	rows := make([]models.LeaderboardRow, len(entries))
	for i, e := range entries {
		rows[i] = models.LeaderboardRow{UserID: e.UserID, Score: e.Score, Rank: e.Rank, GameID: s.gameID}
	}
	return rows, nil
}

// RankOf returns the 1-based rank of userID, or models.ErrNotFound.
func (s *Shard) RankOf(userID string) (int, error) {
	if !s.IsReady() {
		return 0, models.ErrShardNotReady
	}
	rank, ok := s.index.RankOf(userID)
	if !ok {
		return 0, models.ErrNotFound
	}
	return rank, nil
}

// ScoreOf returns userID's current score, or models.ErrNotFound.
func (s *Shard) ScoreOf(userID string) (int64, error) {
	if !s.IsReady() {
		return 0, models.ErrShardNotReady
	}
	score, ok := s.index.ScoreOf(userID)
	if !ok {
		return 0, models.ErrNotFound
	}
	return score, nil
}

// Checkpoint compacts the current index into a durable snapshot and
// truncates the live WAL. This is optional maintenance, not on the write
// or read path — a shard that never checkpoints is still fully correct,
// just slower to recover after a long run.
func (s *Shard) Checkpoint() error {
	snapshot := s.index.Snapshot()
	if err := wal.WriteCheckpoint(s.cfg.DataDir, s.gameID, snapshot); err != nil {
		return fmt.Errorf("shard %s: checkpoint: %w", s.gameID, err)
	}
	if err := s.wal.Truncate(); err != nil {
		return fmt.Errorf("shard %s: truncate after checkpoint: %w", s.gameID, err)
	}
	return nil
}

// Close releases the shard's WAL resources. Used by tests and explicit
// teardown; shards are otherwise never destroyed mid-process.
func (s *Shard) Close() error {
	return s.wal.Close()
}

// Stats returns a snapshot of this shard's operational counters.
func (s *Shard) Stats() models.ShardStats {
	recovery := time.Duration(s.lastRecovery.Load())
	walStats := s.wal.Stats()
	return models.ShardStats{
		GameID:             s.gameID,
		UserCount:          s.index.Len(),
		WritesAccepted:     s.writesOK.Load(),
		WritesRejected:     s.writesRejected.Load(),
		WALAppends:         walStats.Appends,
		WALBatches:         walStats.Batches,
		AvgBatchSize:       walStats.AvgBatchSize,
		LastRecoveryTook:   recovery,
		LastRecoveryTookMs: recovery.Milliseconds(),
		Ready:              s.IsReady(),
	}
}
