package wal

import (
	"bufio"
	"os"

	"go.uber.org/zap"

	"github.com/rankly/leaderboard-engine/internal/models"
)

// Replay opens path for reading and parses each non-empty line in file
// order. A missing file yields an empty, non-error result. A malformed
// line is treated as a crash-truncated tail: it's logged as a warning and
// replay stops there, returning everything parsed up to that point rather
// than failing recovery outright.
func Replay(path string, logger *zap.Logger) ([]models.ScoreEntry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []models.ScoreEntry
	scanner := bufio.NewScanner(f)
	// A 64KB default scanner buffer is enough for any reasonable user_id;
	// grow it generously in case of unusually long identifiers.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		entry, err := parseRecord(line)
		if err != nil {
			logger.Warn("skipping malformed WAL tail record", zap.String("path", path), zap.Error(err))
			break
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, err
	}
	return entries, nil
}
