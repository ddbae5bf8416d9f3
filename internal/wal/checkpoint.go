package wal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// WALPath returns the canonical WAL file path for a game_id under dataDir.
func WALPath(dataDir, gameID string) string {
	return filepath.Join(dataDir, gameID+".wal")
}

// CheckpointPath returns the canonical checkpoint file path for a game_id.
func CheckpointPath(dataDir, gameID string) string {
	return filepath.Join(dataDir, gameID+".checkpoint")
}

// WriteCheckpoint durably writes a compacted user_id -> score snapshot:
// write to a temp file, fsync it, rename over the live checkpoint, then
// fsync the containing directory so the rename itself is durable. Ctime is
// not tracked by the ranking index, so checkpoint records carry a zero
// ctime; it's never used for ordering or replay correctness.
func WriteCheckpoint(dataDir, gameID string, snapshot map[string]int64) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("wal: create data dir: %w", err)
	}

	path := CheckpointPath(dataDir, gameID)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("wal: create checkpoint temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	for userID, score := range snapshot {
		if _, err := fmt.Fprintf(w, "%s%s%d%s%d\n", userID, delimiter, score, delimiter, 0); err != nil {
			f.Close()
			return fmt.Errorf("wal: write checkpoint record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("wal: flush checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("wal: fsync checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("wal: close checkpoint temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("wal: rename checkpoint into place: %w", err)
	}

	dir, err := os.Open(dataDir)
	if err != nil {
		return fmt.Errorf("wal: open data dir for fsync: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("wal: fsync data dir: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the checkpoint for gameID, if one exists and
// validates (every line parses). ok is false when no checkpoint file is
// present. A checkpoint that fails to validate is a Fatal condition per
// the spec's error taxonomy — the caller should treat a non-nil error as
// unrecoverable, not merely skip it.
func LoadCheckpoint(dataDir, gameID string, logger *zap.Logger) (snapshot map[string]int64, ok bool, err error) {
	path := CheckpointPath(dataDir, gameID)
	if _, statErr := os.Stat(path); statErr != nil {
		if os.IsNotExist(statErr) {
			return nil, false, nil
		}
		return nil, false, statErr
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	snapshot = make(map[string]int64)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		entry, perr := parseRecord(line)
		if perr != nil {
			// Unlike a live WAL's tail, a checkpoint is never partially
			// written in place — it's published via fsync+rename — so
			// any malformed line here means real corruption, not a
			// benign crash-truncated tail.
			return nil, false, fmt.Errorf("wal: corrupted checkpoint %s: %w", path, perr)
		}
		snapshot[entry.UserID] = entry.Score
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}
	return snapshot, true, nil
}
