package wal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rankly/leaderboard-engine/internal/models"
)

// delimiter separates fields within a WAL record. A tab is disjoint from
// any reasonable user_id alphabet; formatRecord rejects any user_id that
// contains one rather than silently corrupting the file, per the spec's
// delimiter-ambiguity note.
const delimiter = "\t"

func formatRecord(e models.ScoreEntry) (string, error) {
	if strings.ContainsAny(e.UserID, "\t\n") {
		return "", fmt.Errorf("wal: user_id contains reserved delimiter: %q", e.UserID)
	}
	return fmt.Sprintf("%s%s%d%s%d\n", e.UserID, delimiter, e.Score, delimiter, e.CTime.UnixMilli()), nil
}

// parseRecord parses one non-empty WAL line. A malformed line (wrong field
// count, non-integer score/ctime) returns an error; the caller treats this
// as the truncated tail of a crash and stops replay there.
func parseRecord(line string) (models.ScoreEntry, error) {
	fields := strings.Split(line, delimiter)
	if len(fields) != 3 {
		return models.ScoreEntry{}, fmt.Errorf("wal: malformed record (want 3 fields, got %d)", len(fields))
	}
	score, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return models.ScoreEntry{}, fmt.Errorf("wal: malformed score: %w", err)
	}
	millis, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return models.ScoreEntry{}, fmt.Errorf("wal: malformed ctime: %w", err)
	}
	if fields[0] == "" {
		return models.ScoreEntry{}, fmt.Errorf("wal: empty user_id")
	}
	return models.ScoreEntry{
		UserID: fields[0],
		Score:  score,
		CTime:  time.UnixMilli(millis),
	}, nil
}
