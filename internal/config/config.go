// Package config loads engine configuration from the environment, the way
// the teacher's main.go reads MONGODB_URI/PORT via os.Getenv after loading
// a .env file with godotenv. Nothing here is specific to one game: these
// are the knobs shared by every shard the registry creates.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the engine-wide settings the spec calls out in §6: data
// directory, WAL batch size and flush interval, score bounds, and the max
// k allowed for top-K.
type Config struct {
	DataDir           string
	WALBatchSize      int
	WALFlushInterval  time.Duration
	ScoreMin          int64
	ScoreMax          int64
	MaxTopK           int
	HTTPPort          string
	EnableDebugRoutes bool
	EnableAuditMirror bool
	MongoURI          string
}

// Load reads configuration from the environment, having first loaded a
// .env file if one is present (the error godotenv.Load returns when the
// file is absent is ignored — same as the teacher's main.go).
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DataDir:           getenv("ENGINE_DATA_DIR", "./data"),
		WALBatchSize:      getenvInt("ENGINE_WAL_BATCH_SIZE", 200),
		WALFlushInterval:  time.Duration(getenvInt("ENGINE_WAL_FLUSH_INTERVAL_MS", 10)) * time.Millisecond,
		ScoreMin:          getenvInt64("ENGINE_SCORE_MIN", 0),
		ScoreMax:          getenvInt64("ENGINE_SCORE_MAX", 1_000_000_000),
		MaxTopK:           getenvInt("ENGINE_MAX_TOP_K", 1000),
		HTTPPort:          getenv("PORT", "3000"),
		EnableDebugRoutes: getenvBool("ENGINE_ENABLE_DEBUG_ROUTES", false),
		EnableAuditMirror: getenvBool("ENGINE_ENABLE_AUDIT_MIRROR", false),
		MongoURI:          getenv("MONGODB_URI", "mongodb://localhost:27017/leaderboard-audit"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
