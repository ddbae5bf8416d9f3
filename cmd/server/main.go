// Command server runs the leaderboard engine's HTTP API.
//
// ARCHITECTURE:
// 1. Ranking Index (internal/skiplist): span-augmented skip list, O(log n)
//    rank and O(1) score lookups.
// 2. Write-Ahead Log (internal/wal): group-commit durability per shard.
// 3. Shard Coordinator (internal/shard): owns one Index+WAL pair per
//    game_id, enforces WAL-then-index writes and crash recovery.
// 4. Engine Registry (internal/registry): lazy game_id -> Shard map.
// 5. Audit Mirror (internal/audit): optional best-effort analytics copy.
//
// Run with: go run ./cmd/server
// Environment: see internal/config for the full list.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rankly/leaderboard-engine/internal/audit"
	"github.com/rankly/leaderboard-engine/internal/config"
	"github.com/rankly/leaderboard-engine/internal/httpapi"
	"github.com/rankly/leaderboard-engine/internal/registry"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("leaderboard engine starting",
		zap.String("data_dir", cfg.DataDir),
		zap.String("port", cfg.HTTPPort),
	)

	var mirror *audit.Mirror
	if cfg.EnableAuditMirror {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		mirror, err = audit.Connect(ctx, cfg.MongoURI, logger)
		cancel()
		if err != nil {
			logger.Fatal("failed to connect audit mirror", zap.Error(err))
		}
		defer mirror.Close(context.Background())
	}

	reg := registry.New(cfg, logger)
	defer func() {
		if err := reg.CloseAll(); err != nil {
			logger.Warn("error closing shards", zap.Error(err))
		}
	}()

	srv := httpapi.NewServer(cfg, reg, logger, mirror)
	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go periodicCheckpoint(reg, logger)

	go func() {
		logger.Info("server ready", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	if errs := reg.CheckpointAll(); len(errs) > 0 {
		for gameID, err := range errs {
			logger.Warn("final checkpoint failed", zap.String("game_id", gameID), zap.Error(err))
		}
	}
}

// periodicCheckpoint compacts every live shard's WAL on a fixed interval
// so recovery time after a restart stays bounded. Checkpoint failures are
// logged, not fatal: the WAL remains the source of truth until the next
// successful checkpoint.
func periodicCheckpoint(reg *registry.Registry, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		for gameID, err := range reg.CheckpointAll() {
			logger.Warn("periodic checkpoint failed", zap.String("game_id", gameID), zap.Error(err))
		}
	}
}
