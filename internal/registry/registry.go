// Package registry implements the Engine Registry: the process-wide,
// lazily-populated game_id -> Shard map. It is the sole owner of shard
// lifecycle — callers never construct a shard.Shard directly.
//
// The lazy-get-or-create shape with a per-key in-flight guard follows
// torua's shard registry, adapted from torua's static shard assignment
// to on-demand shard creation keyed by game_id.
package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rankly/leaderboard-engine/internal/config"
	"github.com/rankly/leaderboard-engine/internal/shard"
)

// Registry owns every shard.Shard the process has created.
type Registry struct {
	cfg    config.Config
	logger *zap.Logger

	mu       sync.Mutex
	shards   map[string]*shard.Shard
	inFlight map[string]*sync.WaitGroup
}

// New creates an empty registry. No shards are created (and no WAL files
// touched) until Get is first called for a given game_id.
func New(cfg config.Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		shards:   make(map[string]*shard.Shard),
		inFlight: make(map[string]*sync.WaitGroup),
	}
}

// Get returns the shard for gameID, creating and recovering it on first
// access. Concurrent first-accesses for the same game_id are coalesced:
// only one goroutine performs recovery, the rest wait on it and share
// the result, so a newly-hot game_id never triggers duplicate WAL opens.
func (r *Registry) Get(gameID string) (*shard.Shard, error) {
	if gameID == "" {
		return nil, fmt.Errorf("leaderboard: game_id must not be empty")
	}

	for {
		r.mu.Lock()
		if s, ok := r.shards[gameID]; ok {
			r.mu.Unlock()
			return s, nil
		}
		if wg, ok := r.inFlight[gameID]; ok {
			r.mu.Unlock()
			wg.Wait()
			continue
		}

		wg := &sync.WaitGroup{}
		wg.Add(1)
		r.inFlight[gameID] = wg
		r.mu.Unlock()

		s, err := shard.New(gameID, r.cfg, r.logger)

		r.mu.Lock()
		delete(r.inFlight, gameID)
		if err == nil {
			r.shards[gameID] = s
		}
		r.mu.Unlock()
		wg.Done()

		return s, err
	}
}

// Peek returns the shard for gameID without creating it. ok is false if
// no shard has been created for this game_id yet.
func (r *Registry) Peek(gameID string) (s *shard.Shard, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok = r.shards[gameID]
	return s, ok
}

// GameIDs returns the game_ids of every shard created so far.
func (r *Registry) GameIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.shards))
	for id := range r.shards {
		ids = append(ids, id)
	}
	return ids
}

// CheckpointAll runs Checkpoint on every live shard, collecting (not
// aborting on) individual failures. Intended for a periodic maintenance
// loop, not the request path.
func (r *Registry) CheckpointAll() map[string]error {
	r.mu.Lock()
	shards := make(map[string]*shard.Shard, len(r.shards))
	for id, s := range r.shards {
		shards[id] = s
	}
	r.mu.Unlock()

	errs := make(map[string]error)
	for id, s := range shards {
		if err := s.Checkpoint(); err != nil {
			errs[id] = err
			r.logger.Warn("checkpoint failed", zap.String("game_id", id), zap.Error(err))
		}
	}
	return errs
}

// CloseAll closes every live shard's WAL. Called during graceful shutdown.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	shards := make([]*shard.Shard, 0, len(r.shards))
	for _, s := range r.shards {
		shards = append(shards, s)
	}
	r.mu.Unlock()

	var firstErr error
	for _, s := range shards {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
