// Package httpapi wires the engine's registry and shards to the HTTP
// surface described by the engine's external interface: a score-update
// endpoint and a leaderboard read endpoint, plus a supplemented stats
// endpoint and a debug bulk-update endpoint gated behind a config flag.
//
// The route grouping, CORS middleware, and health check follow the
// teacher's main.go and handlers/handlers.go; the response envelope
// ({"success": bool, "data"/"error": ...}) is the teacher's own shape,
// kept rather than replaced because nothing about the domain change
// calls for a different one.
package httpapi

import (
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rankly/leaderboard-engine/internal/audit"
	"github.com/rankly/leaderboard-engine/internal/config"
	"github.com/rankly/leaderboard-engine/internal/models"
	"github.com/rankly/leaderboard-engine/internal/registry"
)

// Server bundles the dependencies the route handlers close over.
type Server struct {
	cfg       config.Config
	reg       *registry.Registry
	logger    *zap.Logger
	mirror    *audit.Mirror
	startedAt time.Time
}

// NewServer constructs a Server. mirror may be nil when the audit mirror
// is disabled.
func NewServer(cfg config.Config, reg *registry.Registry, logger *zap.Logger, mirror *audit.Mirror) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, reg: reg, logger: logger, mirror: mirror, startedAt: time.Now()}
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(s.cors())

	r.GET("/health", s.handleHealth)
	r.GET("/", s.handleRoot)

	api := r.Group("/leaderboard/v1")
	{
		api.POST("/score", s.handlePostScore)
		api.GET("/leaderboard/:game_id", s.handleGetLeaderboard)
		api.GET("/rank/:game_id/:user_id", s.handleGetRank)
		api.GET("/stats/:game_id", s.handleGetStats)

		if s.cfg.EnableDebugRoutes {
			api.POST("/debug/bulk-update/:game_id", s.handleDebugBulkUpdate)
		}
	}

	return r
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.startedAt).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "leaderboard-engine",
		"version": "1.0.0",
		"docs":    "/leaderboard/v1/stats/:game_id",
	})
}

// scoreRequest is the request body for POST /leaderboard/v1/score.
type scoreRequest struct {
	GameID string `json:"game_id" binding:"required"`
	UserID string `json:"user_id" binding:"required"`
	Score  int64  `json:"score"`
}

func (s *Server) handlePostScore(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	entry := models.ScoreEntry{UserID: req.UserID, GameID: req.GameID, Score: req.Score, CTime: time.Now()}

	sh, err := s.reg.Get(req.GameID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := sh.UpdateScore(entry); err != nil {
		s.writeError(c, err)
		return
	}

	if s.mirror != nil {
		s.mirror.Record(entry)
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": gin.H{
		"game_id": req.GameID, "user_id": req.UserID, "score": req.Score,
	}})
}

func (s *Server) handleGetLeaderboard(c *gin.Context) {
	gameID := c.Param("game_id")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "limit must be a non-negative integer"})
		return
	}

	sh, err := s.reg.Get(gameID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	rows, err := sh.TopK(limit)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
		"game_id": gameID, "entries": rows, "count": len(rows),
	}})
}

func (s *Server) handleGetRank(c *gin.Context) {
	gameID := c.Param("game_id")
	userID := c.Param("user_id")

	sh, err := s.reg.Get(gameID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	rank, err := sh.RankOf(userID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	score, err := sh.ScoreOf(userID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
		"game_id": gameID, "user_id": userID, "rank": rank, "score": score,
	}})
}

func (s *Server) handleGetStats(c *gin.Context) {
	gameID := c.Param("game_id")
	sh, err := s.reg.Get(gameID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": sh.Stats()})
}

// debugBulkUpdateRequest is the request body for the supplemented
// load-generation endpoint. It exists to let operators exercise the
// write path at volume without a separate load-testing tool, matching
// the teacher's own bulk-update-random debug route.
type debugBulkUpdateRequest struct {
	Count    int   `json:"count" binding:"required,min=1"`
	MinScore int64 `json:"min_score"`
	MaxScore int64 `json:"max_score"`
}

func (s *Server) handleDebugBulkUpdate(c *gin.Context) {
	gameID := c.Param("game_id")
	var req debugBulkUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Count < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "count is required (min 1)"})
		return
	}
	lo, hi := req.MinScore, req.MaxScore
	if hi <= lo {
		lo, hi = s.cfg.ScoreMin, s.cfg.ScoreMax
	}

	sh, err := s.reg.Get(gameID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	accepted := 0
	for i := 0; i < req.Count; i++ {
		userID := "bulk_" + strconv.Itoa(rng.Intn(req.Count*10+1))
		score := lo + rng.Int63n(hi-lo+1)
		entry := models.ScoreEntry{UserID: userID, GameID: gameID, Score: score, CTime: time.Now()}
		if err := sh.UpdateScore(entry); err == nil {
			accepted++
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"requested": req.Count, "accepted": accepted}})
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, models.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, models.ErrRetryable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, models.ErrShardNotReady):
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": err.Error()})
	default:
		s.logger.Error("unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
	}
}
