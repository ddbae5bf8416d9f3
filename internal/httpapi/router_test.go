package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rankly/leaderboard-engine/internal/config"
	"github.com/rankly/leaderboard-engine/internal/registry"
)

func testServer(t *testing.T) *Server {
	cfg := config.Config{
		DataDir:          t.TempDir(),
		WALBatchSize:     4,
		WALFlushInterval: 2 * time.Millisecond,
		ScoreMin:         0,
		ScoreMax:         1_000_000,
		MaxTopK:          1000,
	}
	reg := registry.New(cfg, zap.NewNop())
	return NewServer(cfg, reg, zap.NewNop(), nil)
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPostScoreThenLeaderboard(t *testing.T) {
	s := testServer(t)
	r := s.Router()

	rec := doJSON(r, http.MethodPost, "/leaderboard/v1/score", map[string]interface{}{
		"game_id": "g1", "user_id": "alice", "score": 100,
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(r, http.MethodPost, "/leaderboard/v1/score", map[string]interface{}{
		"game_id": "g1", "user_id": "bob", "score": 200,
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/leaderboard/v1/leaderboard/g1?limit=10", nil)
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Data struct {
			Entries []struct {
				UserID string `json:"userId"`
			} `json:"entries"`
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, 2, payload.Data.Count)
	assert.Equal(t, "bob", payload.Data.Entries[0].UserID)
}

func TestPostScoreInvalidBody(t *testing.T) {
	s := testServer(t)
	r := s.Router()

	rec := doJSON(r, http.MethodPost, "/leaderboard/v1/score", map[string]interface{}{"user_id": "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRankUnknownUserIs404(t *testing.T) {
	s := testServer(t)
	r := s.Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/leaderboard/v1/rank/g1/ghost", nil)
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t)
	r := s.Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
