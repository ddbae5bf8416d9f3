// Package audit provides a best-effort mirror of accepted score updates
// into MongoDB for offline analytics. It sits entirely off the write and
// read paths described by the engine's durability contract: the Ranking
// Index and Write-Ahead Log are the system of record, and losing a mirror
// event (queue full, Mongo unreachable) never fails or delays a request.
//
// Connection management follows the teacher's database/mongodb.go;
// the batched, retried InsertMany follows services/seed.go, adapted from
// a one-shot startup seed into a continuously draining background queue.
package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/rankly/leaderboard-engine/internal/models"
)

const (
	queueCapacity = 8192
	batchSize     = 200
	flushInterval = 500 * time.Millisecond
	maxRetries    = 3
)

// event is the document shape mirrored into the audit collection.
type event struct {
	GameID string    `bson:"game_id"`
	UserID string    `bson:"user_id"`
	Score  int64     `bson:"score"`
	CTime  time.Time `bson:"ctime"`
}

// Mirror asynchronously copies accepted score updates into a MongoDB
// collection. It is intentionally lossy under overload: Record never
// blocks the caller and drops events rather than applying backpressure.
type Mirror struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger

	queue   chan event
	closeCh chan struct{}
	done    chan struct{}
}

// Connect dials MongoDB and starts the background drain loop. Ctx bounds
// only the initial connection attempt, matching the teacher's Connect.
func Connect(ctx context.Context, uri string, logger *zap.Logger) (*Mirror, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(30 * time.Second).
		SetServerSelectionTimeout(30 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	m := &Mirror{
		client:     client,
		collection: client.Database("leaderboard-audit").Collection("score_events"),
		logger:     logger,
		queue:      make(chan event, queueCapacity),
		closeCh:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	go m.run()
	logger.Info("audit mirror connected", zap.String("uri", uri))
	return m, nil
}

// Record enqueues an accepted score update for mirroring. It never
// blocks: if the queue is full the event is dropped with a warning, which
// is acceptable because the mirror is for analytics, not serving.
func (m *Mirror) Record(entry models.ScoreEntry) {
	select {
	case m.queue <- event{GameID: entry.GameID, UserID: entry.UserID, Score: entry.Score, CTime: entry.CTime}:
	default:
		m.logger.Warn("audit queue full, dropping event",
			zap.String("game_id", entry.GameID), zap.String("user_id", entry.UserID))
	}
}

func (m *Mirror) run() {
	defer close(m.done)

	batch := make([]event, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		m.insertBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e := <-m.queue:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-m.closeCh:
			for {
				select {
				case e := <-m.queue:
					batch = append(batch, e)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (m *Mirror) insertBatch(batch []event) {
	docs := make([]interface{}, len(batch))
	for i, e := range batch {
		docs[i] = bson.M{"game_id": e.GameID, "user_id": e.UserID, "score": e.Score, "ctime": e.CTime}
	}

	var lastErr error
	for retry := 0; retry < maxRetries; retry++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := m.collection.InsertMany(ctx, docs)
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		time.Sleep(time.Duration(retry+1) * 200 * time.Millisecond)
	}
	if lastErr != nil {
		m.logger.Warn("audit batch insert failed, dropping", zap.Int("size", len(docs)), zap.Error(lastErr))
	}
}

// Close stops the drain loop, flushing whatever is already queued, then
// disconnects the client. Events submitted after Close is called are lost.
func (m *Mirror) Close(ctx context.Context) error {
	close(m.closeCh)
	<-m.done
	return m.client.Disconnect(ctx)
}
