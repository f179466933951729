package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-mocktest/internal/config"
)

// ErrQueueEmpty is returned when no attempt id arrived within the poll timeout.
var ErrQueueEmpty = errors.New("score queue empty")

// ScoreQueue hands submitted attempt ids to the score worker.
type ScoreQueue struct {
	rdb *redis.Client
}

// NewScoreQueue creates a new ScoreQueue.
func NewScoreQueue(rdb *redis.Client) *ScoreQueue {
	return &ScoreQueue{rdb: rdb}
}

// EnqueueScore queues an attempt for score persistence.
func (q *ScoreQueue) EnqueueScore(ctx context.Context, attemptID uuid.UUID) error {
	return q.rdb.RPush(ctx, config.WorkerKey.AttemptScoresQueue, attemptID.String()).Err()
}

// DequeueScore blocks up to timeout for the next attempt id.
func (q *ScoreQueue) DequeueScore(ctx context.Context, timeout time.Duration) (uuid.UUID, error) {
	item, err := q.rdb.BLPop(ctx, timeout, config.WorkerKey.AttemptScoresQueue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, ErrQueueEmpty
		}
		return uuid.Nil, err
	}
	if len(item) < 2 {
		return uuid.Nil, ErrQueueEmpty
	}
	id, err := uuid.Parse(item[1])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid queued attempt id %q: %w", item[1], err)
	}
	return id, nil
}
