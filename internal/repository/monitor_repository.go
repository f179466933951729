package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-mocktest/internal/config"
	"github.com/stemsi/exstem-mocktest/internal/model"
)

// MonitorRepository carries live attempt events over Redis pub/sub, one channel per paper.
type MonitorRepository struct {
	rdb *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{rdb: rdb}
}

// PublishEvent sends an event to the paper's monitor channel.
func (r *MonitorRepository) PublishEvent(ctx context.Context, examType, paperID string, ev model.MonitorEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal monitor event: %w", err)
	}
	return r.rdb.Publish(ctx, config.CacheKey.PaperMonitorChannel(examType, paperID), payload).Err()
}

// Subscribe attaches to the paper's monitor channel. The caller closes the returned PubSub.
func (r *MonitorRepository) Subscribe(ctx context.Context, examType, paperID string) *redis.PubSub {
	return r.rdb.Subscribe(ctx, config.CacheKey.PaperMonitorChannel(examType, paperID))
}
