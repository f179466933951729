package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-mocktest/internal/config"
	"github.com/stemsi/exstem-mocktest/internal/model"
)

// ErrSnapshotNotFound is returned when no autosaved snapshot exists for a session.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotCache autosaves live attempt snapshots in Redis for recovery display.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a new SnapshotCache.
func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: rdb, ttl: ttl}
}

// SaveSnapshot overwrites the autosaved snapshot of a session.
func (c *SnapshotCache) SaveSnapshot(ctx context.Context, sessionID string, snap *model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return c.rdb.Set(ctx, config.CacheKey.SessionSnapshotKey(sessionID), data, c.ttl).Err()
}

// LoadSnapshot returns the last autosaved snapshot of a session.
func (c *SnapshotCache) LoadSnapshot(ctx context.Context, sessionID string) (*model.Snapshot, error) {
	data, err := c.rdb.Get(ctx, config.CacheKey.SessionSnapshotKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// DeleteSnapshot removes the autosaved snapshot of a session.
func (c *SnapshotCache) DeleteSnapshot(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, config.CacheKey.SessionSnapshotKey(sessionID)).Err()
}
