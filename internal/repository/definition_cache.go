package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-mocktest/internal/config"
	"github.com/stemsi/exstem-mocktest/internal/model"
	"golang.org/x/sync/singleflight"
)

// DefinitionSource is the backing store a CachedLoader reads through to.
type DefinitionSource interface {
	LoadTestDefinition(ctx context.Context, examType, paperID string) (*model.TestDefinition, error)
}

// CacheStore is the subset of the Redis client the definition cache uses.
type CacheStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedLoader is a Redis read-through cache in front of a DefinitionSource.
// Concurrent misses for the same paper share one backing load.
type CachedLoader struct {
	source DefinitionSource
	rdb    CacheStore
	ttl    time.Duration
	group  singleflight.Group
	log    zerolog.Logger
}

// NewCachedLoader creates a new CachedLoader. A ttl of 0 keeps entries until invalidated.
func NewCachedLoader(source DefinitionSource, rdb CacheStore, ttl time.Duration, log zerolog.Logger) *CachedLoader {
	return &CachedLoader{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		log:    log.With().Str("component", "definition_cache").Logger(),
	}
}

// LoadTestDefinition returns the cached paper, loading and caching it on a miss.
func (l *CachedLoader) LoadTestDefinition(ctx context.Context, examType, paperID string) (*model.TestDefinition, error) {
	key := config.CacheKey.TestDefinitionKey(examType, paperID)

	data, err := l.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var def model.TestDefinition
		if jerr := json.Unmarshal(data, &def); jerr == nil {
			return &def, nil
		}
		// Corrupt entry: drop it and fall through to a reload.
		l.log.Warn().Str("key", key).Msg("Discarding unreadable cached definition")
		l.rdb.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		l.log.Warn().Err(err).Str("key", key).Msg("Definition cache read failed, loading from source")
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		loadCtx := context.WithoutCancel(ctx)
		def, err := l.source.LoadTestDefinition(loadCtx, examType, paperID)
		if err != nil {
			return nil, err
		}
		if err := l.Warm(loadCtx, def); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("Failed to cache definition")
		}
		return def, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.TestDefinition), nil
}

// Warm validates a definition and writes it to the cache.
func (l *CachedLoader) Warm(ctx context.Context, def *model.TestDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	key := config.CacheKey.TestDefinitionKey(def.ExamType, def.PaperID)
	if err := l.rdb.Set(ctx, key, data, l.ttl).Err(); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	l.log.Debug().
		Str("exam_type", def.ExamType).
		Str("paper_id", def.PaperID).
		Int("questions", len(def.Questions)).
		Msg("Cache warmed")
	return nil
}

// Invalidate drops a cached paper so the next load reads the source.
func (l *CachedLoader) Invalidate(ctx context.Context, examType, paperID string) error {
	return l.rdb.Del(ctx, config.CacheKey.TestDefinitionKey(examType, paperID)).Err()
}

// Prewarm loads every listed paper into the cache on startup and returns how many succeeded.
func (l *CachedLoader) Prewarm(ctx context.Context, keys []PaperKey) int {
	if len(keys) == 0 {
		l.log.Info().Msg("No papers to prewarm")
		return 0
	}

	l.log.Info().Int("count", len(keys)).Msg("Prewarming papers...")

	warmed := 0
	for _, k := range keys {
		def, err := l.source.LoadTestDefinition(ctx, k.ExamType, k.PaperID)
		if err == nil {
			err = l.Warm(ctx, def)
		}
		if err != nil {
			l.log.Warn().
				Err(err).
				Str("exam_type", k.ExamType).
				Str("paper_id", k.PaperID).
				Msg("Failed to warm paper, skipping")
			continue
		}
		warmed++
	}

	l.log.Info().
		Int("warmed", warmed).
		Int("total", len(keys)).
		Msg("Prewarming complete")
	return warmed
}
