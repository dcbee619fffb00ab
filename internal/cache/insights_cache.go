package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "learning:"

// Keys of the cached dashboard views
const (
	KeyInsights    = "insights"
	KeyPerformance = "performance"
)

// InsightsCache keeps expensive dashboard aggregates in redis for a short
// TTL. A nil *InsightsCache is valid and caches nothing. Redis failures are
// logged and fall through to the loader.
type InsightsCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewInsightsCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *InsightsCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InsightsCache{rdb: rdb, ttl: ttl, logger: logger}
}

// NewRedisClient builds a client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// GetOrLoad returns the cached value for key, or calls load and caches its
// result.
func GetOrLoad[T any](ctx context.Context, c *InsightsCache, key string, load func(context.Context) (T, error)) (T, error) {
	if c == nil || c.rdb == nil {
		return load(ctx)
	}

	var cached T
	raw, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached, nil
		}
		c.logger.Warn("Discarding undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return value, nil
	}
	if err := c.rdb.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}

// Invalidate drops the given keys.
func (c *InsightsCache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || c.rdb == nil || len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = keyPrefix + k
	}
	if err := c.rdb.Del(ctx, full...).Err(); err != nil {
		c.logger.Warn("Cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (c *InsightsCache) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *InsightsCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
