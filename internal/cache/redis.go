package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pathlight/contextd/internal/engine"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// opTimeout bounds each cache round-trip; the engine's Cache interface is
// deliberately context-free, so a stuck Redis must not stall a request.
const opTimeout = 500 * time.Millisecond

// Redis is a shared, externally-owned aggregate cache. Multiple engine
// instances serving the same users can reuse each other's work through it.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedis connects to Redis and returns an aggregate cache.
func NewRedis(redisURL string, logger *zap.Logger) (*Redis, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(parsed)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb, logger: logger}, nil
}

// Close shuts down the Redis client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Get implements engine.Cache. Any store or decode failure is a miss.
func (r *Redis) Get(key string) (engine.AggregatedContext, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("aggregate cache read failed", zap.Error(err))
		}
		return engine.AggregatedContext{}, false
	}
	var agg engine.AggregatedContext
	if err := json.Unmarshal(data, &agg); err != nil {
		r.logger.Warn("aggregate cache entry undecodable", zap.String("key", key), zap.Error(err))
		return engine.AggregatedContext{}, false
	}
	return agg, true
}

// Set implements engine.Cache. Failures are logged and dropped; the cache
// is an optimization, never a dependency.
func (r *Redis) Set(key string, value engine.AggregatedContext, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		r.logger.Warn("aggregate cache encode failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		r.logger.Warn("aggregate cache write failed", zap.Error(err))
	}
}
