package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "ctx:session:"

// RedisStore keeps conversation windows in Redis lists with a rolling TTL,
// so windows expire server-side after an hour of inactivity.
type RedisStore struct {
	rdb    *redis.Client
	opts   Options
	logger *zap.Logger
}

// NewRedisStore connects to Redis and returns a session store.
func NewRedisStore(redisURL string, opts Options, logger *zap.Logger) (*RedisStore, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(parsed)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, opts: opts.withDefaults(), logger: logger}, nil
}

// Close shuts down the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Append adds a turn and rewrites the stored window with the turn and token
// caps applied. The TTL is refreshed on every append.
func (s *RedisStore) Append(ctx context.Context, userID, sessionID string, turn Turn) error {
	key := keyPrefix + windowKey(userID, sessionID)

	w, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	w.Turns = append(w.Turns, turn)
	w = Clamp(w, s.opts.MaxTurns, s.opts.MaxTokens, s.opts.Count)

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	for _, t := range w.Turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		pipe.RPush(ctx, key, data)
	}
	pipe.Expire(ctx, key, s.opts.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write window: %w", err)
	}
	return nil
}

// Get returns the stored window, or an empty one when the key is missing
// or expired.
func (s *RedisStore) Get(ctx context.Context, userID, sessionID string) (Window, error) {
	return s.load(ctx, keyPrefix+windowKey(userID, sessionID))
}

func (s *RedisStore) load(ctx context.Context, key string) (Window, error) {
	entries, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return Window{}, fmt.Errorf("read window: %w", err)
	}
	var w Window
	for _, e := range entries {
		var t Turn
		if err := json.Unmarshal([]byte(e), &t); err != nil {
			s.logger.Warn("skipping undecodable turn", zap.String("key", key), zap.Error(err))
			continue
		}
		w.Turns = append(w.Turns, t)
	}
	return w, nil
}
