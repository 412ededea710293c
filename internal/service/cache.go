package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/logging"
	"github.com/example/deepfake-detector/internal/model"
	"github.com/example/deepfake-detector/internal/repository"
)

// Cache abstracts the Redis operations used by the services to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// ErrCacheMiss is returned by Cache.Get for an absent key.
var ErrCacheMiss = redis.Nil

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// Del removes keys from Redis.
func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

type cachedDetection struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	Prediction       string    `json:"prediction"`
	Confidence       float64   `json:"confidence"`
	ProcessingTime   *float64  `json:"processing_time"`
	CreatedAt        time.Time `json:"created_at"`
}

func detectionCacheKey(id string) string {
	return fmt.Sprintf("detection:%s", id)
}

// detailCache is the read-through cache for single detections. A nil Cache
// disables it. Every failure is logged and otherwise ignored.
type detailCache struct {
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
	retry  *repository.Retrier
}

func newDetailCache(cache Cache, ttl time.Duration, logger *zap.Logger) *detailCache {
	return &detailCache{cache: cache, ttl: ttl, logger: logger, retry: repository.NewRetrier(logger)}
}

func (c *detailCache) put(ctx context.Context, d *model.Detection) {
	if c.cache == nil {
		return
	}
	payload, err := json.Marshal(cachedDetection{
		ID:               d.ID,
		UserID:           d.UserID,
		Filename:         d.Filename,
		OriginalFilename: d.OriginalFilename,
		Prediction:       string(d.Prediction),
		Confidence:       d.Confidence,
		ProcessingTime:   d.ProcessingTime,
		CreatedAt:        d.CreatedAt,
	})
	if err != nil {
		logging.WithOperation(c.logger, "cache.set.detection", d.ID).Warn("failed to serialize detection", zap.Error(err))
		return
	}
	if err := c.retry.Do(ctx, "cache.set.detection", d.ID, func() error {
		return c.cache.Set(ctx, detectionCacheKey(d.ID), string(payload), c.ttl)
	}); err != nil {
		logging.WithOperation(c.logger, "cache.set.detection", d.ID).Warn("failed to cache detection", zap.Error(err))
	}
}

func (c *detailCache) get(ctx context.Context, id string) (*model.Detection, bool) {
	if c.cache == nil {
		return nil, false
	}
	var (
		raw  string
		miss bool
	)
	err := c.retry.Do(ctx, "cache.get.detection", id, func() error {
		value, err := c.cache.Get(ctx, detectionCacheKey(id))
		if errors.Is(err, ErrCacheMiss) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if err != nil {
		logging.WithOperation(c.logger, "cache.get.detection", id).Warn("failed to read cache", zap.Error(err))
		return nil, false
	}
	if miss {
		return nil, false
	}

	var payload cachedDetection
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		logging.WithOperation(c.logger, "cache.get.detection", id).Warn("failed to decode cached detection", zap.Error(err))
		return nil, false
	}
	return &model.Detection{
		ID:               payload.ID,
		UserID:           payload.UserID,
		Filename:         payload.Filename,
		OriginalFilename: payload.OriginalFilename,
		Prediction:       model.Prediction(payload.Prediction),
		Confidence:       payload.Confidence,
		ProcessingTime:   payload.ProcessingTime,
		CreatedAt:        payload.CreatedAt,
	}, true
}

func (c *detailCache) evict(ctx context.Context, ids ...string) {
	if c.cache == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, detectionCacheKey(id))
	}
	if err := c.retry.Do(ctx, "cache.del.detection", ids[0], func() error {
		return c.cache.Del(ctx, keys...)
	}); err != nil {
		logging.WithOperation(c.logger, "cache.del.detection", ids[0]).Error("failed to evict cached detection",
			zap.Strings("keys", keys), zap.Error(err))
	}
}
