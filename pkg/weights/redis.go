package weights

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paiban/examplan/pkg/model"
)

// RedisCache 基于 Redis 的共享权重缓存
type RedisCache struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// NewRedisCache 创建共享缓存
func NewRedisCache(client redis.Cmdable, key string, ttl time.Duration) *RedisCache {
	if key == "" {
		key = "examplan:weights"
	}
	return &RedisCache{client: client, key: key, ttl: ttl}
}

// Load 读取缓存，不存在时 ok 为 false
func (c *RedisCache) Load(ctx context.Context) ([]model.ConstraintWeight, bool, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var weights []model.ConstraintWeight
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, false, err
	}
	return weights, true, nil
}

// Store 写入缓存
func (c *RedisCache) Store(ctx context.Context, weights []model.ConstraintWeight) error {
	data, err := json.Marshal(weights)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key, data, c.ttl).Err()
}
