package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"opsledger/backend/internal/domain"
)

const keyPrefix = "opsledger:monthlyProfit:"

type RedisSnapshotCache struct {
	client redis.Cmdable
	closer func() error
}

func NewRedisSnapshotCache(addr string, password string, db int) *RedisSnapshotCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSnapshotCache{client: client, closer: client.Close}
}

func (c *RedisSnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSnapshotCache) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *RedisSnapshotCache) Get(ctx context.Context, key string) (*domain.MonthlyProfitSnapshot, bool, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snap domain.MonthlyProfitSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

func (c *RedisSnapshotCache) Set(ctx context.Context, key string, value *domain.MonthlyProfitSnapshot, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, payload, ttl).Err()
}

func (c *RedisSnapshotCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, keyPrefix+key).Err()
}
