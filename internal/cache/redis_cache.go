package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cabangpos/backend/internal/domain"
)

// RedisFloorCache backs the floor projection with Redis so multiple server
// instances in one branch share it.
type RedisFloorCache struct {
	client *redis.Client
}

func NewRedisFloorCache(ctx context.Context, addr string, password string, db int) (*RedisFloorCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisFloorCache{client: client}, nil
}

// Client exposes the underlying connection for lock acquisition.
func (c *RedisFloorCache) Client() *redis.Client {
	return c.client
}

func (c *RedisFloorCache) Close() error {
	return c.client.Close()
}

func (c *RedisFloorCache) Get(ctx context.Context, key string) (*domain.TableStatusResponse, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resp domain.TableStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		// Corrupt entry: drop it and report a miss.
		_ = c.client.Del(ctx, key).Err()
		return nil, false, nil
	}
	return &resp, true, nil
}

func (c *RedisFloorCache) Set(ctx context.Context, key string, value *domain.TableStatusResponse, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

func (c *RedisFloorCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
