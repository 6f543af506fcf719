package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"noorsales/backend/internal/domain"
)

const sessionPrefix = "noor:session:"

type RedisSessionCache struct {
	client *redis.Client
}

func NewRedisSessionCache(client *redis.Client) *RedisSessionCache {
	return &RedisSessionCache{client: client}
}

func (c *RedisSessionCache) Get(ctx context.Context, sessionID string) (*domain.User, bool, error) {
	val, err := c.client.Get(ctx, sessionPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var user domain.User
	if err := json.Unmarshal([]byte(val), &user); err != nil {
		return nil, false, err
	}
	return &user, true, nil
}

func (c *RedisSessionCache) Set(ctx context.Context, sessionID string, user domain.User, ttl time.Duration) error {
	user.Password = ""
	payload, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, sessionPrefix+sessionID, payload, ttl).Err()
}

func (c *RedisSessionCache) Delete(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, sessionPrefix+sessionID).Err()
}
