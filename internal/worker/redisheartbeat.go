// Copyright 2025 James Ross
package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisHeartbeat adapts *redis.Client to the heartbeatKeeper interface.
type RedisHeartbeat struct {
	Client *redis.Client
}

func (h RedisHeartbeat) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return h.Client.Set(ctx, key, value, ttl).Err()
}

func (h RedisHeartbeat) Del(ctx context.Context, key string) error {
	return h.Client.Del(ctx, key).Err()
}
