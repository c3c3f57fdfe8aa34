// Copyright 2025 James Ross
package redisclient

import (
	"runtime"
	"strings"

	"github.com/flyingrobots/video-pipeline/internal/config"
	"github.com/redis/go-redis/v9"
)

// New returns a configured go-redis v9 client shared by the event stream
// and work queue backends.
func New(cfg *config.Config) *redis.Client {
	poolSize := cfg.Redis.PoolSizeMultiplier * runtime.NumCPU()
	if poolSize <= 0 {
		poolSize = 10 * runtime.NumCPU()
	}
	return redis.NewClient(&redis.Options{
		Addr:         addrFromURL(cfg.Redis.Addr),
		Username:     cfg.Redis.Username,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     poolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   cfg.Redis.MaxRetries,
	})
}

// addrFromURL accepts either a bare host:port or a redis:// URL (as the
// REDIS_URL environment variable is conventionally set) and returns the
// host:port go-redis expects.
func addrFromURL(s string) string {
	s = strings.TrimPrefix(s, "redis://")
	s = strings.TrimPrefix(s, "rediss://")
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	return s
}
