// Copyright 2025 James Ross
package workqueue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flyingrobots/video-pipeline/internal/config"
)

// NewFromConfig builds the configured Work Queue backend.
func NewFromConfig(ctx context.Context, cfg *config.Config, client *redis.Client) (Queue, error) {
	switch cfg.Queue.Backend {
	case "local", "":
		return NewRedisQueue(client, cfg.Queue.JobsQueue, cfg.Queue.DLQ, cfg.Worker.BLPopTimeout), nil
	case "managed":
		return NewSQSQueue(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}
