// Copyright 2025 James Ross
// Package admin implements operator-facing introspection and maintenance
// commands for the pipeline, grounded on the teacher's Stats/Peek/PurgeDLQ
// admin surface.
package admin

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flyingrobots/video-pipeline/internal/config"
	"github.com/flyingrobots/video-pipeline/internal/workqueue"
)

// StatsResult summarizes work queue depth and live worker count.
type StatsResult struct {
	JobsQueueLength int64 `json:"jobs_queue_length"`
	DLQLength       int64 `json:"dlq_length"`
	Heartbeats      int64 `json:"heartbeats"`
}

// Stats reports queue depths and a count of live worker heartbeats.
func Stats(ctx context.Context, cfg *config.Config, rdb *redis.Client, queue workqueue.Queue) (StatsResult, error) {
	jobs, dlq, err := queue.Length(ctx)
	if err != nil {
		return StatsResult{}, fmt.Errorf("queue length: %w", err)
	}

	var heartbeats int64
	if rdb != nil {
		var cursor uint64
		pattern := fmt.Sprintf(cfg.Worker.HeartbeatKeyPattern, "*")
		for {
			keys, cur, err := rdb.Scan(ctx, cursor, pattern, 500).Result()
			if err != nil {
				return StatsResult{}, fmt.Errorf("scan heartbeats: %w", err)
			}
			cursor = cur
			heartbeats += int64(len(keys))
			if cursor == 0 {
				break
			}
		}
	}

	return StatsResult{JobsQueueLength: jobs, DLQLength: dlq, Heartbeats: heartbeats}, nil
}

// PurgeDLQ drains and discards every message currently parked in the
// dead letter queue, returning how many were removed.
func PurgeDLQ(ctx context.Context, queue workqueue.Queue) (int, error) {
	messages, err := queue.DrainDLQ(ctx, 100000)
	if err != nil {
		return 0, fmt.Errorf("drain dlq: %w", err)
	}
	return len(messages), nil
}
