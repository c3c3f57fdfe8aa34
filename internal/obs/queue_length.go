// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StartQueueLengthUpdater samples the work queue and dead letter queue
// lengths on an interval and updates the QueueLength gauge.
func StartQueueLengthUpdater(ctx context.Context, rdb *redis.Client, jobsQueueKey, dlqKey string, log *zap.Logger) {
	interval := 2 * time.Second
	qset := []string{jobsQueueKey, dlqKey}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, q := range qset {
					n, err := rdb.LLen(ctx, q).Result()
					if err != nil {
						log.Debug("queue length poll error", String("queue", q), Err(err))
						continue
					}
					QueueLength.WithLabelValues(q).Set(float64(n))
				}
			}
		}
	}()
}
