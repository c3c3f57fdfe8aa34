// Copyright 2025 James Ross
// Package reaper recovers work abandoned by a crashed worker: it scans
// heartbeat keys and requeues anything left in a dead worker's in-flight
// list.
package reaper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flyingrobots/video-pipeline/internal/config"
	"github.com/flyingrobots/video-pipeline/internal/model"
	"github.com/flyingrobots/video-pipeline/internal/obs"
	"github.com/flyingrobots/video-pipeline/internal/workqueue"
)

// Reaper is only meaningful against the embedded Redis Lists work queue:
// the managed SQS backend's visibility timeout already reclaims
// abandoned messages on its own.
type Reaper struct {
	cfg   *config.Config
	rdb   *redis.Client
	queue workqueue.Queue
	log   *zap.Logger
}

func New(cfg *config.Config, rdb *redis.Client, queue workqueue.Queue, log *zap.Logger) *Reaper {
	return &Reaper{cfg: cfg, rdb: rdb, queue: queue, log: log}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scanOnce(ctx)
		}
	}
}

func (r *Reaper) scanOnce(ctx context.Context) {
	var cursor uint64
	for {
		keys, cur, err := r.rdb.Scan(ctx, cursor, r.cfg.Queue.JobsQueue+":inflight:*", 100).Result()
		if err != nil {
			r.log.Warn("reaper scan error", obs.Err(err))
			return
		}
		cursor = cur
		for _, inflightKey := range keys {
			worker := workerIDFromInflightKey(inflightKey, r.cfg.Queue.JobsQueue)
			if worker == "" {
				continue
			}
			hbKey := fmt.Sprintf(r.cfg.Worker.HeartbeatKeyPattern, worker)
			exists, _ := r.rdb.Exists(ctx, hbKey).Result()
			if exists == 1 {
				continue // worker is alive
			}

			raws, err := r.queue.InFlight(ctx, worker)
			if err != nil {
				r.log.Warn("reaper list in-flight error", obs.Err(err))
				continue
			}
			for _, raw := range raws {
				msg, err := model.UnmarshalQueueMessage(raw)
				if err != nil {
					continue
				}
				msg.Attempts++
				if err := r.queue.Nack(ctx, worker, raw, msg, true); err != nil {
					r.log.Error("reaper requeue failed", obs.Err(err))
					continue
				}
				obs.ReaperRecovered.Inc()
				r.log.Warn("requeued abandoned job", obs.String("job_id", msg.JobID), obs.String("from_worker", worker))
			}
		}
		if cursor == 0 {
			break
		}
	}
}

func workerIDFromInflightKey(key, jobsQueueKey string) string {
	prefix := jobsQueueKey + ":inflight:"
	if !strings.HasPrefix(key, prefix) {
		return ""
	}
	return strings.TrimPrefix(key, prefix)
}

