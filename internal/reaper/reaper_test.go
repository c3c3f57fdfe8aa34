// Copyright 2025 James Ross
package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flyingrobots/video-pipeline/internal/config"
	"github.com/flyingrobots/video-pipeline/internal/model"
	"github.com/flyingrobots/video-pipeline/internal/workqueue"
)

func newTestReaper(t *testing.T) (*Reaper, workqueue.Queue, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		Queue:  config.Queue{JobsQueue: "pipeline:jobs", DLQ: "pipeline:dlq"},
		Worker: config.Worker{HeartbeatKeyPattern: "pipeline:worker:%s:heartbeat"},
	}
	q := workqueue.NewRedisQueue(rdb, cfg.Queue.JobsQueue, cfg.Queue.DLQ, 100*time.Millisecond)
	return New(cfg, rdb, q, zap.NewNop()), q, rdb
}

func TestScanOnceRequeuesAbandonedJobWithoutHeartbeat(t *testing.T) {
	rep, q, rdb := newTestReaper(t)
	ctx := context.Background()

	_, raw, err := (func() (*model.QueueMessage, string, error) {
		require.NoError(t, q.Enqueue(ctx, model.QueueMessage{JobID: "job-1", Bucket: "b", Key: "k"}))
		return q.Dequeue(ctx, "dead-worker")
	})()
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	rep.scanOnce(ctx)

	jobs, _, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), jobs)

	inflight, err := q.InFlight(ctx, "dead-worker")
	require.NoError(t, err)
	assert.Empty(t, inflight)
	_ = rdb
}

func TestScanOnceSkipsWorkerWithLiveHeartbeat(t *testing.T) {
	rep, q, rdb := newTestReaper(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.QueueMessage{JobID: "job-1", Bucket: "b", Key: "k"}))
	_, _, err := q.Dequeue(ctx, "live-worker")
	require.NoError(t, err)
	require.NoError(t, rdb.Set(ctx, "pipeline:worker:live-worker:heartbeat", "1", time.Minute).Err())

	rep.scanOnce(ctx)

	jobs, _, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), jobs)

	inflight, err := q.InFlight(ctx, "live-worker")
	require.NoError(t, err)
	assert.Len(t, inflight, 1)
}
