// Copyright 2025 James Ross
package workqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/video-pipeline/internal/model"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, "jobs", "dlq", 100*time.Millisecond)
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, model.QueueMessage{JobID: "job-1", Bucket: "b", Key: "k"}))

	msg, raw, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	assert.Equal(t, "job-1", msg.JobID)

	inFlight, err := q.InFlight(ctx, "worker-1")
	require.NoError(t, err)
	assert.Len(t, inFlight, 1)

	require.NoError(t, q.Ack(ctx, "worker-1", raw))
	inFlight, err = q.InFlight(ctx, "worker-1")
	require.NoError(t, err)
	assert.Empty(t, inFlight)
}

func TestDequeueTimesOutWithNilMessage(t *testing.T) {
	q := newTestQueue(t)
	msg, raw, err := q.Dequeue(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Empty(t, raw)
}

func TestNackRequeueGoesBackToJobsQueue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	msg := model.QueueMessage{JobID: "job-2", Bucket: "b", Key: "k"}
	require.NoError(t, q.Enqueue(ctx, msg))
	_, raw, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)

	msg.Attempts++
	require.NoError(t, q.Nack(ctx, "worker-1", raw, msg, true))

	jobs, dlq, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), jobs)
	assert.Equal(t, int64(0), dlq)

	redequeued, _, err := q.Dequeue(ctx, "worker-2")
	require.NoError(t, err)
	assert.Equal(t, 1, redequeued.Attempts)
}

func TestNackDeadLettersGoesToDLQ(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	msg := model.QueueMessage{JobID: "job-3", Bucket: "b", Key: "k", Attempts: 5}
	require.NoError(t, q.Enqueue(ctx, msg))
	_, raw, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)

	require.NoError(t, q.Nack(ctx, "worker-1", raw, msg, false))

	jobs, dlq, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), jobs)
	assert.Equal(t, int64(1), dlq)
}
