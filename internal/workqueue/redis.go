// Copyright 2025 James Ross
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flyingrobots/video-pipeline/internal/model"
)

// RedisQueue is the embedded Work Queue backend: plain Redis Lists with
// the reliable-queue BRPOPLPUSH pattern, grounded on the dequeue loop of
// the worker's runOne and the enqueue shape of the Redis Lists backend.
type RedisQueue struct {
	client        *redis.Client
	jobsKey       string
	dlqKey        string
	inFlightPttrn string
	blockTimeout  time.Duration
}

func NewRedisQueue(client *redis.Client, jobsKey, dlqKey string, blockTimeout time.Duration) *RedisQueue {
	return &RedisQueue{
		client:        client,
		jobsKey:       jobsKey,
		dlqKey:        dlqKey,
		inFlightPttrn: jobsKey + ":inflight:%s",
		blockTimeout:  blockTimeout,
	}
}

func (q *RedisQueue) inFlightKey(consumer string) string {
	return fmt.Sprintf(q.inFlightPttrn, consumer)
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg model.QueueMessage) error {
	payload, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}
	if err := q.client.LPush(ctx, q.jobsKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, consumer string) (*model.QueueMessage, string, error) {
	raw, err := q.client.BRPopLPush(ctx, q.jobsKey, q.inFlightKey(consumer), q.blockTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("dequeue: %w", err)
	}
	msg, err := model.UnmarshalQueueMessage(raw)
	if err != nil {
		// A poison payload should not wedge the queue; drop it from the
		// in-flight list and surface the error so the caller can log it.
		_ = q.client.LRem(ctx, q.inFlightKey(consumer), 1, raw).Err()
		return nil, raw, fmt.Errorf("unmarshal queue message: %w", err)
	}
	return &msg, raw, nil
}

func (q *RedisQueue) Ack(ctx context.Context, consumer, raw string) error {
	if err := q.client.LRem(ctx, q.inFlightKey(consumer), 1, raw).Err(); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

func (q *RedisQueue) Nack(ctx context.Context, consumer, raw string, msg model.QueueMessage, requeue bool) error {
	target := q.jobsKey
	payload := raw
	if !requeue {
		target = q.dlqKey
		if p, err := msg.Marshal(); err == nil {
			payload = p
		}
	} else if p, err := msg.Marshal(); err == nil {
		payload = p
	}
	if err := q.client.LPush(ctx, target, payload).Err(); err != nil {
		return fmt.Errorf("nack push to %s: %w", target, err)
	}
	if err := q.client.LRem(ctx, q.inFlightKey(consumer), 1, raw).Err(); err != nil {
		return fmt.Errorf("nack remove in-flight: %w", err)
	}
	return nil
}

func (q *RedisQueue) Length(ctx context.Context) (int64, int64, error) {
	jobs, err := q.client.LLen(ctx, q.jobsKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("jobs queue length: %w", err)
	}
	dlq, err := q.client.LLen(ctx, q.dlqKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("dlq length: %w", err)
	}
	return jobs, dlq, nil
}

func (q *RedisQueue) InFlight(ctx context.Context, consumer string) ([]string, error) {
	items, err := q.client.LRange(ctx, q.inFlightKey(consumer), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list in-flight: %w", err)
	}
	return items, nil
}

// DrainDLQ pops up to max messages off the dead letter queue. A payload
// that fails to unmarshal is dropped rather than returned, so one poison
// message can't wedge the analyzer.
func (q *RedisQueue) DrainDLQ(ctx context.Context, max int) ([]model.QueueMessage, error) {
	messages := make([]model.QueueMessage, 0, max)
	for i := 0; i < max; i++ {
		raw, err := q.client.RPop(ctx, q.dlqKey).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return messages, fmt.Errorf("drain dlq: %w", err)
		}
		msg, err := model.UnmarshalQueueMessage(raw)
		if err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (q *RedisQueue) Close() error { return q.client.Close() }
