// Copyright 2025 James Ross
package eventstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStream is the Redis Streams-backed Stream implementation, grounded
// on the consumer-group bootstrap and XADD/XREADGROUP/XACK shape of the
// storage pack's Redis Streams backend.
type RedisStream struct {
	client        *redis.Client
	streamKey     string
	consumerGroup string
	maxLen        int64
	blockTimeout  time.Duration
}

func NewRedisStream(client *redis.Client, streamKey, consumerGroup string, maxLen int64) *RedisStream {
	return &RedisStream{
		client:        client,
		streamKey:     streamKey,
		consumerGroup: consumerGroup,
		maxLen:        maxLen,
		blockTimeout:  5 * time.Second,
	}
}

func (s *RedisStream) EnsureConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.streamKey, s.consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("ensure consumer group: %w", err)
	}
	return nil
}

func (s *RedisStream) Publish(ctx context.Context, event EventEnvelope) error {
	values := make(map[string]interface{}, len(event))
	for k, v := range event {
		values[k] = v
	}
	args := &redis.XAddArgs{Stream: s.streamKey, ID: "*", Values: values}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if _, err := s.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (s *RedisStream) ReadGroup(ctx context.Context, consumer string, count int64) ([]Entry, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.consumerGroup,
		Consumer: consumer,
		Streams:  []string{s.streamKey, ">"},
		Count:    count,
		Block:    s.blockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read group: %w", err)
	}

	var entries []Entry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			envelope := make(EventEnvelope, len(msg.Values))
			for k, v := range msg.Values {
				if s, ok := v.(string); ok {
					envelope[k] = s
				}
			}
			entries = append(entries, Entry{ID: msg.ID, Event: envelope})
		}
	}
	return entries, nil
}

func (s *RedisStream) Ack(ctx context.Context, id string) error {
	if err := s.client.XAck(ctx, s.streamKey, s.consumerGroup, id).Err(); err != nil {
		return fmt.Errorf("ack event %s: %w", id, err)
	}
	return nil
}

func (s *RedisStream) Close() error { return s.client.Close() }
