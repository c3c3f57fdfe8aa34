// Copyright 2025 James Ross
// Package eventstream implements the Event Stream: an at-least-once,
// consumer-group log of ObjectCreated and JobCompleted events that the
// Ingress publishes to and the Orchestrator reads from.
package eventstream

import "context"

// Entry is one message read off the stream: its ID (for acking) and the
// decoded event payload.
type Entry struct {
	ID    string
	Event EventEnvelope
}

// EventEnvelope carries the event fields as a flat string map, the shape
// Redis Streams entries are naturally stored and read as.
type EventEnvelope map[string]string

// Stream is the Event Stream contract.
type Stream interface {
	// EnsureConsumerGroup creates the stream and consumer group if they
	// don't already exist; safe to call on every startup.
	EnsureConsumerGroup(ctx context.Context) error

	// Publish appends an event to the stream.
	Publish(ctx context.Context, event EventEnvelope) error

	// ReadGroup blocks up to the backend's configured timeout for up to
	// count new entries for the given consumer.
	ReadGroup(ctx context.Context, consumer string, count int64) ([]Entry, error)

	// Ack acknowledges a processed entry so it won't be redelivered.
	Ack(ctx context.Context, id string) error

	Close() error
}
