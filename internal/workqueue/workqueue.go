// Copyright 2025 James Ross
// Package workqueue implements the Work Queue and its Dead Letter Queue:
// the durable hand-off between the Orchestrator's dispatch decision and a
// Worker's processing loop.
package workqueue

import (
	"context"

	"github.com/flyingrobots/video-pipeline/internal/model"
)

// Queue is the Work Queue contract. A claimed message is held in an
// implementation-specific "in flight" location until Ack or Nack is
// called, so a worker that crashes mid-processing doesn't silently lose
// the message.
type Queue interface {
	// Enqueue pushes a new message onto the jobs queue.
	Enqueue(ctx context.Context, msg model.QueueMessage) error

	// Dequeue blocks (up to the backend's configured timeout) for the
	// next message, atomically moving its raw payload into an in-flight
	// location keyed by consumer so a crash recovery sweep can find it
	// later. Returns a nil message (not an error) on timeout.
	Dequeue(ctx context.Context, consumer string) (msg *model.QueueMessage, raw string, err error)

	// Ack removes a message (identified by the raw token Dequeue
	// returned) from the in-flight location after successful processing.
	Ack(ctx context.Context, consumer, raw string) error

	// Nack returns a message to the jobs queue for retry (requeue=true)
	// or routes it to the dead letter queue (requeue=false), removing it
	// from the in-flight location either way.
	Nack(ctx context.Context, consumer, raw string, msg model.QueueMessage, requeue bool) error

	// Length reports the jobs queue and DLQ depths for metrics.
	Length(ctx context.Context) (jobs int64, dlq int64, err error)

	// InFlight lists raw, undeserialized payloads still parked under a
	// consumer's in-flight location; used by the crash recovery sweep.
	InFlight(ctx context.Context, consumer string) ([]string, error)

	// DrainDLQ removes and returns up to max messages from the dead
	// letter queue, for the DLQ analyzer's incident report.
	DrainDLQ(ctx context.Context, max int) ([]model.QueueMessage, error)

	Close() error
}
