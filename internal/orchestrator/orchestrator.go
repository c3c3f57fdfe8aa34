// Copyright 2025 James Ross
// Package orchestrator consumes ObjectCreated and JobCompleted events off
// the Event Stream and turns them into State Store writes and Work Queue
// dispatch, grounded on the original service's handlers/main split.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/video-pipeline/internal/eventstream"
	"github.com/flyingrobots/video-pipeline/internal/model"
	"github.com/flyingrobots/video-pipeline/internal/obs"
	"github.com/flyingrobots/video-pipeline/internal/store"
	"github.com/flyingrobots/video-pipeline/internal/workqueue"
)

// DecisionAction names what the orchestrator did with an ObjectCreated
// event.
type DecisionAction string

const (
	ActionEnqueued      DecisionAction = "enqueued"
	ActionSkipDuplicate DecisionAction = "skip_duplicate"
)

// Decision records the outcome of handling one ObjectCreated event.
type Decision struct {
	Action         DecisionAction
	JobID          string
	IdempotencyKey string
}

// Orchestrator wires the Event Stream, State Store, and Work Queue
// together.
type Orchestrator struct {
	stream   eventstream.Stream
	store    store.Store
	queue    workqueue.Queue
	consumer string
	log      *zap.Logger
}

func New(stream eventstream.Stream, st store.Store, queue workqueue.Queue, consumer string, log *zap.Logger) *Orchestrator {
	return &Orchestrator{stream: stream, store: st, queue: queue, consumer: consumer, log: log}
}

// jobIDFromS3Key extracts the job ID embedded in an upload key of the
// form "uploads/<job_id>/<filename>", grounded on the original service's
// job_id_from_s3_key.
func jobIDFromS3Key(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) >= 3 && parts[0] == "uploads" {
		return parts[1]
	}
	return ""
}

// HandleObjectCreated claims idempotency for the upload, records the job,
// and dispatches it onto the work queue. A duplicate claim (the same S3
// key observed twice, e.g. a retried webhook) is a no-op, not an error.
func (o *Orchestrator) HandleObjectCreated(ctx context.Context, event model.StreamEvent) (Decision, error) {
	jobID := jobIDFromS3Key(event.Key)
	if jobID == "" {
		jobID = fmt.Sprintf("job-%d", time.Now().UnixNano()/int64(time.Millisecond))
	}
	idempotencyKey := fmt.Sprintf("s3://%s/%s", event.Bucket, event.Key)

	claimed, err := o.store.TryClaimIdempotency(ctx, idempotencyKey, jobID)
	if err != nil {
		return Decision{}, fmt.Errorf("claim idempotency: %w", err)
	}
	if !claimed {
		return Decision{Action: ActionSkipDuplicate, JobID: jobID, IdempotencyKey: idempotencyKey}, nil
	}

	job := model.Job{JobID: jobID, Status: model.StatusSubmitted, S3Bucket: event.Bucket, S3Key: event.Key}
	if err := o.store.CreateJobIfMissing(ctx, job); err != nil {
		return Decision{}, fmt.Errorf("create job: %w", err)
	}
	if err := o.store.UpdateJob(ctx, jobID, model.StatusProcessing, "", ""); err != nil {
		return Decision{}, fmt.Errorf("update job to processing: %w", err)
	}

	msg := model.QueueMessage{JobID: jobID, Bucket: event.Bucket, Key: event.Key}
	if err := o.queue.Enqueue(ctx, msg); err != nil {
		return Decision{}, fmt.Errorf("enqueue job: %w", err)
	}
	obs.JobsEnqueued.Inc()
	obs.OrchestratorDecisions.WithLabelValues(string(ActionEnqueued)).Inc()

	return Decision{Action: ActionEnqueued, JobID: jobID, IdempotencyKey: idempotencyKey}, nil
}

// HandleJobCompleted applies the Worker's terminal status update to the
// State Store.
func (o *Orchestrator) HandleJobCompleted(ctx context.Context, event model.StreamEvent) error {
	status := model.JobStatus(event.Status)
	if err := o.store.UpdateJob(ctx, event.JobID, status, event.ErrorCode, event.ErrorMessage); err != nil {
		return fmt.Errorf("update job on completion: %w", err)
	}
	return nil
}

// Run consumes the Event Stream until ctx is canceled, dispatching each
// entry to the matching handler and acking on success. A handler error is
// logged, not fatal, so one bad event can't wedge the consumer group --
// the event stays unacked in the group's pending list. This loop reads
// only new entries and does not re-read or claim pending ones.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.stream.EnsureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}
	o.log.Info("orchestrator started", obs.String("consumer", o.consumer))

	for ctx.Err() == nil {
		entries, err := o.stream.ReadGroup(ctx, o.consumer, 10)
		if err != nil {
			o.log.Error("orchestrator read group failed", obs.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, entry := range entries {
			o.handleEntry(ctx, entry)
		}
	}
	return nil
}

func (o *Orchestrator) handleEntry(ctx context.Context, entry eventstream.Entry) {
	fields := map[string]string(entry.Event)
	event := model.StreamEventFromFields(fields)

	var err error
	switch event.Type {
	case model.EventObjectCreated:
		var decision Decision
		decision, err = o.HandleObjectCreated(ctx, event)
		if err == nil {
			o.log.Info("object_created_handled",
				obs.String("action", string(decision.Action)),
				obs.String("job_id", decision.JobID),
				obs.String("idempotency_key", decision.IdempotencyKey),
			)
		}
	case model.EventJobCompleted:
		err = o.HandleJobCompleted(ctx, event)
		if err == nil {
			o.log.Info("job_status_updated", obs.String("job_id", event.JobID), obs.String("status", event.Status))
		}
	default:
		o.log.Warn("unknown_event_type", obs.String("event_type", string(event.Type)))
	}

	if err != nil {
		o.log.Error("orchestrator_event_failed", obs.String("message_id", entry.ID), obs.Err(err))
		return
	}
	if err := o.stream.Ack(ctx, entry.ID); err != nil {
		o.log.Error("orchestrator_ack_failed", obs.String("message_id", entry.ID), obs.Err(err))
	}
}
