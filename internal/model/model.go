// Copyright 2025 James Ross
// Package model holds the wire and storage shapes shared by every
// component of the pipeline: jobs, results, idempotency claims, and the
// messages that travel over the queue and event stream.
package model

import (
	"encoding/json"
	"time"
)

// JobStatus is the job lifecycle state.
type JobStatus string

const (
	StatusAwaitingUpload JobStatus = "AWAITING_UPLOAD"
	StatusSubmitted      JobStatus = "SUBMITTED"
	StatusProcessing     JobStatus = "PROCESSING"
	StatusSucceeded      JobStatus = "SUCCEEDED"
	StatusFailed         JobStatus = "FAILED"
)

// IsValidTransition reports whether moving from one status to another is
// a transition the lifecycle document describes. Stores do not enforce
// this; it documents the contract callers are expected to honor.
func IsValidTransition(from, to JobStatus) bool {
	switch from {
	case StatusAwaitingUpload:
		return to == StatusSubmitted
	case StatusSubmitted:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusSucceeded || to == StatusFailed
	case StatusSucceeded, StatusFailed:
		return to == StatusProcessing // retry re-entry after reclassification
	default:
		return false
	}
}

// Job is the durable record tracked by the State Store.
type Job struct {
	JobID        string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	S3Bucket     string    `json:"s3_bucket"`
	S3Key        string    `json:"s3_key"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Result is the durable output of a successfully processed job.
type Result struct {
	JobID    string         `json:"job_id"`
	Metadata map[string]any `json:"metadata"`
	Summary  string         `json:"summary"`
}

// IdempotencyClaim records the first job to claim a given key.
type IdempotencyClaim struct {
	IdempotencyKey string    `json:"idempotency_key"`
	JobID          string    `json:"job_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// QueueMessage is the envelope the Orchestrator enqueues and the Worker
// dequeues. Attempts is incremented by the Worker on each retry pass.
type QueueMessage struct {
	JobID     string `json:"job_id"`
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

func (m QueueMessage) Marshal() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func UnmarshalQueueMessage(s string) (QueueMessage, error) {
	var m QueueMessage
	err := json.Unmarshal([]byte(s), &m)
	return m, err
}

// StreamEventType names the two event kinds carried on the Event Stream.
type StreamEventType string

const (
	EventObjectCreated StreamEventType = "ObjectCreated"
	EventJobCompleted  StreamEventType = "JobCompleted"
)

// StreamEvent is the payload published to and consumed from the Event
// Stream. Exactly one of the two payload shapes is populated depending on
// Type.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	EventTime time.Time       `json:"event_time"`

	// ObjectCreated fields.
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`

	// JobCompleted fields.
	JobID        string `json:"job_id,omitempty"`
	Status       string `json:"status,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (e StreamEvent) Fields() map[string]interface{} {
	b, _ := json.Marshal(e)
	var f map[string]interface{}
	_ = json.Unmarshal(b, &f)
	return f
}

func StreamEventFromFields(fields map[string]string) StreamEvent {
	var e StreamEvent
	e.Type = StreamEventType(fields["type"])
	if t, err := time.Parse(time.RFC3339Nano, fields["event_time"]); err == nil {
		e.EventTime = t
	}
	e.Bucket = fields["bucket"]
	e.Key = fields["key"]
	e.JobID = fields["job_id"]
	e.Status = fields["status"]
	e.ErrorCode = fields["error_code"]
	e.ErrorMessage = fields["error_message"]
	return e
}
