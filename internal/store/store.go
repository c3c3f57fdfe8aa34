// Copyright 2025 James Ross
// Package store implements the State Store: the durable record of every
// job's lifecycle, its result, and the idempotency claims that make
// orchestration dispatch safe to retry.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/flyingrobots/video-pipeline/internal/config"
	"github.com/flyingrobots/video-pipeline/internal/model"
)

// ErrNotFound is returned by GetJob/GetResult/UpdateJob when no record
// exists.
var ErrNotFound = errors.New("store: not found")

// Store is the durable state interface every component depends on. Both
// backends (embedded SQLite and managed DynamoDB) implement it
// identically from the caller's point of view.
type Store interface {
	// CreateJobIfMissing inserts a job row if job_id doesn't already
	// exist. It never errors on a pre-existing row; callers can't tell
	// whether this call created the row or found it already there.
	CreateJobIfMissing(ctx context.Context, job model.Job) error

	// UpdateJob unconditionally overwrites the mutable fields of an
	// existing job row (status, error_code, error_message, updated_at).
	// It is not gated by the current status. It returns ErrNotFound if
	// job_id doesn't exist; it never creates the row.
	UpdateJob(ctx context.Context, jobID string, status model.JobStatus, errorCode, errorMessage string) error

	// GetJob returns ErrNotFound if job_id doesn't exist.
	GetJob(ctx context.Context, jobID string) (model.Job, error)

	// StoreResult upserts the result row for job_id.
	StoreResult(ctx context.Context, result model.Result) error

	// GetResult returns ErrNotFound if no result exists for job_id.
	GetResult(ctx context.Context, jobID string) (model.Result, error)

	// TryClaimIdempotency atomically inserts the claim iff the key is
	// unclaimed. Returns true iff this call won the claim.
	TryClaimIdempotency(ctx context.Context, key, jobID string) (bool, error)

	// ListJobs returns up to limit jobs ordered by created_at
	// descending (most recent first).
	ListJobs(ctx context.Context, limit int) ([]model.Job, error)

	Close() error
}

// NewFromConfig selects and constructs the backend named by
// cfg.Store.Backend.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "local":
		return NewSQLiteStore(cfg.Store.SQLitePath)
	case "managed":
		return NewDynamoStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Store.Backend)
	}
}
