// Copyright 2025 James Ross
package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/video-pipeline/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateJobIfMissingIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := model.Job{JobID: "job-1", Status: model.StatusAwaitingUpload, S3Bucket: "b", S3Key: "uploads/job-1/file.mp4"}

	require.NoError(t, s.CreateJobIfMissing(ctx, job))
	require.NoError(t, s.CreateJobIfMissing(ctx, job)) // second call is a no-op, not an error

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingUpload, got.Status)
	assert.Equal(t, "uploads/job-1/file.mp4", got.S3Key)
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateJobClearsErrorFieldsOnSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := model.Job{JobID: "job-2", Status: model.StatusSubmitted, S3Bucket: "b", S3Key: "uploads/job-2/file.mp4"}
	require.NoError(t, s.CreateJobIfMissing(ctx, job))

	require.NoError(t, s.UpdateJob(ctx, "job-2", model.StatusFailed, "bad_media", "ffprobe: invalid codec"))
	got, err := s.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, "bad_media", got.ErrorCode)

	// A later retry that succeeds must not leave the stale FAILED-era
	// error fields behind.
	require.NoError(t, s.UpdateJob(ctx, "job-2", model.StatusSucceeded, "", ""))
	got, err = s.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, got.Status)
	assert.Empty(t, got.ErrorCode)
	assert.Empty(t, got.ErrorMessage)
}

func TestUpdateJobNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateJob(context.Background(), "nope", model.StatusProcessing, "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTryClaimIdempotencyOnlyOneWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	won, err := s.TryClaimIdempotency(ctx, "s3://bucket/uploads/job-3/file.mp4", "job-3")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.TryClaimIdempotency(ctx, "s3://bucket/uploads/job-3/file.mp4", "job-3-retry")
	require.NoError(t, err)
	assert.False(t, won)
}

func TestStoreAndGetResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	result := model.Result{
		JobID:    "job-4",
		Metadata: map[string]any{"format": map[string]any{"duration": "12.5"}},
		Summary:  "Mock Bedrock Summary: video codec=h264, resolution=1920x1080, duration_s=12.5.",
	}
	require.NoError(t, s.StoreResult(ctx, result))

	got, err := s.GetResult(ctx, "job-4")
	require.NoError(t, err)
	assert.Equal(t, result.Summary, got.Summary)
	assert.Equal(t, "12.5", got.Metadata["format"].(map[string]any)["duration"])
}

func TestGetResultNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetResult(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListJobsOrdersByCreatedAtDescending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := "2026-01-01T00:00:0"
	for i, id := range []string{"job-a", "job-b", "job-c"} {
		job := model.Job{JobID: id, Status: model.StatusSucceeded, S3Bucket: "b", S3Key: "k"}
		require.NoError(t, s.CreateJobIfMissing(ctx, job))
		_, err := s.db.ExecContext(ctx, `UPDATE jobs SET created_at = ? WHERE job_id = ?`, base+string(rune('0'+i))+"Z", id)
		require.NoError(t, err)
	}

	jobs, err := s.ListJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-c", jobs[0].JobID)
	assert.Equal(t, "job-b", jobs[1].JobID)
}
