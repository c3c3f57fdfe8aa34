// Copyright 2025 James Ross
package worker

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flyingrobots/video-pipeline/internal/config"
	"github.com/flyingrobots/video-pipeline/internal/eventstream"
	"github.com/flyingrobots/video-pipeline/internal/model"
	"github.com/flyingrobots/video-pipeline/internal/store"
)

type fakeQueue struct {
	acked    []string
	nacked   []bool // requeue flag per call
	dequeued *model.QueueMessage
}

func (f *fakeQueue) Enqueue(ctx context.Context, msg model.QueueMessage) error { return nil }
func (f *fakeQueue) Dequeue(ctx context.Context, consumer string) (*model.QueueMessage, string, error) {
	if f.dequeued == nil {
		return nil, "", nil
	}
	msg := *f.dequeued
	f.dequeued = nil
	return &msg, "raw-token", nil
}
func (f *fakeQueue) Ack(ctx context.Context, consumer, raw string) error {
	f.acked = append(f.acked, raw)
	return nil
}
func (f *fakeQueue) Nack(ctx context.Context, consumer, raw string, msg model.QueueMessage, requeue bool) error {
	f.nacked = append(f.nacked, requeue)
	return nil
}
func (f *fakeQueue) Length(ctx context.Context) (int64, int64, error) { return 0, 0, nil }
func (f *fakeQueue) InFlight(ctx context.Context, consumer string) ([]string, error) {
	return nil, nil
}
func (f *fakeQueue) DrainDLQ(ctx context.Context, max int) ([]model.QueueMessage, error) {
	return nil, nil
}
func (f *fakeQueue) Close() error { return nil }

type fakeObjects struct{ fail error }

func (f fakeObjects) EnsureBucket(ctx context.Context) error { return nil }
func (f fakeObjects) PresignPutURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "", nil
}
func (f fakeObjects) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return io.NopCloser(strings.NewReader("fake-bytes")), nil
}

type fakeProber struct {
	metadata map[string]any
	err      error
}

func (f fakeProber) Probe(ctx context.Context, path string) (map[string]any, error) {
	return f.metadata, f.err
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, metadata map[string]any) (string, error) {
	return "summary", nil
}

type fakeStream struct{ published []eventstream.EventEnvelope }

func (f *fakeStream) EnsureConsumerGroup(ctx context.Context) error { return nil }
func (f *fakeStream) Publish(ctx context.Context, event eventstream.EventEnvelope) error {
	f.published = append(f.published, event)
	return nil
}
func (f *fakeStream) ReadGroup(ctx context.Context, consumer string, count int64) ([]eventstream.Entry, error) {
	return nil, nil
}
func (f *fakeStream) Ack(ctx context.Context, id string) error { return nil }
func (f *fakeStream) Close() error                              { return nil }

type fakeHeartbeat struct{}

func (fakeHeartbeat) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return nil
}
func (fakeHeartbeat) Del(ctx context.Context, key string) error { return nil }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Worker.Concurrency = 1
	cfg.Worker.MaxAttempts = 2
	cfg.Worker.Backoff.Base = time.Millisecond
	cfg.Worker.Backoff.Max = 10 * time.Millisecond
	cfg.Worker.HeartbeatTTL = 5 * time.Second
	cfg.Worker.HeartbeatKeyPattern = "pipeline:worker:%s:heartbeat"
	cfg.CircuitBreaker.Window = time.Minute
	cfg.CircuitBreaker.CooldownPeriod = 30 * time.Second
	cfg.CircuitBreaker.FailureThreshold = 0.5
	cfg.CircuitBreaker.MinSamples = 100 // keep breaker closed across tests
	return cfg
}

func TestProcessMessageSucceeds(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.CreateJobIfMissing(context.Background(), model.Job{JobID: "job-1", Status: model.StatusProcessing, S3Bucket: "b", S3Key: "k"}))

	q := &fakeQueue{}
	stream := &fakeStream{}
	w := New(testConfig(), q, st, fakeObjects{}, fakeProber{metadata: map[string]any{}}, fakeSummarizer{}, stream, fakeHeartbeat{}, zap.NewNop())

	ok := w.processMessage(context.Background(), "worker-1", "raw-token", model.QueueMessage{JobID: "job-1", Bucket: "b", Key: "k"})
	assert.True(t, ok)
	assert.Len(t, q.acked, 1)

	job, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, job.Status)

	result, err := st.GetResult(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "summary", result.Summary)

	require.Len(t, stream.published, 1)
	assert.Equal(t, string(model.EventJobCompleted), stream.published[0]["type"])
}

func TestProcessMessageRetriesBeforeDeadLettering(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.CreateJobIfMissing(context.Background(), model.Job{JobID: "job-2", Status: model.StatusProcessing, S3Bucket: "b", S3Key: "k"}))

	q := &fakeQueue{}
	w := New(testConfig(), q, st, fakeObjects{fail: errors.New("s3 connection refused")}, fakeProber{}, fakeSummarizer{}, &fakeStream{}, fakeHeartbeat{}, zap.NewNop())

	msg := model.QueueMessage{JobID: "job-2", Bucket: "b", Key: "k"}
	ok := w.processMessage(context.Background(), "worker-1", "raw-token", msg)
	assert.False(t, ok)
	require.Len(t, q.nacked, 1)
	assert.True(t, q.nacked[0]) // first failure requeues

	ok = w.processMessage(context.Background(), "worker-1", "raw-token", model.QueueMessage{JobID: "job-2", Bucket: "b", Key: "k", Attempts: 1})
	assert.False(t, ok)
	require.Len(t, q.nacked, 2)
	assert.False(t, q.nacked[1]) // exhausted attempts: dead-lettered

	job, err := st.GetJob(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, job.Status)
	assert.Equal(t, "dependency_unavailable", job.ErrorCode)
}
