// Copyright 2025 James Ross
package dlqanalyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flyingrobots/video-pipeline/internal/model"
)

func TestAnalyzeMessagesClassifiesByCategory(t *testing.T) {
	report := AnalyzeMessages([]model.QueueMessage{
		{JobID: "j1", LastError: "ffprobe_failed: Invalid data found when processing input"},
		{JobID: "j2", LastError: "Timeout while calling upstream"},
	}, time.Unix(1700000000, 0))

	assert.Equal(t, 2, report.TotalMessages)
	assert.Equal(t, 1, report.Categories["bad_media"])
	assert.Equal(t, 1, report.Categories["timeout"])
	assert.Equal(t, "j1", report.Samples["bad_media"].ExampleJobID)
}

func TestAnalyzeMessagesDefaultsUnknownError(t *testing.T) {
	report := AnalyzeMessages([]model.QueueMessage{{JobID: "j1"}}, time.Unix(1700000000, 0))
	assert.Equal(t, "unknown", report.Samples["unexpected_exception"].ExampleError)
}

type fakeDrainQueue struct{ messages []model.QueueMessage }

func (f *fakeDrainQueue) Enqueue(ctx context.Context, msg model.QueueMessage) error { return nil }
func (f *fakeDrainQueue) Dequeue(ctx context.Context, consumer string) (*model.QueueMessage, string, error) {
	return nil, "", nil
}
func (f *fakeDrainQueue) Ack(ctx context.Context, consumer, raw string) error { return nil }
func (f *fakeDrainQueue) Nack(ctx context.Context, consumer, raw string, msg model.QueueMessage, requeue bool) error {
	return nil
}
func (f *fakeDrainQueue) Length(ctx context.Context) (int64, int64, error) { return 0, 0, nil }
func (f *fakeDrainQueue) InFlight(ctx context.Context, consumer string) ([]string, error) {
	return nil, nil
}
func (f *fakeDrainQueue) DrainDLQ(ctx context.Context, max int) ([]model.QueueMessage, error) {
	return f.messages, nil
}
func (f *fakeDrainQueue) Close() error { return nil }

func TestRunWritesIncidentReport(t *testing.T) {
	dir := t.TempDir()
	queue := &fakeDrainQueue{messages: []model.QueueMessage{{JobID: "j1", LastError: "s3 connection refused"}}}

	report, path, err := Run(context.Background(), queue, dir, 100, time.Unix(1700000000, 0), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalMessages)
	assert.Equal(t, filepath.Join(dir, "incident-1700000000.json"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dependency_unavailable")
}
