// Copyright 2025 James Ross
package ingress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flyingrobots/video-pipeline/internal/eventstream"
)

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

func newTestRouter(stream *fakeStream) *mux.Router {
	router := mux.NewRouter()
	NewHandler(stream, zap.NewNop()).RegisterRoutes(router)
	return router
}

func TestMinioWebhookPublishesOneEventPerRecord(t *testing.T) {
	stream := &fakeStream{}
	router := newTestRouter(stream)

	body := `{"Records":[{"s3":{"bucket":{"name":"media-uploads"},"object":{"key":"uploads%2Fjob-1%2Ffile.mp4","eTag":"abc","size":1024}}}]}`
	req := httptest.NewRequest(http.MethodPost, "/minio/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, stream.published, 1)
	assert.Equal(t, "media-uploads", stream.published[0]["bucket"])
	assert.Equal(t, "uploads/job-1/file.mp4", stream.published[0]["key"])
}

func TestMinioWebhookSkipsRecordsMissingBucketOrKey(t *testing.T) {
	stream := &fakeStream{}
	router := newTestRouter(stream)

	body := `{"Records":[{"s3":{"bucket":{},"object":{"key":""}}}]}`
	req := httptest.NewRequest(http.MethodPost, "/minio/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, stream.published)
}

func TestJobCompletedRequiresJobID(t *testing.T) {
	stream := &fakeStream{}
	router := newTestRouter(stream)

	req := httptest.NewRequest(http.MethodPost, "/events/job-completed", strings.NewReader(`{"status":"SUCCEEDED"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, stream.published)
}

func TestJobCompletedPublishesEvent(t *testing.T) {
	stream := &fakeStream{}
	router := newTestRouter(stream)

	req := httptest.NewRequest(http.MethodPost, "/events/job-completed", strings.NewReader(`{"job_id":"job-1","status":"FAILED","error_code":"bad_media","error_message":"invalid codec"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, stream.published, 1)
	assert.Equal(t, "job-1", stream.published[0]["job_id"])
	assert.Equal(t, "bad_media", stream.published[0]["error_code"])
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&fakeStream{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
