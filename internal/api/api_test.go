// Copyright 2025 James Ross
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flyingrobots/video-pipeline/internal/config"
	"github.com/flyingrobots/video-pipeline/internal/store"
)

type fakeObjects struct{ url string }

func (f *fakeObjects) EnsureBucket(ctx context.Context) error { return nil }
func (f *fakeObjects) PresignPutURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return f.url + "/" + key, nil
}
func (f *fakeObjects) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv: "test",
		Auth: config.Auth{
			Username:  "admin",
			Password:  "secret",
			JWTSecret: "test-secret",
			JWTIssuer: "video-pipeline",
			TokenTTL:  time.Hour,
		},
		ObjectStore: config.ObjectStore{Bucket: "media-uploads", PresignExpiry: 15 * time.Minute},
	}
}

func newTestRouter(t *testing.T) (*mux.Router, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	router := mux.NewRouter()
	NewHandler(testConfig(), st, &fakeObjects{url: "https://upload.example"}, zap.NewNop()).RegisterRoutes(router)
	return router, st
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestLoginSucceedsWithValidCredentials(t *testing.T) {
	router, _ := newTestRouter(t)
	body := `{"username":"admin","password":"secret"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp tokenResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "bearer", resp.TokenType)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	router, _ := newTestRouter(t)
	body := `{"username":"admin","password":"wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func authedRequest(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	token, _, err := IssueToken(testConfig(), "admin")
	require.NoError(t, err)
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestCreateJobReturnsPresignedUpload(t *testing.T) {
	router, _ := newTestRouter(t)
	req := authedRequest(t, http.MethodPost, "/jobs", `{"filename":"clip.mp4"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp createJobResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, "media-uploads", resp.S3Bucket)
	assert.Contains(t, resp.S3Key, resp.JobID)
	assert.Contains(t, resp.UploadURL, resp.S3Key)
	assert.Equal(t, 900, resp.ExpiresIn)
}

func TestCreateJobRejectsMissingFilename(t *testing.T) {
	router, _ := newTestRouter(t)
	req := authedRequest(t, http.MethodPost, "/jobs", `{}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobsRequireAuth(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"filename":"clip.mp4"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	req := authedRequest(t, http.MethodGet, "/jobs/does-not-exist", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobFound(t *testing.T) {
	router, st := newTestRouter(t)

	createReq := authedRequest(t, http.MethodPost, "/jobs", `{"filename":"clip.mp4"}`)
	createRec := httptest.NewRecorder()
	router.ServeHTTP(createRec, createReq)
	var created createJobResponse
	decodeBody(t, createRec, &created)

	getReq := authedRequest(t, http.MethodGet, "/jobs/"+created.JobID, "")
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)

	require.Equal(t, http.StatusOK, getRec.Code)
	_ = st
}

func TestGetResultNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	req := authedRequest(t, http.MethodGet, "/jobs/does-not-exist/result", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryClampsLimit(t *testing.T) {
	router, _ := newTestRouter(t)
	req := authedRequest(t, http.MethodGet, "/history?limit=9999", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []map[string]any `json:"items"`
	}
	decodeBody(t, rec, &resp)
	assert.NotNil(t, resp.Items)
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
