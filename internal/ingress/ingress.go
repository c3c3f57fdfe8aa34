// Copyright 2025 James Ross
// Package ingress normalizes MinIO/S3 object-created webhooks and worker
// job-completed callbacks into Event Stream entries, grounded on the
// original service's eventbus FastAPI app.
package ingress

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/flyingrobots/video-pipeline/internal/eventstream"
	"github.com/flyingrobots/video-pipeline/internal/model"
	"github.com/flyingrobots/video-pipeline/internal/obs"
)

// Handler publishes normalized events onto the Event Stream.
type Handler struct {
	stream eventstream.Stream
	log    *zap.Logger
}

func NewHandler(stream eventstream.Stream, log *zap.Logger) *Handler {
	return &Handler{stream: stream, log: log}
}

// RegisterRoutes wires the webhook, callback, and health endpoints onto
// router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/minio/webhook", h.minioWebhook).Methods(http.MethodPost)
	router.HandleFunc("/events/job-completed", h.jobCompleted).Methods(http.MethodPost)
	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
}

// minioS3Notification is the subset of the MinIO/S3 bucket notification
// schema the pipeline cares about.
type minioS3Notification struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				ETag string `json:"eTag"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

func (h *Handler) minioWebhook(w http.ResponseWriter, r *http.Request) {
	var payload minioS3Notification
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	published := 0
	for _, record := range payload.Records {
		bucket := record.S3.Bucket.Name
		key := record.S3.Object.Key
		if bucket == "" || key == "" {
			continue
		}
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}

		event := model.StreamEvent{Type: model.EventObjectCreated, EventTime: time.Now().UTC(), Bucket: bucket, Key: key}
		if err := h.stream.Publish(r.Context(), eventstream.EventEnvelope(toFields(event))); err != nil {
			h.log.Error("publish object created event failed", obs.Err(err), obs.String("bucket", bucket), obs.String("key", key))
			continue
		}
		obs.EventsPublished.WithLabelValues(string(model.EventObjectCreated)).Inc()
		published++
	}

	h.log.Info("minio_webhook_published", obs.Int("count", published))
	writeJSON(w, map[string]int{"published": published})
}

type jobCompletedPayload struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (h *Handler) jobCompleted(w http.ResponseWriter, r *http.Request) {
	var payload jobCompletedPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.JobID == "" {
		writeError(w, http.StatusBadRequest, "invalid job-completed payload")
		return
	}

	event := model.StreamEvent{
		Type:         model.EventJobCompleted,
		EventTime:    time.Now().UTC(),
		JobID:        payload.JobID,
		Status:       payload.Status,
		ErrorCode:    payload.ErrorCode,
		ErrorMessage: payload.ErrorMessage,
	}

	if err := h.stream.Publish(r.Context(), eventstream.EventEnvelope(toFields(event))); err != nil {
		h.log.Error("publish job completed event failed", obs.Err(err), obs.String("job_id", payload.JobID))
		writeError(w, http.StatusInternalServerError, "failed to publish event")
		return
	}
	obs.EventsPublished.WithLabelValues(string(model.EventJobCompleted)).Inc()
	writeJSON(w, map[string]int{"published": 1})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func toFields(event model.StreamEvent) map[string]string {
	fields := make(map[string]string)
	for k, v := range event.Fields() {
		if s, ok := v.(string); ok && s != "" {
			fields[k] = s
		}
	}
	return fields
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
