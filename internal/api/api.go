// Copyright 2025 James Ross
// Package api implements the HTTP API: job submission (presigned
// upload), status, result, and history lookups, grounded on the original
// service's FastAPI app.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/flyingrobots/video-pipeline/internal/config"
	"github.com/flyingrobots/video-pipeline/internal/model"
	"github.com/flyingrobots/video-pipeline/internal/objectstore"
	"github.com/flyingrobots/video-pipeline/internal/obs"
	"github.com/flyingrobots/video-pipeline/internal/store"
)

// Handler serves the job submission and lookup endpoints.
type Handler struct {
	cfg     *config.Config
	store   store.Store
	objects objectstore.Store
	log     *zap.Logger
}

func NewHandler(cfg *config.Config, st store.Store, objects objectstore.Store, log *zap.Logger) *Handler {
	return &Handler{cfg: cfg, store: st, objects: objects, log: log}
}

// RegisterRoutes wires every API endpoint onto router. Every route but
// /healthz and /auth/login requires a bearer token.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	router.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)

	protected := router.NewRoute().Subrouter()
	protected.Use(RequireAuth(h.cfg))
	protected.HandleFunc("/jobs", h.createJob).Methods(http.MethodPost)
	protected.HandleFunc("/jobs/{job_id}", h.getJob).Methods(http.MethodGet)
	protected.HandleFunc("/jobs/{job_id}/result", h.getResult).Methods(http.MethodGet)
	protected.HandleFunc("/history", h.history).Methods(http.MethodGet)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "env": h.cfg.AppEnv})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid login request")
		return
	}
	if req.Username != h.cfg.Auth.Username || req.Password != h.cfg.Auth.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, expiresIn, err := IssueToken(h.cfg, req.Username)
	if err != nil {
		h.log.Error("issue token failed", obs.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer", ExpiresIn: expiresIn})
}

type createJobRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
}

type createJobResponse struct {
	JobID     string `json:"job_id"`
	S3Bucket  string `json:"s3_bucket"`
	S3Key     string `json:"s3_key"`
	UploadURL string `json:"upload_url"`
	ExpiresIn int    `json:"expires_in"`
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}

	jobID := uuid.NewString()
	key := "uploads/" + jobID + "/" + req.Filename
	expiry := h.cfg.ObjectStore.PresignExpiry

	url, err := h.objects.PresignPutURL(r.Context(), key, expiry)
	if err != nil {
		h.log.Error("presign put url failed", obs.Err(err), obs.String("job_id", jobID))
		writeError(w, http.StatusInternalServerError, "failed to presign upload url")
		return
	}

	job := model.Job{JobID: jobID, Status: model.StatusAwaitingUpload, S3Bucket: h.cfg.ObjectStore.Bucket, S3Key: key}
	if err := h.store.CreateJobIfMissing(r.Context(), job); err != nil {
		h.log.Error("create job failed", obs.Err(err), obs.String("job_id", jobID))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.log.Info("job_created", obs.String("job_id", jobID), obs.String("user", userFromContext(r.Context())), obs.String("s3_key", key))
	writeJSON(w, http.StatusOK, createJobResponse{
		JobID:     jobID,
		S3Bucket:  h.cfg.ObjectStore.Bucket,
		S3Key:     key,
		UploadURL: url,
		ExpiresIn: int(expiry.Seconds()),
	})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.log.Error("get job failed", obs.Err(err), obs.String("job_id", jobID))
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) getResult(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	result, err := h.store.GetResult(r.Context(), jobID)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		h.log.Error("get result failed", obs.Err(err), obs.String("job_id", jobID))
		writeError(w, http.StatusInternalServerError, "failed to get result")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}

	jobs, err := h.store.ListJobs(r.Context(), limit)
	if err != nil {
		h.log.Error("list jobs failed", obs.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": jobs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}
