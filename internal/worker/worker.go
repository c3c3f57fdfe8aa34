// Copyright 2025 James Ross
// Package worker implements the Worker: dequeue, download, probe,
// summarize, store, and either ack, retry, or dead-letter, grounded on
// the original service's worker main loop and the teacher's BRPOPLPUSH
// dispatch shape.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/video-pipeline/internal/breaker"
	"github.com/flyingrobots/video-pipeline/internal/classifier"
	"github.com/flyingrobots/video-pipeline/internal/config"
	"github.com/flyingrobots/video-pipeline/internal/eventstream"
	"github.com/flyingrobots/video-pipeline/internal/media"
	"github.com/flyingrobots/video-pipeline/internal/model"
	"github.com/flyingrobots/video-pipeline/internal/objectstore"
	"github.com/flyingrobots/video-pipeline/internal/obs"
	"github.com/flyingrobots/video-pipeline/internal/store"
	"github.com/flyingrobots/video-pipeline/internal/workqueue"
)

// heartbeatKeeper is the redis subset the worker needs for heartbeats;
// kept narrow so tests can fake it without standing up miniredis.
type heartbeatKeeper interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type Worker struct {
	cfg        *config.Config
	queue      workqueue.Queue
	store      store.Store
	objects    objectstore.Store
	prober     media.Prober
	summarizer media.Summarizer
	events     eventstream.Stream
	hb         heartbeatKeeper
	cb         *breaker.CircuitBreaker
	log        *zap.Logger
	baseID     string
}

func New(
	cfg *config.Config,
	queue workqueue.Queue,
	st store.Store,
	objects objectstore.Store,
	prober media.Prober,
	summarizer media.Summarizer,
	events eventstream.Stream,
	hb heartbeatKeeper,
	log *zap.Logger,
) *Worker {
	cb := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
	host, _ := os.Hostname()
	base := fmt.Sprintf("%s-%d", host, os.Getpid())
	return &Worker{cfg: cfg, queue: queue, store: st, objects: objects, prober: prober, summarizer: summarizer, events: events, hb: hb, cb: cb, log: log, baseID: base}
}

// Run starts cfg.Worker.Concurrency dequeue loops and blocks until ctx is
// canceled.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Worker.Concurrency; i++ {
		wg.Add(1)
		id := fmt.Sprintf("%s-%d", w.baseID, i)
		go func(workerID string) {
			defer wg.Done()
			obs.WorkerActive.Inc()
			defer obs.WorkerActive.Dec()
			w.runOne(ctx, workerID)
		}(id)
	}

	go w.reportBreakerState(ctx)

	wg.Wait()
	return nil
}

func (w *Worker) reportBreakerState(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch w.cb.State() {
			case breaker.Closed:
				obs.CircuitBreakerState.Set(0)
			case breaker.HalfOpen:
				obs.CircuitBreakerState.Set(1)
			case breaker.Open:
				obs.CircuitBreakerState.Set(2)
			}
		}
	}
}

func (w *Worker) runOne(ctx context.Context, workerID string) {
	hbKey := fmt.Sprintf(w.cfg.Worker.HeartbeatKeyPattern, workerID)

	for ctx.Err() == nil {
		if !w.cb.Allow() {
			time.Sleep(w.cfg.CircuitBreaker.CooldownPeriod / 10)
			continue
		}

		msg, raw, err := w.queue.Dequeue(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("dequeue error", obs.Err(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if msg == nil {
			continue // timeout, nothing to process
		}

		_ = w.hb.Set(ctx, hbKey, raw, w.cfg.Worker.HeartbeatTTL)

		start := time.Now()
		ok := w.processMessage(ctx, workerID, raw, *msg)
		obs.JobProcessingDuration.Observe(time.Since(start).Seconds())

		prev := w.cb.State()
		w.cb.Record(ok)
		if curr := w.cb.State(); prev != curr && curr == breaker.Open {
			obs.CircuitBreakerTrips.Inc()
		}

		_ = w.hb.Del(ctx, hbKey)
	}
}

// processMessage runs the download -> probe -> summarize -> store chain
// and routes the outcome to ack, retry, or dead letter. It returns
// whether the attempt succeeded, for the circuit breaker's sliding
// window.
func (w *Worker) processMessage(ctx context.Context, workerID, raw string, msg model.QueueMessage) bool {
	log := w.log.With(obs.String("job_id", msg.JobID), obs.String("worker_id", workerID))

	if updErr := w.store.UpdateJob(ctx, msg.JobID, model.StatusProcessing, "", ""); updErr != nil {
		log.Warn("update job to processing failed", obs.Err(updErr))
	}

	metadata, summary, err := w.extract(ctx, msg)
	if err == nil {
		if storeErr := w.store.StoreResult(ctx, model.Result{JobID: msg.JobID, Metadata: metadata, Summary: summary}); storeErr != nil {
			err = fmt.Errorf("store result: %w", storeErr)
		}
	}

	if err == nil {
		if updErr := w.store.UpdateJob(ctx, msg.JobID, model.StatusSucceeded, "", ""); updErr != nil {
			log.Error("update job to succeeded failed", obs.Err(updErr))
		}
		w.publishCompleted(ctx, msg.JobID, model.StatusSucceeded, "", "")
		if ackErr := w.queue.Ack(ctx, workerID, raw); ackErr != nil {
			log.Error("ack failed", obs.Err(ackErr))
		}
		obs.JobsSucceeded.Inc()
		log.Info("job succeeded")
		return true
	}

	var probeErr *media.ProbeError
	isProbeErr := errors.As(err, &probeErr)
	classification := classifier.Classify(err, isProbeErr)
	log.Warn("job processing failed", obs.Err(err), obs.String("category", string(classification.Category)))

	msg.Attempts++
	if msg.Attempts < w.cfg.Worker.MaxAttempts {
		backoff := retryBackoff(msg.Attempts, w.cfg.Worker.Backoff.Base, w.cfg.Worker.Backoff.Max)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		if nackErr := w.queue.Nack(ctx, workerID, raw, msg, true); nackErr != nil {
			log.Error("requeue failed", obs.Err(nackErr))
		}
		obs.JobsRetried.Inc()
		log.Warn("job retried", obs.Int("attempt", msg.Attempts))
		return false
	}

	if updErr := w.store.UpdateJob(ctx, msg.JobID, model.StatusFailed, string(classification.Category), err.Error()); updErr != nil {
		log.Error("update job to failed failed", obs.Err(updErr))
	}
	w.publishCompleted(ctx, msg.JobID, model.StatusFailed, string(classification.Category), err.Error())
	msg.LastError = err.Error()
	if nackErr := w.queue.Nack(ctx, workerID, raw, msg, false); nackErr != nil {
		log.Error("dead-letter failed", obs.Err(nackErr))
	}
	obs.JobsFailed.Inc()
	obs.JobsDeadLettered.WithLabelValues(string(classification.Category)).Inc()
	log.Error("job dead-lettered", obs.String("category", string(classification.Category)), obs.String("recommendation", classification.Recommendation))
	return false
}

func (w *Worker) extract(ctx context.Context, msg model.QueueMessage) (map[string]any, string, error) {
	body, err := w.objects.Download(ctx, msg.Bucket, msg.Key)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	defer body.Close()

	tmpFile, err := os.CreateTemp("", "pipeline-media-*")
	if err != nil {
		return nil, "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	if _, err := io.Copy(tmpFile, body); err != nil {
		return nil, "", fmt.Errorf("write temp file: %w", err)
	}

	metadata, err := w.prober.Probe(ctx, tmpFile.Name())
	if err != nil {
		return nil, "", err
	}
	summary, err := w.summarizer.Summarize(ctx, metadata)
	if err != nil {
		return nil, "", fmt.Errorf("summarize: %w", err)
	}
	return metadata, summary, nil
}

func (w *Worker) publishCompleted(ctx context.Context, jobID string, status model.JobStatus, errorCode, errorMessage string) {
	event := model.StreamEvent{
		Type:         model.EventJobCompleted,
		EventTime:    time.Now().UTC(),
		JobID:        jobID,
		Status:       string(status),
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	}
	fields := make(map[string]string, 6)
	for k, v := range event.Fields() {
		if s, ok := v.(string); ok && s != "" {
			fields[k] = s
		}
	}
	if err := w.events.Publish(ctx, eventstream.EventEnvelope(fields)); err != nil {
		w.log.Error("publish job completed event failed", obs.Err(err), obs.String("job_id", jobID))
		return
	}
	obs.EventsPublished.WithLabelValues(string(model.EventJobCompleted)).Inc()
}

func retryBackoff(attempt int, base, max time.Duration) time.Duration {
	d := time.Duration(1<<uint(attempt-1)) * base
	if d > max || d < 0 {
		return max
	}
	return d
}
