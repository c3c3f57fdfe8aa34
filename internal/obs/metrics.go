// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Total number of events published to the event stream",
	}, []string{"type"})
	OrchestratorDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_decisions_total",
		Help: "Total orchestrator decisions by outcome",
	}, []string{"decision"})
	JobsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_enqueued_total",
		Help: "Total number of ProcessVideo messages enqueued",
	})
	JobsSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_succeeded_total",
		Help: "Total number of jobs that completed successfully",
	})
	JobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Total number of jobs that exhausted their retry budget",
	})
	JobsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_retried_total",
		Help: "Total number of job processing retries",
	})
	JobsDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_dead_lettered_total",
		Help: "Total number of jobs routed to the dead letter queue, by failure category",
	}, []string{"category"})
	JobProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "job_processing_duration_seconds",
		Help:    "Histogram of end-to-end job processing durations",
		Buckets: prometheus.DefBuckets,
	})
	QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_length",
		Help: "Current length of the work queue and dead letter queue",
	}, []string{"queue"})
	CircuitBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	})
	CircuitBreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "circuit_breaker_trips_total",
		Help: "Count of times the worker circuit breaker transitioned to Open",
	})
	ReaperRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reaper_recovered_total",
		Help: "Total number of jobs recovered by the reaper from a dead worker's processing list",
	})
	WorkerActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active",
		Help: "Number of active worker goroutines",
	})
	DLQMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dlq_messages_total",
		Help: "Total number of dead letter queue messages analyzed, by failure category",
	}, []string{"category"})
)

func init() {
	prometheus.MustRegister(
		EventsPublished, OrchestratorDecisions, JobsEnqueued, JobsSucceeded, JobsFailed,
		JobsRetried, JobsDeadLettered, JobProcessingDuration, QueueLength,
		CircuitBreakerState, CircuitBreakerTrips, ReaperRecovered, WorkerActive,
		DLQMessagesTotal,
	)
}

// StartMetricsServer exposes /metrics alone, for components that don't
// need the healthz/readyz surface of StartHTTPServer.
func StartMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
