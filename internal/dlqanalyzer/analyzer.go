// Copyright 2025 James Ross
// Package dlqanalyzer drains the dead letter queue, classifies each
// failure, and aggregates the result into an incident report, grounded
// on the original service's dlq_analyzer module.
package dlqanalyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/video-pipeline/internal/classifier"
	"github.com/flyingrobots/video-pipeline/internal/model"
	"github.com/flyingrobots/video-pipeline/internal/obs"
	"github.com/flyingrobots/video-pipeline/internal/workqueue"
)

// Sample is the first occurrence seen of a failure category, kept as a
// representative example in the report.
type Sample struct {
	ExampleJobID   string `json:"example_job_id"`
	ExampleError   string `json:"example_error"`
	Recommendation string `json:"recommendation"`
}

// Report is the aggregate incident report written after a drain.
type Report struct {
	GeneratedAt   time.Time         `json:"generated_at"`
	TotalMessages int               `json:"total_messages"`
	Categories    map[string]int    `json:"categories"`
	Samples       map[string]Sample `json:"samples"`
}

// AnalyzeMessages classifies each message's last_error and aggregates by
// category. It does not touch the filesystem, so it is exercised
// directly in tests without a queue backend.
func AnalyzeMessages(messages []model.QueueMessage, now time.Time) Report {
	report := Report{
		GeneratedAt: now,
		Categories:  map[string]int{},
		Samples:     map[string]Sample{},
	}
	for _, m := range messages {
		errMsg := m.LastError
		if errMsg == "" {
			errMsg = "unknown"
		}
		classification := classifier.Classify(errors.New(errMsg), false)
		category := string(classification.Category)
		report.Categories[category]++
		obs.DLQMessagesTotal.WithLabelValues(category).Inc()

		if _, seen := report.Samples[category]; !seen {
			report.Samples[category] = Sample{
				ExampleJobID:   m.JobID,
				ExampleError:   errMsg,
				Recommendation: classification.Recommendation,
			}
		}
	}
	report.TotalMessages = len(messages)
	return report
}

// Run drains up to maxItems messages from queue's dead letter queue,
// builds a report, and writes it to <outDir>/incident-<unix>.json.
func Run(ctx context.Context, queue workqueue.Queue, outDir string, maxItems int, now time.Time, log *zap.Logger) (Report, string, error) {
	messages, err := queue.DrainDLQ(ctx, maxItems)
	if err != nil {
		return Report{}, "", fmt.Errorf("drain dlq: %w", err)
	}

	report := AnalyzeMessages(messages, now)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return report, "", fmt.Errorf("create incident dir: %w", err)
	}
	outPath := filepath.Join(outDir, fmt.Sprintf("incident-%d.json", now.Unix()))
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return report, "", fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(outPath, body, 0o644); err != nil {
		return report, "", fmt.Errorf("write incident report: %w", err)
	}

	log.Info("dlq_incident_report_written", obs.String("path", outPath), obs.Int("total_messages", report.TotalMessages))
	return report, outPath, nil
}
