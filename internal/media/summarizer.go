// Copyright 2025 James Ross
package media

import (
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/flyingrobots/video-pipeline/internal/config"
)

// Summarizer turns extracted metadata into a short human-readable
// description for the job's result record.
type Summarizer interface {
	Summarize(ctx context.Context, metadata map[string]any) (string, error)
}

// MockSummarizer produces a deterministic summary with the same shape as
// a real model's text output, grounded on the original service's
// mode != "aws" branch.
type MockSummarizer struct{}

func (MockSummarizer) Summarize(_ context.Context, metadata map[string]any) (string, error) {
	codec, width, height := StreamVideoInfo(metadata)
	duration := Duration(metadata)
	return fmt.Sprintf(
		"Mock Bedrock Summary: video codec=%v, resolution=%vx%v, duration_s=%v.",
		orNone(codec), orNone(width), orNone(height), orNone(duration),
	), nil
}

func orNone(v any) any {
	if v == nil || v == "" {
		return "None"
	}
	return v
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockContentBlock struct {
	Text string `json:"text"`
}

type bedrockResponse struct {
	Content []bedrockContentBlock `json:"content"`
}

// BedrockSummarizer invokes a managed Bedrock model, grounded on the
// original service's boto3 bedrock-runtime invoke_model call.
type BedrockSummarizer struct {
	client  *bedrockruntime.Client
	modelID string
}

func NewBedrockSummarizer(ctx context.Context, cfg *config.Config) (*BedrockSummarizer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ObjectStore.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockSummarizer{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		modelID: cfg.Summarizer.ModelID,
	}, nil
}

func (b *BedrockSummarizer) Summarize(ctx context.Context, metadata map[string]any) (string, error) {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	prompt := "Summarize the following extracted video metadata in 1-2 sentences for a job status page.\n\n" + string(metaJSON)
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        200,
		Messages:         []bedrockMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal bedrock request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId: &b.modelID,
		Body:    body,
	})
	if err != nil {
		return "", fmt.Errorf("invoke bedrock model: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal bedrock response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("bedrock response had no content blocks")
	}
	return resp.Content[0].Text, nil
}

// NewFromConfig selects mock or managed summarization per configuration.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Summarizer, error) {
	switch cfg.Summarizer.Mode {
	case "mock", "":
		return MockSummarizer{}, nil
	case "managed":
		return NewBedrockSummarizer(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown summarizer mode %q", cfg.Summarizer.Mode)
	}
}
