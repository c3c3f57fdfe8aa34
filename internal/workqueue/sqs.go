// Copyright 2025 James Ross
package workqueue

import (
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/flyingrobots/video-pipeline/internal/config"
	"github.com/flyingrobots/video-pipeline/internal/model"
)

// SQSQueue is the managed Work Queue backend. SQS's own visibility
// timeout and redrive policy stand in for the embedded backend's
// processing list and DLQ list: Dequeue's "raw" token is the message's
// receipt handle, and Nack's requeue=false path sends the message to the
// DLQ URL and deletes it from the jobs queue.
type SQSQueue struct {
	client   *sqs.Client
	jobsURL  string
	dlqURL   string
	waitSecs int32
}

func NewSQSQueue(ctx context.Context, cfg *config.Config) (*SQSQueue, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ObjectStore.Region),
	}
	if cfg.ObjectStore.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.ObjectStore.AccessKeyID, cfg.ObjectStore.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SQSQueue{
		client:   sqs.NewFromConfig(awsCfg),
		jobsURL:  cfg.Queue.SQSJobsURL,
		dlqURL:   cfg.Queue.SQSDLQURL,
		waitSecs: 10,
	}, nil
}

func (q *SQSQueue) Enqueue(ctx context.Context, msg model.QueueMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &q.jobsURL,
		MessageBody: strPtr(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

func (q *SQSQueue) Dequeue(ctx context.Context, consumer string) (*model.QueueMessage, string, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &q.jobsURL,
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     q.waitSecs,
	})
	if err != nil {
		return nil, "", fmt.Errorf("sqs receive: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, "", nil
	}
	m := out.Messages[0]
	var msg model.QueueMessage
	if err := json.Unmarshal([]byte(*m.Body), &msg); err != nil {
		return nil, *m.ReceiptHandle, fmt.Errorf("unmarshal queue message: %w", err)
	}
	return &msg, *m.ReceiptHandle, nil
}

func (q *SQSQueue) Ack(ctx context.Context, consumer, raw string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{QueueUrl: &q.jobsURL, ReceiptHandle: &raw})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

// Nack lets a retryable failure's visibility timeout lapse so SQS
// redelivers it; a terminal failure is deleted from the source queue and
// republished onto the DLQ explicitly, since the redrive policy only
// triggers after exhausting maxReceiveCount, not on a single Nack.
func (q *SQSQueue) Nack(ctx context.Context, consumer, raw string, msg model.QueueMessage, requeue bool) error {
	if requeue {
		_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          &q.jobsURL,
			ReceiptHandle:     &raw,
			VisibilityTimeout: 0,
		})
		if err != nil {
			return fmt.Errorf("sqs change visibility: %w", err)
		}
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}
	if _, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{QueueUrl: &q.dlqURL, MessageBody: strPtr(string(body))}); err != nil {
		return fmt.Errorf("sqs send to dlq: %w", err)
	}
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{QueueUrl: &q.jobsURL, ReceiptHandle: &raw}); err != nil {
		return fmt.Errorf("sqs delete after dead-letter: %w", err)
	}
	return nil
}

func (q *SQSQueue) Length(ctx context.Context) (int64, int64, error) {
	jobs, err := q.approxDepth(ctx, q.jobsURL)
	if err != nil {
		return 0, 0, err
	}
	dlq, err := q.approxDepth(ctx, q.dlqURL)
	if err != nil {
		return 0, 0, err
	}
	return jobs, dlq, nil
}

func (q *SQSQueue) approxDepth(ctx context.Context, url string) (int64, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       &url,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("sqs get attributes: %w", err)
	}
	var n int64
	_, _ = fmt.Sscanf(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)], "%d", &n)
	return n, nil
}

// DrainDLQ receives and deletes up to max messages from the DLQ URL.
func (q *SQSQueue) DrainDLQ(ctx context.Context, max int) ([]model.QueueMessage, error) {
	messages := make([]model.QueueMessage, 0, max)
	for len(messages) < max {
		batch := int32(10)
		if remaining := max - len(messages); remaining < 10 {
			batch = int32(remaining)
		}
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &q.dlqURL,
			MaxNumberOfMessages: batch,
			WaitTimeSeconds:     2,
		})
		if err != nil {
			return messages, fmt.Errorf("sqs receive from dlq: %w", err)
		}
		if len(out.Messages) == 0 {
			break
		}
		for _, m := range out.Messages {
			var msg model.QueueMessage
			if err := json.Unmarshal([]byte(*m.Body), &msg); err == nil {
				messages = append(messages, msg)
			}
			_, _ = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{QueueUrl: &q.dlqURL, ReceiptHandle: m.ReceiptHandle})
		}
	}
	return messages, nil
}

// InFlight is not meaningful for SQS: in-flight tracking is internal to
// the queue service itself (visibility timeout), so crash recovery has
// nothing to sweep locally.
func (q *SQSQueue) InFlight(ctx context.Context, consumer string) ([]string, error) {
	return nil, nil
}

func (q *SQSQueue) Close() error { return nil }

func strPtr(s string) *string { return &s }
