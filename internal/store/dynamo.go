// Copyright 2025 James Ross
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/flyingrobots/video-pipeline/internal/config"
	"github.com/flyingrobots/video-pipeline/internal/model"
)

// DynamoStore is the managed State Store backend: three DynamoDB tables
// (jobs, results, idempotency) with conditional writes standing in for
// the embedded backend's unique constraints.
type DynamoStore struct {
	client        *dynamodb.Client
	jobsTable     string
	resultsTable  string
	idempoTable   string
}

// NewDynamoStore builds a managed store client from the object store
// section of the configuration (region/credentials are shared with S3).
func NewDynamoStore(ctx context.Context, cfg *config.Config) (*DynamoStore, error) {
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
	return &DynamoStore{
		client:       dynamodb.NewFromConfig(awsCfg),
		jobsTable:    cfg.Store.DynamoJobsTable,
		resultsTable: cfg.Store.DynamoResultsTable,
		idempoTable:  cfg.Store.DynamoIdempoTable,
	}, nil
}

func (s *DynamoStore) Close() error { return nil }

func (s *DynamoStore) CreateJobIfMissing(ctx context.Context, job model.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	item := map[string]types.AttributeValue{
		"job_id":     &types.AttributeValueMemberS{Value: job.JobID},
		"status":     &types.AttributeValueMemberS{Value: string(job.Status)},
		"created_at": &types.AttributeValueMemberS{Value: job.CreatedAt.Format(time.RFC3339Nano)},
		"updated_at": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		"s3_bucket":  &types.AttributeValueMemberS{Value: job.S3Bucket},
		"s3_key":     &types.AttributeValueMemberS{Value: job.S3Key},
		"gsi1pk":     &types.AttributeValueMemberS{Value: "HISTORY"},
		"gsi1sk":     &types.AttributeValueMemberS{Value: job.CreatedAt.Format(time.RFC3339Nano)},
	}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.jobsTable,
		Item:                item,
		ConditionExpression: strPtr("attribute_not_exists(job_id)"),
	})
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return nil // already exists, not an error
		}
		return fmt.Errorf("create job if missing: %w", err)
	}
	return nil
}

// UpdateJob only sets error_code/error_message when the target status is
// FAILED. Any other status (in particular SUCCEEDED) REMOVEs those
// attributes, so no empty-string placeholder is ever written and a later
// read never has to special-case an empty string as "no error".
func (s *DynamoStore) UpdateJob(ctx context.Context, jobID string, status model.JobStatus, errorCode, errorMessage string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	expr := "SET #status = :status, updated_at = :updated_at"
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":status":     &types.AttributeValueMemberS{Value: string(status)},
		":updated_at": &types.AttributeValueMemberS{Value: now},
	}
	if status == model.StatusFailed {
		expr += ", error_code = :error_code, error_message = :error_message"
		values[":error_code"] = &types.AttributeValueMemberS{Value: errorCode}
		values[":error_message"] = &types.AttributeValueMemberS{Value: errorMessage}
	} else {
		expr += " REMOVE error_code, error_message"
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                &s.jobsTable,
		Key:                       map[string]types.AttributeValue{"job_id": &types.AttributeValueMemberS{Value: jobID}},
		UpdateExpression:          &expr,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       strPtr("attribute_exists(job_id)"),
	})
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return ErrNotFound
		}
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetJob(ctx context.Context, jobID string) (model.Job, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.jobsTable,
		Key:       map[string]types.AttributeValue{"job_id": &types.AttributeValueMemberS{Value: jobID}},
	})
	if err != nil {
		return model.Job{}, fmt.Errorf("get job: %w", err)
	}
	if out.Item == nil {
		return model.Job{}, ErrNotFound
	}
	return jobFromItem(out.Item), nil
}

func (s *DynamoStore) StoreResult(ctx context.Context, result model.Result) error {
	metaJSON, err := marshalMetadata(result.Metadata)
	if err != nil {
		return err
	}
	item := map[string]types.AttributeValue{
		"job_id":        &types.AttributeValueMemberS{Value: result.JobID},
		"metadata_json": &types.AttributeValueMemberS{Value: metaJSON},
		"summary":       &types.AttributeValueMemberS{Value: result.Summary},
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.resultsTable, Item: item})
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetResult(ctx context.Context, jobID string) (model.Result, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.resultsTable,
		Key:       map[string]types.AttributeValue{"job_id": &types.AttributeValueMemberS{Value: jobID}},
	})
	if err != nil {
		return model.Result{}, fmt.Errorf("get result: %w", err)
	}
	if out.Item == nil {
		return model.Result{}, ErrNotFound
	}
	meta, err := unmarshalMetadata(attrStr(out.Item["metadata_json"]))
	if err != nil {
		return model.Result{}, err
	}
	return model.Result{
		JobID:    attrStr(out.Item["job_id"]),
		Metadata: meta,
		Summary:  attrStr(out.Item["summary"]),
	}, nil
}

func (s *DynamoStore) TryClaimIdempotency(ctx context.Context, key, jobID string) (bool, error) {
	item := map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
		"job_id":          &types.AttributeValueMemberS{Value: jobID},
		"created_at":      &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.idempoTable,
		Item:                item,
		ConditionExpression: strPtr("attribute_not_exists(idempotency_key)"),
	})
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return false, nil
		}
		return false, fmt.Errorf("claim idempotency: %w", err)
	}
	return true, nil
}

// ListJobs scans the gsi1pk="HISTORY" GSI in descending gsi1sk (created_at)
// order, matching the embedded backend's ORDER BY created_at DESC.
func (s *DynamoStore) ListJobs(ctx context.Context, limit int) ([]model.Job, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.jobsTable,
		IndexName:              strPtr("gsi1"),
		KeyConditionExpression: strPtr("gsi1pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: "HISTORY"},
		},
		ScanIndexForward: boolPtr(false),
		Limit:            int32Ptr(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]model.Job, 0, len(out.Items))
	for _, item := range out.Items {
		jobs = append(jobs, jobFromItem(item))
	}
	// The GSI sort key ties on identical timestamps; break ties by job_id
	// ascending the same way the embedded backend's ORDER BY clause does.
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].JobID < jobs[j].JobID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func jobFromItem(item map[string]types.AttributeValue) model.Job {
	j := model.Job{
		JobID:    attrStr(item["job_id"]),
		Status:   model.JobStatus(attrStr(item["status"])),
		S3Bucket: attrStr(item["s3_bucket"]),
		S3Key:    attrStr(item["s3_key"]),
	}
	// Error fields are simply absent on non-FAILED jobs (see UpdateJob),
	// so no empty-string normalization is needed here.
	j.ErrorCode = attrStr(item["error_code"])
	j.ErrorMessage = attrStr(item["error_message"])
	if t, err := time.Parse(time.RFC3339Nano, attrStr(item["created_at"])); err == nil {
		j.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, attrStr(item["updated_at"])); err == nil {
		j.UpdatedAt = t
	}
	return j
}

func attrStr(v types.AttributeValue) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func strPtr(s string) *string   { return &s }
func boolPtr(b bool) *bool      { return &b }
func int32Ptr(i int32) *int32   { return &i }
