// Copyright 2025 James Ross
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/flyingrobots/video-pipeline/internal/config"
)

// S3Store is the object store backend for both AWS S3 and S3-compatible
// deployments (MinIO), selected by setting ObjectStore.EndpointURL and
// forcing path-style addressing.
type S3Store struct {
	client            *s3.Client
	presign           *s3.PresignClient
	bucket            string
	publicEndpointURL string
}

func NewS3Store(ctx context.Context, cfg *config.Config) (*S3Store, error) {
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

	var s3Opts []func(*s3.Options)
	if cfg.ObjectStore.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.ObjectStore.EndpointURL)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return &S3Store{
		client:            client,
		presign:           s3.NewPresignClient(client),
		bucket:            cfg.ObjectStore.Bucket,
		publicEndpointURL: cfg.ObjectStore.PublicEndpointURL,
	}, nil
}

// EnsureBucket heads the bucket and creates it when HeadBucket fails with
// any service API error, mirroring the original service's head-then-create
// fallback.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &s.bucket})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &s.bucket})
		if createErr != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, createErr)
		}
		return nil
	}
	return fmt.Errorf("head bucket %s: %w", s.bucket, err)
}

func (s *S3Store) PresignPutURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign put url: %w", err)
	}
	return req.URL, nil
}

const (
	downloadMaxAttempts = 3
	downloadBackoffBase = 500 * time.Millisecond
	downloadBackoffMax  = 10 * time.Second
)

// Download retries a transient GetObject failure with exponential backoff
// (0.5s base, 10s cap, up to 3 tries) before surfacing the error to the
// caller's own outer retry loop.
func (s *S3Store) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	var lastErr error
	for attempt := 1; attempt <= downloadMaxAttempts; attempt++ {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
		if err == nil {
			return out.Body, nil
		}
		lastErr = err

		if attempt == downloadMaxAttempts {
			break
		}
		backoff := downloadBackoff(attempt)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("get object s3://%s/%s: %w", bucket, key, ctx.Err())
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("get object s3://%s/%s: %w", bucket, key, lastErr)
}

func downloadBackoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt-1)) * downloadBackoffBase
	if d > downloadBackoffMax || d < 0 {
		return downloadBackoffMax
	}
	return d
}
