// Copyright 2025 James Ross
// Package objectstore wraps the S3/MinIO-compatible client shared by the
// API (presigned upload URLs) and the Worker (downloading source media).
package objectstore

import (
	"context"
	"io"
	"time"
)

// Store is the object store contract the API and Worker depend on.
type Store interface {
	// EnsureBucket creates the configured bucket if it doesn't already
	// exist; safe to call on every startup.
	EnsureBucket(ctx context.Context) error

	// PresignPutURL returns a URL the client can PUT the upload to
	// directly, valid for the given expiry.
	PresignPutURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// Download streams an object's bytes to the caller.
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
