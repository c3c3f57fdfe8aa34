// Copyright 2025 James Ross
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flyingrobots/video-pipeline/internal/model"
)

// SQLiteStore is the embedded, single-node State Store backend, grounded
// on the jobs/results/idempotency schema of the original service.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and applies its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := "file::memory:?cache=shared&_foreign_keys=on"
	if path != ":memory:" && path != "" {
		if dir := filepath.Dir(path); dir != "." {
			_ = ensureDir(dir)
		}
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	s3_bucket TEXT NOT NULL,
	s3_key TEXT NOT NULL,
	error_code TEXT,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);

CREATE TABLE IF NOT EXISTS results (
	job_id TEXT PRIMARY KEY REFERENCES jobs(job_id),
	metadata_json TEXT NOT NULL,
	summary TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS idempotency (
	idempotency_key TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateJobIfMissing(ctx context.Context, job model.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs (job_id, status, created_at, updated_at, s3_bucket, s3_key, error_code, error_message)
VALUES (?, ?, ?, ?, ?, ?, NULL, NULL)
ON CONFLICT(job_id) DO NOTHING
`, job.JobID, string(job.Status), job.CreatedAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), job.S3Bucket, job.S3Key)
	if err != nil {
		return fmt.Errorf("create job if missing: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, jobID string, status model.JobStatus, errorCode, errorMessage string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	// Clearing error fields explicitly on transition into SUCCEEDED keeps a
	// prior FAILED attempt's error from surviving a later success.
	if status == model.StatusSucceeded {
		errorCode, errorMessage = "", ""
	}
	var errCode, errMsg any
	if errorCode != "" {
		errCode = errorCode
	}
	if errorMessage != "" {
		errMsg = errorMessage
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs SET status = ?, updated_at = ?, error_code = ?, error_message = ?
WHERE job_id = ?
`, string(status), now, errCode, errMsg, jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (model.Job, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT job_id, status, created_at, updated_at, s3_bucket, s3_key, error_code, error_message
FROM jobs WHERE job_id = ?`, jobID)
	return scanJob(row)
}

func (s *SQLiteStore) StoreResult(ctx context.Context, result model.Result) error {
	metaJSON, err := marshalMetadata(result.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO results (job_id, metadata_json, summary) VALUES (?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET metadata_json = excluded.metadata_json, summary = excluded.summary
`, result.JobID, metaJSON, result.Summary)
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, jobID string) (model.Result, error) {
	row := s.db.QueryRowContext(ctx, `SELECT job_id, metadata_json, summary FROM results WHERE job_id = ?`, jobID)
	var r model.Result
	var metaJSON string
	if err := row.Scan(&r.JobID, &metaJSON, &r.Summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Result{}, ErrNotFound
		}
		return model.Result{}, fmt.Errorf("get result: %w", err)
	}
	meta, err := unmarshalMetadata(metaJSON)
	if err != nil {
		return model.Result{}, err
	}
	r.Metadata = meta
	return r, nil
}

func (s *SQLiteStore) TryClaimIdempotency(ctx context.Context, key, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO idempotency (idempotency_key, job_id, created_at) VALUES (?, ?, ?)
`, key, jobID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("claim idempotency: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim idempotency rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT job_id, status, created_at, updated_at, s3_bucket, s3_key, error_code, error_message
FROM jobs ORDER BY created_at DESC, job_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (model.Job, error) {
	var (
		j                    model.Job
		status               string
		createdAt, updatedAt string
		errCode, errMsg      sql.NullString
	)
	if err := row.Scan(&j.JobID, &status, &createdAt, &updatedAt, &j.S3Bucket, &j.S3Key, &errCode, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, ErrNotFound
		}
		return model.Job{}, fmt.Errorf("scan job: %w", err)
	}
	j.Status = model.JobStatus(status)
	j.ErrorCode = errCode.String
	j.ErrorMessage = errMsg.String
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		j.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		j.UpdatedAt = t
	}
	return j, nil
}
