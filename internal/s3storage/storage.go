// Package s3storage mirrors finished reports to an S3 compatible bucket so
// they outlive the local retention window.
package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/ClockSheet/internal/config"
)

const keyPrefix = "reports"

// Storage wraps MinIO/S3 interactions for archived reports.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client: client,
		bucket: cfg.ReportsBucket,
		region: cfg.S3Region,
	}, nil
}

// EnsureBucket makes sure the reports bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// ObjectKey returns where a report file is archived.
func ObjectKey(filename string) string {
	return path.Join(keyPrefix, filename)
}

// ArchiveReport uploads a finished report under its stored filename.
func (s *Storage) ArchiveReport(ctx context.Context, filename string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{
		ContentType:        contentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", filename),
	}
	_, err := s.client.PutObject(ctx, s.bucket, ObjectKey(filename), bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("archive report: %w", err)
	}
	return nil
}

// RemoveReport deletes an archived report. Missing objects are not an error.
func (s *Storage) RemoveReport(ctx context.Context, filename string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, ObjectKey(filename), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove archived report: %w", err)
	}
	return nil
}

// PresignReport returns a signed GET URL for an archived report.
func (s *Storage) PresignReport(ctx context.Context, filename string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, ObjectKey(filename), ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign report: %w", err)
	}
	return u.String(), nil
}
