// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/netSkope/phantom-qa-tool/internal/config"
	"go.uber.org/zap"
)

const (
	// Max attempts for one archive upload
	maxS3Retries = 3
	// Initial retry delay, doubled after each failure
	initialRetryDelay = 1 * time.Second
	// Part size used by the managed uploader
	partSize = 10 * 1024 * 1024
)

// uploadAPI is the subset of manager.Uploader used by Mirror.
type uploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Mirror copies upload archives to an S3 bucket.
type Mirror struct {
	uploader   uploadAPI
	bucket     string
	prefix     string
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewMirror creates a mirror for cfg.S3Bucket. Static credentials are used when
// both key fields are configured, otherwise the SDK default chain applies.
func NewMirror(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Mirror, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3_bucket is required for the archive mirror")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Custom endpoint for LocalStack / MinIO
	endpoint := os.Getenv("AWS_ENDPOINT_URL")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	if endpoint != "" {
		logger.Info("Using custom S3 endpoint", zap.String("endpoint", endpoint))
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = 3
	})

	return newMirror(uploader, cfg.S3Bucket, cfg.S3Prefix, logger), nil
}

func newMirror(uploader uploadAPI, bucket, prefix string, logger *zap.Logger) *Mirror {
	return &Mirror{
		uploader:   uploader,
		bucket:     bucket,
		prefix:     strings.Trim(prefix, "/"),
		retryDelay: initialRetryDelay,
		logger:     logger,
	}
}

// Bucket returns the target bucket name.
func (m *Mirror) Bucket() string {
	return m.bucket
}

// Key returns the object key for an archive: <prefix>/<site>/<device>/<archive name>.
func (m *Mirror) Key(site, device, archivePath string) string {
	parts := []string{site, device, filepath.Base(archivePath)}
	if m.prefix != "" {
		parts = append([]string{m.prefix}, parts...)
	}
	return path.Join(parts...)
}

// UploadArchive uploads the archive, retrying with exponential backoff.
// Returns the object key.
func (m *Mirror) UploadArchive(ctx context.Context, archivePath, site, device string) (string, error) {
	key := m.Key(site, device, archivePath)

	var lastErr error
	delay := m.retryDelay
	for attempt := 1; attempt <= maxS3Retries; attempt++ {
		err := m.uploadFile(ctx, archivePath, key)
		if err == nil {
			return key, nil
		}
		lastErr = err

		if attempt < maxS3Retries {
			m.logger.Warn("Mirror upload failed, retrying",
				zap.String("file", archivePath),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", maxS3Retries),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return "", fmt.Errorf("mirror upload cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return "", fmt.Errorf("mirror upload failed after %d attempts: %w", maxS3Retries, lastErr)
}

func (m *Mirror) uploadFile(ctx context.Context, archivePath, key string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	m.logger.Info("Uploading archive to S3",
		zap.String("file", archivePath),
		zap.String("bucket", m.bucket),
		zap.String("s3_key", key),
		zap.Int64("size", info.Size()))

	out, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	m.logger.Info("Archive mirrored",
		zap.String("s3_key", key),
		zap.String("location", out.Location))
	return nil
}
