package service

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"StoryReel-server/config"
)

// MinIOStore keeps generated media in a bucket and hands out URLs that
// outlive the providers' links.
type MinIOStore struct {
	client *minio.Client
	bucket string
	domain string
	expiry time.Duration
	logger *zap.Logger

	bucketMu    sync.Mutex
	bucketReady bool
}

func NewMinIOStore(cfg config.MinIOConfig, logger *zap.Logger) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 72 * time.Hour
	}
	return &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
		domain: strings.TrimRight(cfg.Domain, "/"),
		expiry: expiry,
		logger: logger.With(zap.String("component", "storage")),
	}, nil
}

// EnsureBucket creates the bucket on first use. Only success is remembered,
// a failed check is retried on the next call.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	if s.bucketReady {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		s.logger.Info("bucket created", zap.String("bucket", s.bucket))
	}
	s.bucketReady = true
	return nil
}

// Upload stores data under key and returns its URL.
func (s *MinIOStore) Upload(ctx context.Context, data []byte, key string) (string, error) {
	if err := s.EnsureBucket(ctx); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	u, err := s.URL(ctx, key)
	if err != nil {
		return "", err
	}
	s.logger.Info("object uploaded", zap.String("key", key), zap.Int("bytes", len(data)))
	return u, nil
}

// URL returns the public domain URL when one is configured, a presigned
// one otherwise.
func (s *MinIOStore) URL(ctx context.Context, key string) (string, error) {
	if s.domain != "" {
		return s.domain + "/" + s.bucket + "/" + strings.TrimLeft(key, "/"), nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func contentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
