// Package assets stores form background images in S3-compatible object
// storage. Uploads return the object key that layouts reference as
// backgroundImage.
package assets

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"formloom/api/internal/util"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Service uploads and serves form background images.
type Service struct {
	client *minio.Client
	bucket string
}

// New connects to object storage and ensures the bucket exists.
func New(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	s := &Service{client: client, bucket: cfg.Bucket}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Printf("assets: created bucket %s", cfg.Bucket)
	}
	return s, nil
}

var extByContentType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// Allowed reports whether the content type is accepted for backgrounds.
func Allowed(contentType string) bool {
	_, ok := extByContentType[strings.ToLower(contentType)]
	return ok
}

func objectKey(formID, contentType string) string {
	return fmt.Sprintf("backgrounds/%s/%s%s", formID, util.NewID(""), extByContentType[strings.ToLower(contentType)])
}

// UploadBackground stores an image and returns its object key.
func (s *Service) UploadBackground(ctx context.Context, formID string, r io.Reader, size int64, contentType string) (string, error) {
	if !Allowed(contentType) {
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}

	key := objectKey(formID, contentType)
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("upload background: %w", err)
	}
	return key, nil
}

// PresignedURL returns a time-limited download URL for an object key.
func (s *Service) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Remove deletes an object. Missing objects are not an error.
func (s *Service) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
