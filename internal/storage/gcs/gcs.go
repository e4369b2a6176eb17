// Package gcs implements the Google Cloud Storage backend. Credentials come
// from a service account key file when configured, otherwise from Application
// Default Credentials. A custom endpoint targets an emulator without auth.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/overseer-lite/overseer-lite/internal/config"
	appstorage "github.com/overseer-lite/overseer-lite/internal/storage"
	"github.com/overseer-lite/overseer-lite/pkg/checksum"
)

const checksumMetaKey = "sha256"

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Storage, error) {
		return New(&cfg.Storage.GCS)
	})
}

// GCSStorage implements storage.Storage on a GCS bucket
type GCSStorage struct {
	client *storage.Client
	bucket string
}

// New creates a Google Cloud Storage backend
func New(cfg *appconfig.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{client: client, bucket: cfg.Bucket}, nil
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

// Put writes an object
func (s *GCSStorage) Put(ctx context.Context, path string, data []byte, opts appstorage.PutOptions) (*appstorage.ObjectInfo, error) {
	sum := checksum.Sum(data)

	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.CacheControl = opts.CacheControl
	w.Metadata = map[string]string{checksumMetaKey: sum}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	info := &appstorage.ObjectInfo{Path: path, Size: int64(len(data)), Checksum: sum}
	if attrs := w.Attrs(); attrs != nil {
		info.LastModified = attrs.Updated
	}
	return info, nil
}

// Get reads a whole object
func (s *GCSStorage) Get(ctx context.Context, path string) ([]byte, *appstorage.ObjectInfo, error) {
	r, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, nil, appstorage.ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read GCS object: %w", err)
	}
	return data, &appstorage.ObjectInfo{
		Path:         path,
		Size:         int64(len(data)),
		Checksum:     checksum.Sum(data),
		LastModified: r.Attrs.LastModified,
	}, nil
}

// Delete removes an object
func (s *GCSStorage) Delete(ctx context.Context, path string) error {
	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// Stat reads object attributes
func (s *GCSStorage) Stat(ctx context.Context, path string) (*appstorage.ObjectInfo, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, appstorage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}
	return &appstorage.ObjectInfo{
		Path:         path,
		Size:         attrs.Size,
		Checksum:     attrs.Metadata[checksumMetaKey],
		LastModified: attrs.Updated,
	}, nil
}
