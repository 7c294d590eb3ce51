package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/anthanhphan/go-file-ingest/internal/ingest/config"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/domain"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/port"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// bucketAPI is the subset of *minio.Client used by the adapter.
type bucketAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucketName string) (bool, error)
}

// MinioAdapter stores files in an S3-compatible bucket (MinIO, R2, S3).
type MinioAdapter struct {
	client    bucketAPI
	bucket    string
	threshold int64
	partSize  uint64
}

// Ensure MinioAdapter implements port.ObjectStore.
var _ port.ObjectStore = (*MinioAdapter)(nil)

// NewMinioAdapter builds a client for the configured endpoint. It does not
// contact the server; call Ping to verify the bucket.
func NewMinioAdapter(cfg config.ObjectStoreConfig) (*MinioAdapter, error) {
	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid object store endpoint: %w", err)
	}

	transport, err := newTransport(secure, cfg.CACertFile)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:    secure,
		Region:    cfg.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return newAdapter(client, cfg), nil
}

func newAdapter(client bucketAPI, cfg config.ObjectStoreConfig) *MinioAdapter {
	return &MinioAdapter{
		client:    client,
		bucket:    cfg.Bucket,
		threshold: cfg.MultipartThreshold,
		partSize:  cfg.PartSize,
	}
}

// Put uploads localPath under key. Files below the threshold are read into
// memory and sent in one request; larger files are streamed as multipart.
func (a *MinioAdapter) Put(ctx context.Context, key string, localPath string) (domain.PutStrategy, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", port.NewStoreError(port.BackendObjectStore, "stat", err)
	}
	size := info.Size()

	if size < a.threshold {
		return domain.PutSingleShot, a.putSingleShot(ctx, key, localPath)
	}
	return domain.PutStreamed, a.putStreamed(ctx, key, localPath, size)
}

func (a *MinioAdapter) putSingleShot(ctx context.Context, key string, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return port.NewStoreError(port.BackendObjectStore, "read", err)
	}

	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		DisableMultipart: true,
	})
	if err != nil {
		return port.NewStoreError(port.BackendObjectStore, "put", err)
	}

	logger.Debugw("Object stored", "bucket", a.bucket, "key", key, "size_bytes", len(data), "strategy", domain.PutSingleShot)
	return nil
}

func (a *MinioAdapter) putStreamed(ctx context.Context, key string, localPath string, size int64) error {
	f, err := os.Open(localPath)
	if err != nil {
		return port.NewStoreError(port.BackendObjectStore, "open", err)
	}
	defer func() { _ = f.Close() }()

	_, err = a.client.PutObject(ctx, a.bucket, key, f, size, minio.PutObjectOptions{
		PartSize: a.partSize,
	})
	if err != nil {
		return port.NewStoreError(port.BackendObjectStore, "multipart put", err)
	}

	logger.Debugw("Object stored", "bucket", a.bucket, "key", key, "size_bytes", size, "strategy", domain.PutStreamed)
	return nil
}

// Delete removes key from the bucket.
func (a *MinioAdapter) Delete(ctx context.Context, key string) error {
	err := a.client.RemoveObject(ctx, a.bucket, key, minio.RemoveObjectOptions{})
	return port.NewStoreError(port.BackendObjectStore, "delete", err)
}

// Ping verifies that the configured bucket exists.
func (a *MinioAdapter) Ping(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return port.NewStoreError(port.BackendObjectStore, "ping", err)
	}
	if !exists {
		return port.NewStoreError(port.BackendObjectStore, "ping", fmt.Errorf("bucket does not exist: %s", a.bucket))
	}
	return nil
}
