// Package objstore wraps the MinIO S3 client with the byte- and
// file-level operations the pipeline needs against the hot buckets.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds object store connection configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Client is a bucket-agnostic object store client.
type Client struct {
	s3     *minio.Client
	logger *slog.Logger
}

// NewClient creates an object store client for the given endpoint.
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}

	s3, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	logger.Info("Object store client initialized",
		slog.String("endpoint", config.Endpoint),
		slog.Bool("use_ssl", config.UseSSL),
	)
	return &Client{s3: s3, logger: logger}, nil
}

// EnsureBucket creates the bucket if it does not already exist.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := c.s3.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.s3.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	c.logger.Info("Bucket created", slog.String("bucket", bucket))
	return nil
}

// Get reads the full contents of an object.
func (c *Client) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.s3.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Put writes the given bytes as an object.
func (c *Client) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := c.s3.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("failed to put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Delete removes an object. Removing a missing object is not an error.
func (c *Client) Delete(ctx context.Context, bucket, key string) error {
	if err := c.s3.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Download copies an object to a local file path.
func (c *Client) Download(ctx context.Context, bucket, key, path string) error {
	if err := c.s3.FGetObject(ctx, bucket, key, path, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Upload copies a local file into the bucket.
func (c *Client) Upload(ctx context.Context, bucket, key, path string) error {
	_, err := c.s3.FPutObject(ctx, bucket, key, path,
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("failed to upload %s to %s/%s: %w", path, bucket, key, err)
	}
	return nil
}
