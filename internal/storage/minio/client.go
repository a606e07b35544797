// Package minio backs the key store with MinIO object storage. Each entry's
// wrapped payload is one object, keyed by the entry id.
package minio

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/dtroode/keyhaven-identity/internal/model"
)

// objectAPI is the slice of *minio.Client the store uses, extracted so
// tests can run without a MinIO server.
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

type clientAdapter struct{ c *minio.Client }

func (a clientAdapter) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return a.c.BucketExists(ctx, bucketName)
}

func (a clientAdapter) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return a.c.MakeBucket(ctx, bucketName, opts)
}

func (a clientAdapter) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return a.c.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}

func (a clientAdapter) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return a.c.GetObject(ctx, bucketName, objectName, opts)
}

func (a clientAdapter) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return a.c.RemoveObject(ctx, bucketName, objectName, opts)
}

func (a clientAdapter) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return a.c.StatObject(ctx, bucketName, objectName, opts)
}

var _ model.Storage = (*Client)(nil)

// Client implements model.Storage against one bucket.
type Client struct {
	api    objectAPI
	bucket string
}

// NewClient wraps a real *minio.Client and ensures the bucket exists.
func NewClient(ctx context.Context, client *minio.Client, bucket string) (*Client, error) {
	return NewClientWithAPI(ctx, clientAdapter{c: client}, bucket)
}

// NewClientWithAPI builds a client over an injected API.
func NewClientWithAPI(ctx context.Context, api objectAPI, bucket string) (*Client, error) {
	c := &Client{
		api:    api,
		bucket: bucket,
	}

	if err := c.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.api.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (c *Client) Upload(ctx context.Context, key string, reader io.Reader) error {
	if _, err := c.api.PutObject(ctx, c.bucket, key, reader, -1, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

func (c *Client) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := c.api.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return obj, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.api.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := c.api.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}
