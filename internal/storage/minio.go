package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bowerhall/multiai/internal/logger"
)

var ErrObjectNotFound = errors.New("object not found")

// Client wraps a MinIO client bound to one bucket
type Client struct {
	mc     *minio.Client
	bucket string
}

// Config holds MinIO connection settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewClient creates a new storage client
func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "multiai-media"
	}

	return &Client{mc: mc, bucket: bucket}, nil
}

// Init creates the bucket if it doesn't exist
func (c *Client) Init(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}

	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", c.bucket, err)
		}
		logger.Info("bucket created", "bucket", c.bucket)
	}

	return nil
}

// FileInfo represents a stored object
type FileInfo struct {
	Name     string
	Size     int64
	ModTime  time.Time
	Metadata map[string]string
}

// Upload stores data under name with the given user metadata
func (c *Client) Upload(ctx context.Context, name string, data []byte, contentType string, meta map[string]string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := c.mc.PutObject(ctx, c.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", c.bucket, name, classify(err))
	}

	logger.Debug("object uploaded", "bucket", c.bucket, "name", name, "size", len(data))
	return nil
}

// Download reads an object together with its metadata
func (c *Client) Download(ctx context.Context, name string) ([]byte, FileInfo, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, FileInfo{}, fmt.Errorf("get %s/%s: %w", c.bucket, name, classify(err))
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, FileInfo{}, fmt.Errorf("stat %s/%s: %w", c.bucket, name, classify(err))
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, FileInfo{}, fmt.Errorf("read %s/%s: %w", c.bucket, name, classify(err))
	}

	return data, toFileInfo(info), nil
}

func (c *Client) Stat(ctx context.Context, name string) (FileInfo, error) {
	info, err := c.mc.StatObject(ctx, c.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %s/%s: %w", c.bucket, name, classify(err))
	}
	return toFileInfo(info), nil
}

// ReplaceMetadata rewrites an object's user metadata with a server-side copy
// onto itself.
func (c *Client) ReplaceMetadata(ctx context.Context, name string, meta map[string]string) error {
	dst := minio.CopyDestOptions{
		Bucket:          c.bucket,
		Object:          name,
		ReplaceMetadata: true,
		UserMetadata:    meta,
	}
	src := minio.CopySrcOptions{Bucket: c.bucket, Object: name}

	if _, err := c.mc.CopyObject(ctx, dst, src); err != nil {
		return fmt.Errorf("copy %s/%s: %w", c.bucket, name, classify(err))
	}
	return nil
}

// Walk streams every object under prefix to fn, stopping at the first error
func (c *Client) Walk(ctx context.Context, prefix string, fn func(FileInfo) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}

	for obj := range c.mc.ListObjects(ctx, c.bucket, opts) {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", c.bucket, obj.Err)
		}
		if err := fn(toFileInfo(obj)); err != nil {
			return err
		}
	}

	return nil
}

// Delete deletes an object
func (c *Client) Delete(ctx context.Context, name string) error {
	if err := c.mc.RemoveObject(ctx, c.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", c.bucket, name, classify(err))
	}
	return nil
}

func toFileInfo(info minio.ObjectInfo) FileInfo {
	return FileInfo{
		Name:     info.Key,
		Size:     info.Size,
		ModTime:  info.LastModified,
		Metadata: normalizeMetadata(info.UserMetadata),
	}
}

// normalizeMetadata lowercases keys and drops the x-amz-meta- prefix some
// listing responses keep.
func normalizeMetadata(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		k = strings.ToLower(k)
		k = strings.TrimPrefix(k, "x-amz-meta-")
		out[k] = v
	}
	return out
}

func classify(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}
