// Package storage uploads conversation exports to S3-compatible storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/mfenderov/elf/pkg/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds S3/MinIO client configuration.
type Config struct {
	Endpoint        string // "localhost:9000" for MinIO
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Client stores exports under exports/<hash(url)>/.
type Client struct {
	minioClient *minio.Client
	bucket      string
}

// New creates a new S3/MinIO client.
func New(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{
		minioClient: minioClient,
		bucket:      config.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minioClient.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.minioClient.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ExportMetadata describes the latest export of a page.
type ExportMetadata struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	ExportedAt   time.Time `json:"exported_at"`
	MessageCount int       `json:"message_count"`
	Files        []string  `json:"files"`
}

// Prefix returns the object prefix of a page's exports.
func Prefix(pageURL string) string {
	return path.Join("exports", models.HashURL(pageURL))
}

// PutExport uploads one export file and returns its object name.
func (c *Client) PutExport(ctx context.Context, pageURL, filename, contentType string, data []byte) (string, error) {
	objectName := path.Join(Prefix(pageURL), filename)

	_, err := c.minioClient.PutObject(ctx, c.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to put export: %w", err)
	}
	return objectName, nil
}

// PutMetadata writes the export metadata JSON next to the exports.
func (c *Client) PutMetadata(ctx context.Context, meta ExportMetadata) error {
	objectName := path.Join(Prefix(meta.URL), "metadata.json")

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = c.minioClient.PutObject(ctx, c.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to put metadata: %w", err)
	}
	return nil
}

// ListExports returns the export file names stored for a page.
func (c *Client) ListExports(ctx context.Context, pageURL string) ([]string, error) {
	var files []string

	objectCh := c.minioClient.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    Prefix(pageURL) + "/",
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		name := path.Base(object.Key)
		if name != "metadata.json" && !strings.HasSuffix(name, "/") {
			files = append(files, name)
		}
	}

	return files, nil
}

// GetExport reads one export file.
func (c *Client) GetExport(ctx context.Context, pageURL, filename string) ([]byte, error) {
	object, err := c.minioClient.GetObject(ctx, c.bucket, path.Join(Prefix(pageURL), filename), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get export: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	return data, nil
}

// GetMetadata reads the export metadata of a page.
func (c *Client) GetMetadata(ctx context.Context, pageURL string) (*ExportMetadata, error) {
	data, err := c.GetExport(ctx, pageURL, "metadata.json")
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	var meta ExportMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &meta, nil
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}
