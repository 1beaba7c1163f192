package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"neptuneload/internal/loader"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOChecker implements SourceChecker using minio-go
type MinIOChecker struct {
	client *minio.Client
}

// NewMinIOChecker creates a checker for the S3-compatible endpoint in cfg.
func NewMinIOChecker(cfg Config) (*MinIOChecker, error) {
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	creds := cfg.Creds
	if creds == nil {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOChecker{client: client}, nil
}

// cleanEndpoint removes protocol and path from endpoint URL to get host:port format
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, nil
}

// Verify returns the first object under source, which is an s3://bucket/key
// location whose key is an object name or a prefix.
func (c *MinIOChecker) Verify(ctx context.Context, source string) (ObjectInfo, error) {
	bucket, prefix, err := loader.ParseSource(source)
	if err != nil {
		return ObjectInfo{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
		MaxKeys:   1,
	}) {
		if obj.Err != nil {
			return ObjectInfo{}, fmt.Errorf("list %s: %w", source, obj.Err)
		}
		return ObjectInfo{
			Bucket:       bucket,
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
		}, nil
	}

	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{}, fmt.Errorf("no objects found under %s", source)
}
