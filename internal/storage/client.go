package storage

import (
	"context"
	"time"

	"github.com/minio/minio-go/v7/pkg/credentials"
)

// SourceChecker verifies that a bulk load source exists before it is
// submitted.
type SourceChecker interface {
	Verify(ctx context.Context, source string) (ObjectInfo, error)
}

// ObjectInfo contains metadata of the first object found under a source
type ObjectInfo struct {
	Bucket       string
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Config contains client configuration
type Config struct {
	Endpoint string
	Region   string
	Secure   bool

	// Creds defaults to the ambient provider chain when nil.
	Creds *credentials.Credentials
}
