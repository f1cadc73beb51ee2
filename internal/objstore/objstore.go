// Package objstore keeps uploaded workbooks in an S3-compatible bucket.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	appconfig "github.com/maraichr/cellforge/internal/config"
)

var ErrNotFound = errors.New("object not found")

// Object is one listing entry.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Store is the workbook object store.
type Store interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Bucket() string
}

// New builds the store selected by STORAGE_BACKEND.
func New(ctx context.Context, cfg *appconfig.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return NewS3(ctx, cfg.S3)
	case "minio", "":
		c, err := NewMinIO(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := c.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
