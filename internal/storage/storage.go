package storage

import (
	"context"
	"time"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// Service archives progress-report documents to remote object storage.
type Service interface {
	UploadReport(ctx context.Context, bucket, key string, body []byte) (string, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	DeletePrefix(ctx context.Context, bucket, prefix string) error
	PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}
