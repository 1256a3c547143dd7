package storage

import (
	"context"
	"errors"
	"io"
	"path"
)

// ErrObjectNotFound is returned when a key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage holds uploaded raw files and dataset images.
type ObjectStorage interface {
	// Upload uploads an object to storage
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download downloads an object from storage
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete deletes an object from storage
	Delete(ctx context.Context, key string) error

	// DeleteMany deletes a batch of objects; missing keys are not an error
	DeleteMany(ctx context.Context, keys []string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)
}

// RawFileKey is the object key of an uploaded dataset source file.
func RawFileKey(fileID string) string {
	return path.Join("dataset", "files", fileID)
}
