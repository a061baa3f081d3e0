// Package storage abstracts the object stores export steps write to. Backends
// (local, gcs) register an AdapterFactory under their type name.
package storage

import (
	"context"
	"io"
)

// StorageExecutor defines generic storage operations. An empty bucket selects
// the bucket configured for the connection.
type StorageExecutor interface {
	// Upload stores data under objectName, replacing any existing object.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens an object. The caller closes the returned reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for each object name under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes an object. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection is a named, closable StorageExecutor.
type StorageConnection interface {
	StorageExecutor
	Name() string
	Type() string
	Close() error
}
