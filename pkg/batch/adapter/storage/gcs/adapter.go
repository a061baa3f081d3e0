// Package gcs stores objects in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tigerroll/seekbatch/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/seekbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "gcs"

func init() {
	storage.RegisterAdapter(ProviderType, func(ctx context.Context, name string, cfg storageconfig.StorageConfig) (storage.StorageConnection, error) {
		return NewAdapter(ctx, cfg, name)
	})
}

// Adapter implements storage.StorageConnection on a GCS client.
type Adapter struct {
	client *gcstorage.Client
	cfg    storageconfig.StorageConfig
	name   string
}

var _ storage.StorageConnection = (*Adapter)(nil)

// NewAdapter creates a GCS client. CredentialsFile selects a service account
// key; without it the application default credentials are used. Extra options
// are appended, for example an emulator endpoint.
func NewAdapter(ctx context.Context, cfg storageconfig.StorageConfig, name string, opts ...option.ClientOption) (*Adapter, error) {
	if cfg.CredentialsFile != "" {
		opts = append([]option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}, opts...)
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter '%s': create client: %w", name, err)
	}
	return &Adapter{client: client, cfg: cfg, name: name}, nil
}

// Close implements storage.StorageConnection.
func (a *Adapter) Close() error { return a.client.Close() }

// Type implements storage.StorageConnection.
func (a *Adapter) Type() string { return ProviderType }

// Name implements storage.StorageConnection.
func (a *Adapter) Name() string { return a.name }

func (a *Adapter) bucket(bucket string) (string, error) {
	if bucket != "" {
		return bucket, nil
	}
	if a.cfg.BucketName == "" {
		return "", fmt.Errorf("gcs storage adapter '%s': no bucket given and none configured", a.name)
	}
	return a.cfg.BucketName, nil
}

// Upload implements storage.StorageExecutor. The object only becomes visible
// when the writer closes successfully.
func (a *Adapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	b, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	w := a.client.Bucket(b).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload gs://%s/%s: %w", b, objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", b, objectName, err)
	}
	logger.Debugf("Uploaded gs://%s/%s (gcs adapter '%s').", b, objectName, a.name)
	return nil
}

// Download implements storage.StorageExecutor.
func (a *Adapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	b, err := a.bucket(bucket)
	if err != nil {
		return nil, err
	}
	r, err := a.client.Bucket(b).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("download gs://%s/%s: %w", b, objectName, err)
	}
	return r, nil
}

// ListObjects implements storage.StorageExecutor.
func (a *Adapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	b, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	it := a.client.Bucket(b).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list gs://%s/%s: %w", b, prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

// DeleteObject implements storage.StorageExecutor.
func (a *Adapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	b, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	err = a.client.Bucket(b).Object(objectName).Delete(ctx)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("delete gs://%s/%s: %w", b, objectName, err)
	}
	return nil
}
