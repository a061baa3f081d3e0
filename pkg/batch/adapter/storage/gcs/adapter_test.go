package gcs

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	storageconfig "github.com/tigerroll/seekbatch/pkg/batch/adapter/storage/config"
)

func newOfflineAdapter(t *testing.T, bucket string) *Adapter {
	t.Helper()
	a, err := NewAdapter(context.Background(), storageconfig.StorageConfig{Type: "gcs", BucketName: bucket}, "archive",
		option.WithoutAuthentication(), option.WithEndpoint("http://127.0.0.1:1/storage/v1/"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAdapter_BucketResolution(t *testing.T) {
	a := newOfflineAdapter(t, "payments-archive")
	assert.Equal(t, "gcs", a.Type())
	assert.Equal(t, "archive", a.Name())

	b, err := a.bucket("")
	require.NoError(t, err)
	assert.Equal(t, "payments-archive", b)
	b, err = a.bucket("override")
	require.NoError(t, err)
	assert.Equal(t, "override", b)
}

func TestAdapter_NoBucketConfigured(t *testing.T) {
	a := newOfflineAdapter(t, "")
	err := a.Upload(context.Background(), "", "dt=2025-01-05/part-0.parquet", strings.NewReader("x"), "")
	assert.ErrorContains(t, err, "no bucket")
}
