package local_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/seekbatch/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/seekbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/seekbatch/pkg/batch/adapter/storage/local"
)

func TestAdapter_UploadListDownloadDelete(t *testing.T) {
	ctx := context.Background()
	base := filepath.Join(t.TempDir(), "out")
	a, err := local.NewLocalAdapter(storageconfig.StorageConfig{Type: "local", BaseDir: base, BucketName: "exports"}, "local")
	require.NoError(t, err)

	require.NoError(t, a.Upload(ctx, "", "stats/dt=2025-01-05/part-0.parquet", strings.NewReader("abc"), "application/octet-stream"))
	require.NoError(t, a.Upload(ctx, "", "stats/dt=2025-01-06/part-0.parquet", strings.NewReader("defg"), ""))
	require.NoError(t, a.Upload(ctx, "", "other/readme.txt", strings.NewReader("x"), "text/plain"))
	assert.FileExists(t, filepath.Join(base, "exports", "stats", "dt=2025-01-05", "part-0.parquet"))

	var names []string
	require.NoError(t, a.ListObjects(ctx, "", "stats/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"stats/dt=2025-01-05/part-0.parquet", "stats/dt=2025-01-06/part-0.parquet"}, names)

	rc, err := a.Download(ctx, "", "stats/dt=2025-01-06/part-0.parquet")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "defg", string(body))

	require.NoError(t, a.DeleteObject(ctx, "", "stats/dt=2025-01-06/part-0.parquet"))
	require.NoError(t, a.DeleteObject(ctx, "", "stats/dt=2025-01-06/part-0.parquet"), "deleting twice is not an error")
	_, err = os.Stat(filepath.Join(base, "exports", "stats", "dt=2025-01-06", "part-0.parquet"))
	assert.True(t, os.IsNotExist(err))
}

func TestAdapter_RejectsEscapingPaths(t *testing.T) {
	a, err := local.NewLocalAdapter(storageconfig.StorageConfig{Type: "local", BaseDir: t.TempDir()}, "local")
	require.NoError(t, err)
	err = a.Upload(context.Background(), "", "../escape.txt", strings.NewReader("x"), "")
	assert.Error(t, err)
}

func TestProvider_OpensRegisteredAdapters(t *testing.T) {
	ctx := context.Background()
	p := storage.NewProvider(map[string]storageconfig.StorageConfig{
		"local":  {Type: "local", BaseDir: t.TempDir()},
		"broken": {Type: "local"},
		"s3":     {Type: "s3", BucketName: "b"},
	})
	assert.Equal(t, []string{"broken", "local", "s3"}, p.Names())

	conn, err := p.GetConnection(ctx, "local")
	require.NoError(t, err)
	again, err := p.GetConnection(ctx, "local")
	require.NoError(t, err)
	assert.Same(t, conn, again)
	assert.Equal(t, "local", conn.Type())

	_, err = p.GetConnection(ctx, "broken")
	assert.Error(t, err)
	_, err = p.GetConnection(ctx, "s3")
	assert.Error(t, err)
	_, err = p.GetConnection(ctx, "missing")
	assert.Error(t, err)
	assert.NoError(t, p.CloseAll())
}
