// Package parquet writes chunks of items as Parquet files to a storage
// connection, one object per partition key and chunk.
package parquet

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/seekbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

const contentType = "application/vnd.apache.parquet"

// Config holds the settings of a Writer.
type Config struct {
	// Name identifies the writer in logs.
	Name string
	// OutputBaseDir is the object prefix, e.g. "payment_daily_statistics".
	OutputBaseDir string
	// CompressionType is "SNAPPY" (default), "GZIP", "ZSTD" or "NONE".
	CompressionType string
}

// Writer is a port.ItemWriter producing Hive-style objects
// <OutputBaseDir>/dt=<partition key>/<file name>. T must carry parquet struct tags.
type Writer[T any] struct {
	cfg          Config
	conn         storage.StorageConnection
	codec        parquet.CompressionCodec
	partitionKey func(T) (string, error)
	fileName     func(partitionKey string, items []T) string
	files        int
}

// NewWriter validates cfg and creates a Writer on conn. fileName must be
// deterministic for a given chunk, so a replayed chunk overwrites its own
// object instead of adding a second one.
func NewWriter[T any](cfg Config, conn storage.StorageConnection, partitionKey func(T) (string, error), fileName func(partitionKey string, items []T) string) (*Writer[T], error) {
	const op = "parquet.NewWriter"
	switch {
	case cfg.Name == "":
		return nil, exception.NewBatchError(op, "parquet writer requires a name", nil, false, false)
	case cfg.OutputBaseDir == "":
		return nil, exception.NewBatchError(op, fmt.Sprintf("parquet writer '%s' requires an output base dir", cfg.Name), nil, false, false)
	case conn == nil || partitionKey == nil || fileName == nil:
		return nil, exception.NewBatchError(op, fmt.Sprintf("parquet writer '%s' requires a storage connection, a partition key and a file name function", cfg.Name), nil, false, false)
	}
	codec, err := compressionCodec(cfg.CompressionType)
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("parquet writer '%s'", cfg.Name), err, false, false)
	}
	return &Writer[T]{cfg: cfg, conn: conn, codec: codec, partitionKey: partitionKey, fileName: fileName}, nil
}

// Open implements port.ItemWriter.
func (w *Writer[T]) Open(context.Context) error {
	w.files = 0
	logger.Infof("ParquetWriter '%s' opened. Target storage: %s, Base directory: %s", w.cfg.Name, w.conn.Name(), w.cfg.OutputBaseDir)
	return nil
}

// Write implements port.ItemWriter. Every partition key of the chunk becomes one
// object. Failures of individual partitions are collected and returned together.
func (w *Writer[T]) Write(ctx context.Context, items []T) error {
	groups := make(map[string][]T)
	for _, item := range items {
		key, err := w.partitionKey(item)
		if err != nil {
			return exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s': failed to get partition key", w.cfg.Name), err, false, false)
		}
		groups[key] = append(groups[key], item)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var result *multierror.Error
	for _, key := range keys {
		if err := w.writePartition(ctx, key, groups[key]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s': failed to export chunk", w.cfg.Name), err, false, false)
	}
	return nil
}

func (w *Writer[T]) writePartition(ctx context.Context, key string, items []T) (err error) {
	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(T), int64(len(items)))
	if err != nil {
		return fmt.Errorf("partition %s: create parquet writer: %w", key, err)
	}
	pw.CompressionType = w.codec
	// parquet-go panics on values its schema cannot encode.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("partition %s: parquet writer panicked: %v", key, r)
		}
	}()
	for _, item := range items {
		if err := pw.Write(item); err != nil {
			return fmt.Errorf("partition %s: write row: %w", key, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("partition %s: finalize parquet file: %w", key, err)
	}

	objectName := ObjectName(w.cfg.OutputBaseDir, key, w.fileName(key, items))
	if err := w.conn.Upload(ctx, "", objectName, buf, contentType); err != nil {
		return fmt.Errorf("partition %s: upload %s: %w", key, objectName, err)
	}
	w.files++
	logger.Debugf("ParquetWriter '%s': Uploaded %d rows to %s.", w.cfg.Name, len(items), objectName)
	return nil
}

// Close implements port.ItemWriter. The storage connection belongs to its provider.
func (w *Writer[T]) Close(context.Context) error {
	logger.Infof("ParquetWriter '%s' closed after uploading %d files.", w.cfg.Name, w.files)
	return nil
}

// Files returns the number of objects uploaded since Open.
func (w *Writer[T]) Files() int {
	return w.files
}

// ObjectName returns <baseDir>/dt=<partitionKey>/<fileName>.
func ObjectName(baseDir, partitionKey, fileName string) string {
	return path.Join(baseDir, "dt="+partitionKey, fileName)
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "", "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "ZSTD":
		return parquet.CompressionCodec_ZSTD, nil
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", name)
	}
}

var _ port.ItemWriter[struct{}] = (*Writer[struct{}])(nil)
