package keyset_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/seekbatch/pkg/batch/component/reader/keyset"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

type sourceRow struct {
	ID       int64 `gorm:"primaryKey"`
	Category string
}

func (sourceRow) TableName() string { return "source_row" }

func rowKey(r sourceRow) int64 { return r.ID }

func openDB(t *testing.T, rows int) *gorm.DB {
	t.Helper()
	db, err := gormadapter.Open(dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: ":memory:",
		Pool:     dbconfig.PoolConfig{MaxOpenConns: 1},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})
	require.NoError(t, db.AutoMigrate(&sourceRow{}))
	for i := 1; i <= rows; i++ {
		category := "keep"
		if i%2 == 0 {
			category = "other"
		}
		require.NoError(t, db.Create(&sourceRow{ID: int64(i), Category: category}).Error)
	}
	return db
}

func readAll(t *testing.T, r *keyset.Reader[sourceRow]) []int64 {
	t.Helper()
	var keys []int64
	for {
		row, err := r.Read(context.Background())
		if errors.Is(err, io.EOF) {
			return keys
		}
		require.NoError(t, err)
		keys = append(keys, row.ID)
	}
}

func keys(from, to int64) []int64 {
	var out []int64
	for k := from; k <= to; k++ {
		out = append(out, k)
	}
	return out
}

func TestReader_PagesInKeyOrder(t *testing.T) {
	db := openDB(t, 25)
	r, err := keyset.NewReader(db, keyset.Config{Name: "reader", Table: "source_row", KeyColumn: "id", PageSize: 10}, rowKey)
	require.NoError(t, err)

	require.NoError(t, r.Open(context.Background(), model.NewExecutionContext()))
	assert.Equal(t, keys(1, 25), readAll(t, r))
	assert.Equal(t, 3, r.Pages())

	cp, err := r.Checkpoint()
	require.NoError(t, err)
	lastKey, _ := cp.GetInt64("reader.lastKey")
	exhausted, _ := cp.GetBool("reader.exhausted")
	assert.Equal(t, int64(25), lastKey)
	assert.True(t, exhausted)
	require.NoError(t, r.Close(context.Background()))
}

func TestReader_ResumesAfterCheckpointedKey(t *testing.T) {
	db := openDB(t, 25)
	r, err := keyset.NewReader(db, keyset.Config{Name: "reader", Table: "source_row", KeyColumn: "id", PageSize: 10}, rowKey)
	require.NoError(t, err)

	cp := model.NewExecutionContext()
	cp.Put("reader.lastKey", int64(20))
	cp.Put("reader.exhausted", false)
	require.NoError(t, r.Open(context.Background(), cp))

	assert.Equal(t, keys(21, 25), readAll(t, r))
}

func TestReader_CheckpointTracksLastReturnedRowNotPage(t *testing.T) {
	db := openDB(t, 25)
	r, err := keyset.NewReader(db, keyset.Config{Name: "reader", Table: "source_row", KeyColumn: "id", PageSize: 10}, rowKey)
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background(), nil))

	for i := 0; i < 3; i++ {
		_, err := r.Read(context.Background())
		require.NoError(t, err)
	}
	cp, err := r.Checkpoint()
	require.NoError(t, err)
	lastKey, _ := cp.GetInt64("reader.lastKey")
	exhausted, _ := cp.GetBool("reader.exhausted")
	assert.Equal(t, int64(3), lastKey)
	assert.False(t, exhausted)
}

func TestReader_AppliesPredicate(t *testing.T) {
	db := openDB(t, 25)
	r, err := keyset.NewReader(db, keyset.Config{
		Name:      "reader",
		Table:     "source_row",
		KeyColumn: "id",
		PageSize:  4,
		Where:     "category = ?",
		Args:      []any{"keep"},
		RateLimit: 1000,
	}, rowKey)
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background(), model.NewExecutionContext()))

	assert.Equal(t, []int64{1, 3, 5, 7, 9, 11, 13, 15, 17, 19, 21, 23, 25}, readAll(t, r))
}

func TestReader_EmptyTableIsExhaustedAtOpen(t *testing.T) {
	db := openDB(t, 0)
	r, err := keyset.NewReader(db, keyset.Config{Name: "reader", Table: "source_row", KeyColumn: "id", PageSize: 10}, rowKey)
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background(), model.NewExecutionContext()))

	_, err = r.Read(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, r.Pages())
}

func TestNewReader_RejectsInvalidConfig(t *testing.T) {
	db := openDB(t, 0)
	base := keyset.Config{Name: "reader", Table: "source_row", KeyColumn: "id", PageSize: 10}

	cases := map[string]func(c *keyset.Config){
		"empty name":          func(c *keyset.Config) { c.Name = "" },
		"bad table":           func(c *keyset.Config) { c.Table = "source_row; DROP TABLE x" },
		"zero page size":      func(c *keyset.Config) { c.PageSize = 0 },
		"key in predicate":    func(c *keyset.Config) { c.Where = "ID > 5" },
		"order in predicate":  func(c *keyset.Config) { c.Where = "category = 'a' ORDER BY category" },
		"limit in predicate":  func(c *keyset.Config) { c.Where = "category = 'a' LIMIT 5" },
		"offset in predicate": func(c *keyset.Config) { c.Where = "category = 'a' OFFSET 5" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			_, err := keyset.NewReader(db, cfg, rowKey)
			assert.Error(t, err)
		})
	}

	cfg := base
	cfg.Where = "category = ? AND idx_hint IS NULL"
	_, err := keyset.NewReader(db, cfg, rowKey)
	assert.NoError(t, err, "identifiers that merely contain the key column name are allowed")
}

func TestSliceReader_SharesCheckpointFormat(t *testing.T) {
	rows := []sourceRow{{ID: 5}, {ID: 1}, {ID: 3}, {ID: 9}}
	r, err := keyset.NewSliceReader("reader", rows, rowKey)
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background(), model.NewExecutionContext()))

	first, err := r.Read(context.Background())
	require.NoError(t, err)
	second, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, []int64{first.ID, second.ID})

	cp, err := r.Checkpoint()
	require.NoError(t, err)

	resumed, err := keyset.NewSliceReader("reader", rows, rowKey)
	require.NoError(t, err)
	require.NoError(t, resumed.Open(context.Background(), cp))
	var rest []int64
	for {
		row, err := resumed.Read(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		rest = append(rest, row.ID)
	}
	assert.Equal(t, []int64{5, 9}, rest)

	_, err = keyset.NewSliceReader("reader", []sourceRow{{ID: 1}, {ID: 1}}, rowKey)
	assert.Error(t, err)
}

func TestReader_ShortPageEndsScan(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, 25)
	r, err := keyset.NewReader(db, keyset.Config{Name: "reader", Table: "source_row", KeyColumn: "id", PageSize: 10}, rowKey)
	require.NoError(t, err)
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))

	for want := int64(1); want <= 21; want++ {
		row, err := r.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, want, row.ID)
	}
	assert.Equal(t, 3, r.Pages(), "rows 21-25 arrive in a short page")

	require.NoError(t, db.Create(&sourceRow{ID: 26, Category: "keep"}).Error)
	assert.Equal(t, keys(22, 25), readAll(t, r), "a row inserted after the short page is not read")
	assert.Equal(t, 3, r.Pages(), "no page is fetched after the short one")
}
