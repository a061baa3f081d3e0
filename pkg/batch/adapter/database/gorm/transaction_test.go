package gorm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm/sqlite"
	tx "github.com/tigerroll/seekbatch/pkg/batch/core/tx"
)

type ledgerRow struct {
	ID     int64 `gorm:"primaryKey"`
	Name   string
	Amount int64
}

func (ledgerRow) TableName() string { return "ledger" }

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	provider := gormadapter.NewProvider(map[string]interface{}{
		"test": map[string]interface{}{
			"type":     "sqlite",
			"database": ":memory:",
			"pool":     map[string]interface{}{"max_open_conns": 1},
		},
	})
	t.Cleanup(func() { _ = provider.CloseAll() })

	db, err := provider.GetConnection("test")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledgerRow{}))

	again, err := provider.GetConnection("test")
	require.NoError(t, err)
	assert.Same(t, db, again)
	return db
}

func countRows(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&ledgerRow{}).Count(&n).Error)
	return n
}

func TestGormTransactionManager_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	tm := gormadapter.NewGormTransactionManager(db)

	rolledBack, err := tm.Begin(ctx)
	require.NoError(t, err)
	_, err = rolledBack.ExecuteUpdate(ctx, &ledgerRow{ID: 1, Name: "a", Amount: 1}, "CREATE", "", nil)
	require.NoError(t, err)
	require.NoError(t, tm.Rollback(rolledBack))
	assert.Equal(t, int64(0), countRows(t, db))

	committed, err := tm.Begin(ctx, nil)
	require.NoError(t, err)
	_, err = committed.ExecuteUpdate(ctx, &ledgerRow{ID: 1, Name: "a", Amount: 1}, "CREATE", "", nil)
	require.NoError(t, err)
	require.NoError(t, tm.Commit(committed))
	assert.Equal(t, int64(1), countRows(t, db))
}

func TestGormTxAdapter_RollbackToSavepointKeepsEarlierWork(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	tm := gormadapter.NewGormTransactionManager(db)

	t1, err := tm.Begin(ctx)
	require.NoError(t, err)
	txCtx := tx.WithTx(ctx, t1)
	assert.True(t, gormadapter.InTransaction(txCtx))

	require.NoError(t, gormadapter.DBFromContext(txCtx, db).Create(&ledgerRow{ID: 1, Name: "kept"}).Error)
	require.NoError(t, t1.Savepoint("sp1"))
	require.NoError(t, gormadapter.DBFromContext(txCtx, db).Create(&ledgerRow{ID: 2, Name: "undone"}).Error)
	require.NoError(t, t1.RollbackToSavepoint("sp1"))
	require.NoError(t, tm.Commit(t1))

	var rows []ledgerRow
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "kept", rows[0].Name)
}

func TestGormTxAdapter_ExecuteUpsert(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	tm := gormadapter.NewGormTransactionManager(db)

	t1, err := tm.Begin(ctx)
	require.NoError(t, err)
	_, err = t1.ExecuteUpsert(ctx, &ledgerRow{ID: 1, Name: "a", Amount: 100}, "", []string{"id"}, []string{"amount"})
	require.NoError(t, err)
	_, err = t1.ExecuteUpsert(ctx, &ledgerRow{ID: 1, Name: "ignored", Amount: 400}, "", []string{"id"}, []string{"amount"})
	require.NoError(t, err)
	n, err := t1.ExecuteUpsert(ctx, &ledgerRow{ID: 1, Name: "ignored", Amount: 999}, "", []string{"id"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	require.NoError(t, tm.Commit(t1))

	var row ledgerRow
	require.NoError(t, db.First(&row, 1).Error)
	assert.Equal(t, "a", row.Name)
	assert.Equal(t, int64(400), row.Amount)
}

func TestGormTransactionManager_RejectsForeignTx(t *testing.T) {
	tm := gormadapter.NewGormTransactionManager(openSQLite(t))
	noop, err := tx.NewNoopTransactionManager().Begin(context.Background())
	require.NoError(t, err)
	assert.Error(t, tm.Commit(noop))
	assert.Error(t, tm.Rollback(noop))
}

func TestProvider_UnknownConnection(t *testing.T) {
	provider := gormadapter.NewProvider(map[string]interface{}{
		"broken": map[string]interface{}{"type": "oracle", "database": "x"},
	})
	_, err := provider.GetConnection("missing")
	assert.Error(t, err)
	_, err = provider.GetConnection("broken")
	assert.ErrorContains(t, err, "unsupported database type")
	assert.Equal(t, []string{"broken"}, provider.Names())
}

func TestExecutorFromContext_JoinsCarriedTransaction(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	tm := gormadapter.NewGormTransactionManager(db)

	_, err := gormadapter.ExecutorFromContext(ctx, db).ExecuteUpdate(ctx, &ledgerRow{ID: 1, Name: "direct", Amount: 1}, "CREATE", "", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), countRows(t, db))

	t1, err := tm.Begin(ctx)
	require.NoError(t, err)
	txCtx := tx.WithTx(ctx, t1)
	_, err = gormadapter.ExecutorFromContext(txCtx, db).ExecuteUpsert(txCtx, &ledgerRow{ID: 2, Name: "staged", Amount: 2}, "", []string{"id"}, []string{"amount"})
	require.NoError(t, err)
	n, err := gormadapter.ExecutorFromContext(txCtx, db).ExecuteUpdate(txCtx, &ledgerRow{ID: 1, Name: "direct", Amount: 0}, "UPDATE", "",
		map[string]interface{}{"id": 1, "amount": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tm.Rollback(t1))

	var rows []ledgerRow
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Amount, "the rolled back update leaves the row as committed")
}
