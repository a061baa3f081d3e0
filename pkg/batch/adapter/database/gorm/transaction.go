package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	tx "github.com/tigerroll/seekbatch/pkg/batch/core/tx"
)

// GormTxAdapter implements tx.Tx over a GORM transaction.
type GormTxAdapter struct {
	db *gorm.DB
}

// DB returns the transaction's *gorm.DB.
func (t *GormTxAdapter) DB() *gorm.DB {
	return t.db
}

// ExecuteUpdate implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error) {
	db := t.db.WithContext(ctx)
	if tableName != "" {
		db = db.Table(tableName)
	}

	var result *gorm.DB
	switch operation {
	case "CREATE":
		result = db.Create(model)
	case "UPDATE":
		result = db.Model(model).Where(query).Select("*").Updates(model)
	case "DELETE":
		if len(query) == 0 {
			return 0, fmt.Errorf("DELETE on %s requires a condition", tableName)
		}
		result = db.Where(query).Delete(model)
	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ExecuteUpsert implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error) {
	db := t.db.WithContext(ctx)
	if tableName != "" {
		db = db.Table(tableName)
	}
	result := db.Clauses(OnConflict(conflictColumns, updateColumns)).Create(model)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Savepoint implements tx.Tx.
func (t *GormTxAdapter) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

// RollbackToSavepoint implements tx.Tx.
func (t *GormTxAdapter) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

// OnConflict builds the upsert clause: DO UPDATE of updateColumns, or DO NOTHING
// when updateColumns is empty.
func OnConflict(conflictColumns, updateColumns []string) clause.OnConflict {
	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}
	onConflict := clause.OnConflict{Columns: columns}
	if len(updateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		onConflict.DoNothing = true
	}
	return onConflict
}

// GormTransactionManager implements tx.TransactionManager over one *gorm.DB.
type GormTransactionManager struct {
	db *gorm.DB
}

// NewGormTransactionManager creates a GormTransactionManager.
func NewGormTransactionManager(db *gorm.DB) *GormTransactionManager {
	return &GormTransactionManager{db: db}
}

// Begin implements tx.TransactionManager.
func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	var txOpts *sql.TxOptions
	if len(opts) > 0 && opts[0] != nil {
		txOpts = opts[0]
	}

	gormTx := m.db.WithContext(ctx).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", gormTx.Error)
	}
	return &GormTxAdapter{db: gormTx}, nil
}

// Commit implements tx.TransactionManager.
func (m *GormTransactionManager) Commit(t tx.Tx) error {
	gormTxAdapter, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	return gormTxAdapter.db.Commit().Error
}

// Rollback implements tx.TransactionManager.
func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	gormTxAdapter, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	return gormTxAdapter.db.Rollback().Error
}

// DBFromContext returns the *gorm.DB of the GORM transaction carried by ctx, or
// db bound to ctx when there is none. Writers and stores use it to join the chunk
// transaction.
func DBFromContext(ctx context.Context, db *gorm.DB) *gorm.DB {
	if t, ok := tx.FromContext(ctx); ok {
		if g, ok := t.(*GormTxAdapter); ok {
			return g.db.WithContext(ctx)
		}
	}
	return db.WithContext(ctx)
}

// ExecutorFromContext returns a tx.TxExecutor on the GORM transaction carried by
// ctx, or on db when there is none, in which case each call commits on its own.
func ExecutorFromContext(ctx context.Context, db *gorm.DB) tx.TxExecutor {
	return &GormTxAdapter{db: DBFromContext(ctx, db)}
}

// InTransaction reports whether ctx carries a GORM transaction.
func InTransaction(ctx context.Context) bool {
	t, ok := tx.FromContext(ctx)
	if !ok {
		return false
	}
	_, ok = t.(*GormTxAdapter)
	return ok
}

var (
	_ tx.Tx                 = (*GormTxAdapter)(nil)
	_ tx.TransactionManager = (*GormTransactionManager)(nil)
)
