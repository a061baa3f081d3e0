// Package tx abstracts the transaction that makes a chunk atomic: the chunk's writes
// and its checkpoint are committed or rolled back together.
package tx

import (
	"context"
	"database/sql"
	"errors"
)

// TxExecutor defines the write operations a component may run inside a transaction
// without depending on a particular database library.
type TxExecutor interface {
	// ExecuteUpdate performs an INSERT ("CREATE"), UPDATE or DELETE on tableName.
	// query holds equality conditions for UPDATE and DELETE, combined with AND.
	// UPDATE writes every column of model, zero values included.
	// Returns the number of affected rows.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert inserts model, updating updateColumns when conflictColumns collide.
	// An empty updateColumns means ON CONFLICT DO NOTHING.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)
}

// Tx is an open transaction.
type Tx interface {
	TxExecutor

	// Savepoint creates a savepoint named name.
	Savepoint(name string) error
	// RollbackToSavepoint undoes the changes made after the savepoint named name.
	RollbackToSavepoint(name string) error
}

// TransactionManager begins, commits and rolls back transactions.
type TransactionManager interface {
	// Begin starts a new transaction.
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit commits tx.
	Commit(tx Tx) error
	// Rollback rolls back tx.
	Rollback(tx Tx) error
}

type contextKey struct{}

// WithTx returns a context carrying tx. Writers and checkpoint stores join it.
func WithTx(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, contextKey{}, tx)
}

// FromContext returns the transaction carried by ctx, if any.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(contextKey{}).(Tx)
	return t, ok && t != nil
}

// ErrNotSupported is returned by NoopTransactionManager transactions for data operations.
var ErrNotSupported = errors.New("operation not supported by no-op transaction")

// NoopTransactionManager hands out transactions that do nothing. It serves in-memory
// pipelines whose writers and checkpoint store are not transactional.
type NoopTransactionManager struct{}

// NewNoopTransactionManager creates a NoopTransactionManager.
func NewNoopTransactionManager() *NoopTransactionManager {
	return &NoopTransactionManager{}
}

type noopTx struct{}

func (noopTx) ExecuteUpdate(context.Context, interface{}, string, string, map[string]interface{}) (int64, error) {
	return 0, ErrNotSupported
}

func (noopTx) ExecuteUpsert(context.Context, interface{}, string, []string, []string) (int64, error) {
	return 0, ErrNotSupported
}

func (noopTx) Savepoint(string) error           { return nil }
func (noopTx) RollbackToSavepoint(string) error { return nil }

// Begin implements TransactionManager.
func (m *NoopTransactionManager) Begin(context.Context, ...*sql.TxOptions) (Tx, error) {
	return noopTx{}, nil
}

// Commit implements TransactionManager.
func (m *NoopTransactionManager) Commit(Tx) error { return nil }

// Rollback implements TransactionManager.
func (m *NoopTransactionManager) Rollback(Tx) error { return nil }

var _ TransactionManager = (*NoopTransactionManager)(nil)
