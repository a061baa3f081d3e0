// Package inmemory provides a CheckpointStore kept in process memory.
// It is used by tests and by jobs that do not need to survive a process restart.
package inmemory

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/tx"
)

// Store is a port.CheckpointStore backed by a map.
//
// A save made through a context carrying a transaction is staged and becomes
// visible only when that transaction is committed through the TransactionManager
// returned by Store.TransactionManager. Saves without a transaction apply at once.
type Store struct {
	mu      sync.RWMutex
	data    map[string]model.ExecutionContext
	pending map[*stagedTx]map[string]model.ExecutionContext

	// FailNextSave, when set, is returned by the next Save and then cleared.
	FailNextSave error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		data:    make(map[string]model.ExecutionContext),
		pending: make(map[*stagedTx]map[string]model.ExecutionContext),
	}
}

// Load implements port.CheckpointStore.
func (s *Store) Load(_ context.Context, key string) (model.ExecutionContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ec, ok := s.data[key]
	if !ok {
		return model.NewExecutionContext(), nil
	}
	return ec.Copy(), nil
}

// Save implements port.CheckpointStore.
func (s *Store) Save(ctx context.Context, key string, ec model.ExecutionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailNextSave; err != nil {
		s.FailNextSave = nil
		return err
	}
	if t, ok := tx.FromContext(ctx); ok {
		if st, ok := t.(*stagedTx); ok {
			if _, open := s.pending[st]; open {
				s.pending[st][key] = ec.Copy()
				return nil
			}
		}
	}
	s.data[key] = ec.Copy()
	return nil
}

// Delete implements port.CheckpointStore.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// DeleteByPrefix implements port.CheckpointStore.
func (s *Store) DeleteByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			delete(s.data, key)
		}
	}
	return nil
}

// Keys returns the stored keys. The order is unspecified.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	return keys
}

// TransactionManager returns a tx.TransactionManager whose commits publish the
// checkpoints staged by this store.
func (s *Store) TransactionManager() tx.TransactionManager {
	return &stagingManager{store: s}
}

type stagedTx struct {
	noop tx.Tx
}

func (t *stagedTx) ExecuteUpdate(ctx context.Context, m interface{}, operation, tableName string, query map[string]interface{}) (int64, error) {
	return t.noop.ExecuteUpdate(ctx, m, operation, tableName, query)
}

func (t *stagedTx) ExecuteUpsert(ctx context.Context, m interface{}, tableName string, conflictColumns, updateColumns []string) (int64, error) {
	return t.noop.ExecuteUpsert(ctx, m, tableName, conflictColumns, updateColumns)
}

func (t *stagedTx) Savepoint(string) error           { return nil }
func (t *stagedTx) RollbackToSavepoint(string) error { return nil }

type stagingManager struct {
	store *Store
}

func (m *stagingManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	noop, err := tx.NewNoopTransactionManager().Begin(ctx, opts...)
	if err != nil {
		return nil, err
	}
	t := &stagedTx{noop: noop}
	m.store.mu.Lock()
	m.store.pending[t] = make(map[string]model.ExecutionContext)
	m.store.mu.Unlock()
	return t, nil
}

func (m *stagingManager) Commit(t tx.Tx) error {
	st, ok := t.(*stagedTx)
	if !ok {
		return tx.ErrNotSupported
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for key, ec := range m.store.pending[st] {
		m.store.data[key] = ec
	}
	delete(m.store.pending, st)
	return nil
}

func (m *stagingManager) Rollback(t tx.Tx) error {
	st, ok := t.(*stagedTx)
	if !ok {
		return tx.ErrNotSupported
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	delete(m.store.pending, st)
	return nil
}

var _ port.CheckpointStore = (*Store)(nil)
