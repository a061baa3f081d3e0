package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/tx"
)

func TestStore_LoadMissingReturnsEmpty(t *testing.T) {
	s := NewStore()
	ec, err := s.Load(context.Background(), "job#abc/step")
	require.NoError(t, err)
	assert.Empty(t, ec)
}

func TestStore_SaveCopiesContext(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	ec := model.NewExecutionContext()
	ec.Put("reader.lastKey", int64(10))
	require.NoError(t, s.Save(ctx, "k", ec))
	ec.Put("reader.lastKey", int64(99))

	loaded, err := s.Load(ctx, "k")
	require.NoError(t, err)
	v, _ := loaded.GetInt64("reader.lastKey")
	assert.Equal(t, int64(10), v)
}

func TestStore_TransactionalSave(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	tm := s.TransactionManager()

	ec := model.NewExecutionContext()
	ec.Put("reader.lastKey", int64(20))

	rolledBack, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Save(tx.WithTx(ctx, rolledBack), "k", ec))
	require.NoError(t, tm.Rollback(rolledBack))

	loaded, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, loaded)

	committed, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Save(tx.WithTx(ctx, committed), "k", ec))

	loaded, err = s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, loaded, "staged checkpoint must not be visible before commit")

	require.NoError(t, tm.Commit(committed))
	loaded, err = s.Load(ctx, "k")
	require.NoError(t, err)
	v, _ := loaded.GetInt64("reader.lastKey")
	assert.Equal(t, int64(20), v)
}

func TestStore_DeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for _, key := range []string{"jobA#1/step", "jobA#1/step:2025-01-01", "jobA#2/step"} {
		require.NoError(t, s.Save(ctx, key, model.NewExecutionContext()))
	}

	require.NoError(t, s.DeleteByPrefix(ctx, "jobA#1/"))
	assert.ElementsMatch(t, []string{"jobA#2/step"}, s.Keys())

	require.NoError(t, s.Delete(ctx, "jobA#2/step"))
	assert.Empty(t, s.Keys())
}
