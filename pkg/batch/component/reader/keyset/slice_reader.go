package keyset

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

// SliceReader reads an in-memory slice in ascending key order and checkpoints the
// same keys as Reader, so a step can switch between the two without losing its place.
type SliceReader[T any] struct {
	name      string
	items     []T
	keyOf     func(T) int64
	pos       int
	lastKey   int64
	exhausted bool
}

// NewSliceReader sorts a copy of items by key. Keys must be unique.
func NewSliceReader[T any](name string, items []T, keyOf func(T) int64) (*SliceReader[T], error) {
	if name == "" || keyOf == nil {
		return nil, fmt.Errorf("slice reader: name and key function are required")
	}
	sorted := append([]T(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return keyOf(sorted[i]) < keyOf(sorted[j]) })
	for i := 1; i < len(sorted); i++ {
		if keyOf(sorted[i]) == keyOf(sorted[i-1]) {
			return nil, fmt.Errorf("slice reader '%s': duplicate key %d", name, keyOf(sorted[i]))
		}
	}
	return &SliceReader[T]{name: name, items: sorted, keyOf: keyOf}, nil
}

// Open implements port.ItemReader.
func (r *SliceReader[T]) Open(_ context.Context, checkpoint model.ExecutionContext) error {
	r.pos = 0
	r.exhausted = len(r.items) == 0
	if len(r.items) > 0 {
		r.lastKey = r.keyOf(r.items[0]) - 1
	}
	if lastKey, ok := checkpoint.GetInt64(r.name + ".lastKey"); ok {
		r.lastKey = lastKey
		r.exhausted, _ = checkpoint.GetBool(r.name + ".exhausted")
		r.pos = sort.Search(len(r.items), func(i int) bool { return r.keyOf(r.items[i]) > lastKey })
	}
	return nil
}

// Read implements port.ItemReader.
func (r *SliceReader[T]) Read(context.Context) (T, error) {
	var zero T
	if r.exhausted || r.pos >= len(r.items) {
		r.exhausted = true
		return zero, io.EOF
	}
	item := r.items[r.pos]
	r.pos++
	r.lastKey = r.keyOf(item)
	return item, nil
}

// Checkpoint implements port.ItemReader.
func (r *SliceReader[T]) Checkpoint() (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(r.name+".lastKey", r.lastKey)
	ec.Put(r.name+".exhausted", r.exhausted)
	return ec, nil
}

// Close implements port.ItemReader.
func (r *SliceReader[T]) Close(context.Context) error {
	return nil
}

var _ port.ItemReader[any] = (*SliceReader[any])(nil)
