// Package gorm provides a CheckpointStore persisted in the batch_checkpoint table.
package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

// TableName is the checkpoint table.
const TableName = "batch_checkpoint"

// checkpointRow is one row of batch_checkpoint.
type checkpointRow struct {
	ExecutionKey string                 `gorm:"column:execution_key;primaryKey;size:255"`
	Context      model.ExecutionContext `gorm:"column:context;type:text;not null"`
	UpdatedAt    time.Time              `gorm:"column:updated_at;not null"`
}

func (checkpointRow) TableName() string { return TableName }

// Store is a port.CheckpointStore backed by GORM. Saves made through a context
// carrying a GORM transaction join it, so a checkpoint commits with its chunk.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store on db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates the checkpoint table. Deployments normally use the SQL
// migrations instead.
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&checkpointRow{})
}

// Load implements port.CheckpointStore.
func (s *Store) Load(ctx context.Context, key string) (model.ExecutionContext, error) {
	var row checkpointRow
	err := gormadapter.DBFromContext(ctx, s.db).Where("execution_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.NewExecutionContext(), nil
	}
	if err != nil {
		return nil, err
	}
	if row.Context == nil {
		return model.NewExecutionContext(), nil
	}
	return row.Context, nil
}

// Save implements port.CheckpointStore.
func (s *Store) Save(ctx context.Context, key string, ec model.ExecutionContext) error {
	row := checkpointRow{ExecutionKey: key, Context: ec, UpdatedAt: time.Now().UTC()}
	_, err := gormadapter.ExecutorFromContext(ctx, s.db).
		ExecuteUpsert(ctx, &row, TableName, []string{"execution_key"}, []string{"context", "updated_at"})
	return err
}

// Delete implements port.CheckpointStore.
func (s *Store) Delete(ctx context.Context, key string) error {
	return gormadapter.DBFromContext(ctx, s.db).Where("execution_key = ?", key).Delete(&checkpointRow{}).Error
}

// DeleteByPrefix implements port.CheckpointStore.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) error {
	return gormadapter.DBFromContext(ctx, s.db).
		Where("execution_key LIKE ? ESCAPE '!'", escapeLike(prefix)+"%").
		Delete(&checkpointRow{}).Error
}

// escapeLike escapes LIKE wildcards with '!', which needs no quoting in any supported dialect.
func escapeLike(s string) string {
	return strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`).Replace(s)
}

var _ port.CheckpointStore = (*Store)(nil)
