package migration_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/seekbatch/pkg/batch/infrastructure/migration"

	paymentmigration "github.com/tigerroll/seekbatch/example/payment/internal/migration"
)

func TestSource_UpCreatesKeysetIndexAndPaymentTable(t *testing.T) {
	ctx := context.Background()
	db, err := gormadapter.Open(dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: ":memory:",
		Pool:     dbconfig.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})
	m, err := migration.NewMigrator(db)
	require.NoError(t, err)

	src := paymentmigration.Source()
	require.NoError(t, m.Up(ctx, src))
	version, dirty, err := m.Version(src)
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
	assert.False(t, dirty)

	for _, table := range []string{"payment_source", "payment_daily_statistics", "payment"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex("payment_source", "idx_payment_source_date_id"))
	assert.False(t, db.Migrator().HasIndex("payment_source", "idx_payment_source_date"), "the single-column index is replaced")

	var columns []string
	require.NoError(t, db.Raw("SELECT name FROM pragma_index_info('idx_payment_source_date_id') ORDER BY seqno").Scan(&columns).Error)
	assert.Equal(t, []string{"payment_date", "id"}, columns)

	require.NoError(t, m.Down(ctx, src))
	assert.False(t, db.Migrator().HasTable("payment_source"))
}
