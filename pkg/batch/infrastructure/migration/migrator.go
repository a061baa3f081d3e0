// Package migration applies versioned SQL schemas with golang-migrate. Each
// Source embeds one directory per dialect (sqlite, mysql, postgres) and tracks
// its history in its own migrations table.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// Migration history tables.
const (
	FrameworkMigrationsTable = "batch_framework_migrations"
	AppMigrationsTable       = "batch_app_migrations"
)

//go:embed resource
var frameworkFS embed.FS

// Source is a set of migrations laid out as <dialect>/<version>_<name>.{up,down}.sql.
type Source struct {
	Name  string
	FS    fs.FS
	Table string
}

// FrameworkSource returns the schema of the job repository and checkpoint tables.
func FrameworkSource() Source {
	sub, err := fs.Sub(frameworkFS, "resource")
	if err != nil {
		panic(err)
	}
	return Source{Name: "framework", FS: sub, Table: FrameworkMigrationsTable}
}

// Migrator runs Sources against one database connection.
type Migrator struct {
	sqlDB  *sql.DB
	dbType string
}

// NewMigrator creates a Migrator on the connection behind db. The dialect is
// taken from the GORM dialector.
func NewMigrator(db *gorm.DB) (*Migrator, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return &Migrator{sqlDB: sqlDB, dbType: db.Dialector.Name()}, nil
}

// DBType returns the dialect the migrator selects migration directories by.
func (m *Migrator) DBType() string {
	return m.dbType
}

func (m *Migrator) databaseDriver(table string) (database.Driver, error) {
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(m.sqlDB, &postgres.Config{MigrationsTable: table})
	case "mysql":
		return mysql.WithInstance(m.sqlDB, &mysql.Config{MigrationsTable: table})
	case "sqlite":
		return sqlite.WithInstance(m.sqlDB, &sqlite.Config{MigrationsTable: table})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

// The returned instance must not be closed: its database driver would close
// the shared *sql.DB. Only the source driver is released.
func (m *Migrator) instance(src Source) (*migrate.Migrate, func(), error) {
	sourceDriver, err := iofs.New(src.FS, m.dbType)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create iofs source driver for %s/%s: %w", src.Name, m.dbType, err)
	}
	dbDriver, err := m.databaseDriver(src.Table)
	if err != nil {
		_ = sourceDriver.Close()
		return nil, nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	mi, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		_ = sourceDriver.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mi, func() { _ = sourceDriver.Close() }, nil
}

func (m *Migrator) run(ctx context.Context, src Source, command string) error {
	const op = "migration.run"
	logger.Infof("Executing migration '%s' (Source: %s, DB: %s, Table: %s)", command, src.Name, m.dbType, src.Table)

	mi, release, err := m.instance(src)
	if err != nil {
		return exception.NewBatchError(op, "failed to prepare migration", err, false, false)
	}
	defer release()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mi.GracefulStop <- true
		case <-done:
		}
	}()

	switch command {
	case "up":
		err = mi.Up()
	case "down":
		err = mi.Down()
	default:
		return exception.NewBatchError(op, fmt.Sprintf("unsupported migration command: %s", command), nil, false, false)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if version, dirty, verr := mi.Version(); verr == nil {
			logger.Errorf("Migration '%s' of %s stopped at version %d (dirty: %t).", command, src.Name, version, dirty)
		}
		return exception.NewBatchError(op, fmt.Sprintf("migration '%s' failed for %s (DB: %s)", command, src.Name, m.dbType), err, false, false)
	}
	logger.Infof("Migration '%s' of %s completed successfully.", command, src.Name)
	return nil
}

// Up applies every pending migration of each source, in order.
func (m *Migrator) Up(ctx context.Context, sources ...Source) error {
	for _, src := range sources {
		if err := m.run(ctx, src, "up"); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back every applied migration of each source, in reverse order.
func (m *Migrator) Down(ctx context.Context, sources ...Source) error {
	for i := len(sources) - 1; i >= 0; i-- {
		if err := m.run(ctx, sources[i], "down"); err != nil {
			return err
		}
	}
	return nil
}

// Version reports the applied version of src. A source with no applied
// migration reports version 0.
func (m *Migrator) Version(src Source) (version uint, dirty bool, err error) {
	mi, release, err := m.instance(src)
	if err != nil {
		return 0, false, err
	}
	defer release()
	version, dirty, err = mi.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
