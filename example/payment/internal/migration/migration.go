// Package migration embeds the schema of the payment tables.
package migration

import (
	"embed"
	"io/fs"

	"github.com/tigerroll/seekbatch/pkg/batch/infrastructure/migration"
)

//go:embed resource
var resourceFS embed.FS

// Source returns the payment migrations. Their history is kept apart from the
// framework's.
func Source() migration.Source {
	sub, err := fs.Sub(resourceFS, "resource")
	if err != nil {
		panic(err)
	}
	return migration.Source{Name: "payment", FS: sub, Table: migration.AppMigrationsTable}
}
