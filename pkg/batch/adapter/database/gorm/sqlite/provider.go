// Package sqlite registers the SQLite dialector with the GORM adapter.
package sqlite

import (
	"errors"
	"net/url"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString returns the SQLite DSN: the file path followed by any Params
// as query arguments (for example _busy_timeout or _journal_mode).
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if len(c.Params) == 0 {
		return c.Database
	}
	values := url.Values{}
	for k, v := range c.Params {
		values.Set(k, v)
	}
	sep := "?"
	if strings.Contains(c.Database, "?") {
		sep = "&"
	}
	return c.Database + sep + values.Encode()
}
