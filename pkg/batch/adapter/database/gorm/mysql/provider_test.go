package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	dbconfig "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/config"
)

func TestConnectionString(t *testing.T) {
	dsn := ConnectionString(dbconfig.DatabaseConfig{
		Type:     "mysql",
		Host:     "db.internal",
		Database: "payments",
		User:     "batch",
		Password: "p@ss:word",
		Params:   map[string]string{"loc": "Local"},
	})

	assert.Contains(t, dsn, "batch:p@ss:word@tcp(db.internal:3306)/payments?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
	assert.Contains(t, dsn, "multiStatements=true")
}
