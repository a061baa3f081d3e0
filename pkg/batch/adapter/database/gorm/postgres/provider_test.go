package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	dbconfig "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/config"
)

func TestConnectionString(t *testing.T) {
	dsn := ConnectionString(dbconfig.DatabaseConfig{
		Type:     "postgres",
		Host:     "localhost",
		Database: "payments",
		User:     "batch",
		Password: "secret",
		Schema:   "stats",
		Params:   map[string]string{"TimeZone": "UTC"},
	})

	assert.Equal(t, "host=localhost port=5432 user=batch password=secret dbname=payments sslmode=disable search_path=stats TimeZone=UTC", dsn)
}
