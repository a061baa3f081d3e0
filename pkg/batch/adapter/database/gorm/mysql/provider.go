// Package mysql registers the MySQL dialector with the GORM adapter.
package mysql

import (
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString builds the DSN with the driver's formatter. parseTime is always
// enabled so DATETIME columns scan into time.Time, and multiStatements so a
// migration file may hold several statements.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	dsn := mysqldriver.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	port := c.Port
	if port == 0 {
		port = 3306
	}
	dsn.Addr = fmt.Sprintf("%s:%d", c.Host, port)
	dsn.DBName = c.Database
	dsn.ParseTime = true
	dsn.MultiStatements = true
	dsn.Params = map[string]string{"charset": "utf8mb4"}
	for k, v := range c.Params {
		dsn.Params[k] = v
	}
	return dsn.FormatDSN()
}
