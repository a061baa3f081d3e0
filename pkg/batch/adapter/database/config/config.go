// Package config holds the connection settings of the database adapters.
package config

import "fmt"

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes" mapstructure:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string            `yaml:"type" mapstructure:"type"`         // "sqlite", "mysql" or "postgres".
	Host     string            `yaml:"host" mapstructure:"host"`         // Database host address.
	Port     int               `yaml:"port" mapstructure:"port"`         // Database port number.
	Database string            `yaml:"database" mapstructure:"database"` // Database name, or the file path for SQLite.
	User     string            `yaml:"user" mapstructure:"user"`
	Password string            `yaml:"password" mapstructure:"password"`
	Schema   string            `yaml:"schema,omitempty" mapstructure:"schema"` // PostgreSQL search_path.
	Sslmode  string            `yaml:"sslmode" mapstructure:"sslmode"`
	Params   map[string]string `yaml:"params,omitempty" mapstructure:"params"` // Extra driver parameters.
	Pool     PoolConfig        `yaml:"pool" mapstructure:"pool"`
}

// Validate checks the fields every dialect needs.
func (c DatabaseConfig) Validate() error {
	switch c.Type {
	case "sqlite":
		if c.Database == "" {
			return fmt.Errorf("sqlite: database path is required")
		}
	case "mysql", "postgres":
		if c.Host == "" || c.Database == "" {
			return fmt.Errorf("%s: host and database are required", c.Type)
		}
	case "":
		return fmt.Errorf("database type is required")
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}
	if c.Pool.MaxOpenConns < 0 || c.Pool.MaxIdleConns < 0 {
		return fmt.Errorf("%s: pool sizes must not be negative", c.Type)
	}
	return nil
}
