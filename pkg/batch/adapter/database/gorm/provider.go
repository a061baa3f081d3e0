// Package gorm connects seekbatch to relational databases through GORM. Dialect
// packages (sqlite, mysql, postgres) register themselves with RegisterDialector.
package gorm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/config"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// DialectorFactory generates a gorm.Dialector from a dbconfig.DatabaseConfig.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory corresponding to the specified DB type.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// Open validates cfg, opens a GORM connection and applies the pool settings.
func Open(cfg dbconfig.DatabaseConfig) (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialectorFactory, err := GetDialectorFactory(cfg.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := dialectorFactory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", cfg.Type, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(logger.GetLogLevel())})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}

// Provider opens and caches named connections described by raw configuration maps,
// typically the `datasources` section of the application config.
type Provider struct {
	rawConfigs  map[string]interface{}
	connections map[string]*gorm.DB
	mu          sync.RWMutex
}

// NewProvider creates a Provider over rawConfigs. Each value is decoded into a
// dbconfig.DatabaseConfig when its connection is first requested.
func NewProvider(rawConfigs map[string]interface{}) *Provider {
	return &Provider{
		rawConfigs:  rawConfigs,
		connections: make(map[string]*gorm.DB),
	}
}

// Names returns the configured connection names in sorted order.
func (p *Provider) Names() []string {
	names := make([]string, 0, len(p.rawConfigs))
	for name := range p.rawConfigs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config decodes the configuration of the named connection.
func (p *Provider) Config(name string) (dbconfig.DatabaseConfig, error) {
	var cfg dbconfig.DatabaseConfig
	raw, ok := p.rawConfigs[name]
	if !ok {
		return cfg, fmt.Errorf("database configuration '%s' not found in datasources", name)
	}
	if err := mapstructure.WeakDecode(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode database config for '%s': %w", name, err)
	}
	return cfg, nil
}

// GetConnection retrieves an existing connection or establishes a new one.
func (p *Provider) GetConnection(name string) (*gorm.DB, error) {
	p.mu.RLock()
	db, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return db, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok = p.connections[name]; ok {
		return db, nil
	}

	cfg, err := p.Config(name)
	if err != nil {
		return nil, err
	}
	db, err = Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("connection '%s': %w", name, err)
	}
	p.connections[name] = db
	logger.Infof("Established new DB connection: %s (%s)", name, cfg.Type)
	return db, nil
}

// CloseAll closes every connection opened by the provider.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, db := range p.connections {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			result = multierror.Append(result, fmt.Errorf("close %s: %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}
