package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	storageconfig "github.com/tigerroll/seekbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// AdapterFactory opens a StorageConnection from its configuration.
type AdapterFactory func(ctx context.Context, name string, cfg storageconfig.StorageConfig) (StorageConnection, error)

var (
	factoryRegistry = make(map[string]AdapterFactory)
	factoryMutex    sync.RWMutex
)

// RegisterAdapter registers the factory of a storage type.
func RegisterAdapter(storageType string, factory AdapterFactory) {
	factoryMutex.Lock()
	defer factoryMutex.Unlock()
	if _, exists := factoryRegistry[storageType]; exists {
		logger.Warnf("Storage adapter for type '%s' already registered. Overwriting.", storageType)
	}
	factoryRegistry[storageType] = factory
}

func lookupAdapter(storageType string) (AdapterFactory, error) {
	factoryMutex.RLock()
	defer factoryMutex.RUnlock()
	factory, ok := factoryRegistry[storageType]
	if !ok {
		return nil, fmt.Errorf("no storage adapter registered for type: %s", storageType)
	}
	return factory, nil
}

// Provider opens and caches the named connections of the storage section.
type Provider struct {
	configs     map[string]storageconfig.StorageConfig
	connections map[string]StorageConnection
	mu          sync.Mutex
}

// NewProvider creates a Provider over configs.
func NewProvider(configs map[string]storageconfig.StorageConfig) *Provider {
	return &Provider{
		configs:     configs,
		connections: make(map[string]StorageConnection),
	}
}

// Names returns the configured connection names in sorted order.
func (p *Provider) Names() []string {
	names := make([]string, 0, len(p.configs))
	for name := range p.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetConnection returns the cached connection of name, opening it on first use.
func (p *Provider) GetConnection(ctx context.Context, name string) (StorageConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.connections[name]; ok {
		return conn, nil
	}

	cfg, ok := p.configs[name]
	if !ok {
		return nil, fmt.Errorf("storage configuration '%s' not found", name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("storage '%s': %w", name, err)
	}
	factory, err := lookupAdapter(cfg.Type)
	if err != nil {
		return nil, err
	}
	conn, err := factory(ctx, name, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage '%s': %w", name, err)
	}
	p.connections[name] = conn
	logger.Infof("Opened storage connection: %s (%s)", name, cfg.Type)
	return conn, nil
}

// CloseAll closes every connection opened by the provider.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close storage %s: %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}
