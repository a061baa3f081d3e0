package config

import (
	"go.uber.org/fx"

	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
)

// ConfigParams are the fx inputs of NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
	Expander       EnvironmentExpander `optional:"true"`
}

// DatasourcesResult exposes the database section to the gorm Provider.
type DatasourcesResult struct {
	fx.Out
	Datasources map[string]interface{} `name:"datasources"`
}

// NewConfigProvider loads, validates and applies the configuration.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid configuration", err, false, false)
	}
	cfg.Apply()
	return cfg, nil
}

// NewDatasourcesProvider extracts the raw database section from cfg.
func NewDatasourcesProvider(cfg *Config) DatasourcesResult {
	return DatasourcesResult{Datasources: cfg.Seekbatch.Database}
}

// NewLoggingConfigProvider extracts the logging section from cfg.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Seekbatch.System.Logging
}

// Module provides *Config and the sections other modules depend on.
var Module = fx.Options(
	fx.Provide(
		NewConfigProvider,
		NewDatasourcesProvider,
		NewLoggingConfigProvider,
		func() EnvironmentExpander { return NewOsEnvironmentExpander() },
	),
)
