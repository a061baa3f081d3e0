// Package config provides the configuration tree of a seekbatch application and its loader.
package config

import (
	storageconfig "github.com/tigerroll/seekbatch/pkg/batch/adapter/storage/config"
)

// EmbeddedConfig holds the raw YAML of the configuration, typically embedded in main.
type EmbeddedConfig []byte

// ItemSkipConfig holds item-level skip configuration.
type ItemSkipConfig struct {
	SkipLimit           int64    `yaml:"skip_limit"`           // SkipLimit is the maximum number of items to skip per step.
	SkippableExceptions []string `yaml:"skippable_exceptions"` // SkippableExceptions are registered error type names.
}

// ItemRetryConfig holds the retry configuration of page reads and chunk transactions.
type ItemRetryConfig struct {
	MaxAttempts         int      `yaml:"max_attempts"`         // MaxAttempts counts the first attempt. 0 or 1 disables retrying.
	InitialInterval     int      `yaml:"initial_interval"`     // InitialInterval is the wait between attempts in milliseconds.
	RetryableExceptions []string `yaml:"retryable_exceptions"` // RetryableExceptions are registered error type names.
}

// BatchConfig holds the settings of the engine.
type BatchConfig struct {
	// ChunkSize is the number of items committed per transaction.
	ChunkSize int `yaml:"chunk_size"`
	// PageSize is the number of rows a keyset reader fetches per query.
	PageSize int `yaml:"page_size"`
	// PageRateLimit caps keyset page fetches per second. Zero disables throttling.
	PageRateLimit float64 `yaml:"page_rate_limit"`
	// WorkerCount bounds the number of partitions running at once.
	WorkerCount int `yaml:"worker_count"`
	// FailFast stops dispatching partitions after the first failure.
	FailFast bool `yaml:"fail_fast"`
	// ItemSkip is the item-level skip configuration.
	ItemSkip ItemSkipConfig `yaml:"item_skip"`
	// ItemRetry is the retry configuration.
	ItemRetry ItemRetryConfig `yaml:"item_retry"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level ("DEBUG", "INFO", "WARN" or "ERROR").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the zone in which dates are interpreted (e.g., "UTC", "Asia/Seoul").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// InfrastructureConfig names the connections used by the engine's own tables.
type InfrastructureConfig struct {
	// JobRepositoryType is "sql" or "inmemory".
	JobRepositoryType string `yaml:"job_repository_type"`
	// JobRepositoryDBRef is the datasource holding batch_job_execution and batch_step_execution.
	JobRepositoryDBRef string `yaml:"job_repository_db_ref"`
	// CheckpointDBRef is the datasource holding batch_checkpoint. It must be the
	// datasource the job writes to, so checkpoints commit with the chunk.
	CheckpointDBRef string `yaml:"checkpoint_db_ref"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys are JobParameters keys whose values are masked in logs and storage.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// ExportConfig selects where exports are written.
type ExportConfig struct {
	// StorageRef is the name of an entry under storage.
	StorageRef string `yaml:"storage_ref"`
	// Prefix is prepended to every exported object name.
	Prefix string `yaml:"prefix"`
}

// TelemetryConfig holds metrics and tracing settings.
type TelemetryConfig struct {
	// Enabled turns on the OpenTelemetry providers.
	Enabled bool `yaml:"enabled"`
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `yaml:"service_name"`
	// Protocol is the OTLP transport: "grpc" or "http".
	Protocol string `yaml:"protocol"`
	// Endpoint is the OTLP collector address (host:port).
	Endpoint string `yaml:"endpoint"`
	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`
	// MetricsAddr is the listen address of the Prometheus /metrics endpoint. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
	// AsyncBufferSize, when positive, records metrics on a background goroutine
	// through a queue of that size.
	AsyncBufferSize int `yaml:"async_buffer_size"`
}

// ScheduleConfig holds the settings of scheduled runs.
type ScheduleConfig struct {
	// Cron is a standard five-field cron expression.
	Cron string `yaml:"cron"`
	// LookbackDays is the number of days before the run day that a scheduled run covers.
	LookbackDays int `yaml:"lookback_days"`
}

// SeekbatchConfig holds all configuration under the "seekbatch" top-level key.
type SeekbatchConfig struct {
	Batch          BatchConfig          `yaml:"batch"`
	System         SystemConfig         `yaml:"system"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	Security       SecurityConfig       `yaml:"security"`
	Export         ExportConfig         `yaml:"export"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	Schedule       ScheduleConfig       `yaml:"schedule"`
	// Database holds the raw datasource sections keyed by name. They are decoded
	// into dbconfig.DatabaseConfig by the gorm Provider.
	Database map[string]interface{} `yaml:"database"`
	// Storage holds the storage connections keyed by name.
	Storage map[string]storageconfig.StorageConfig `yaml:"storage"`
}

// Config is the root of the application configuration.
type Config struct {
	Seekbatch SeekbatchConfig `yaml:"seekbatch"`
}

// NewConfig returns a Config holding the defaults.
func NewConfig() *Config {
	return &Config{
		Seekbatch: SeekbatchConfig{
			Batch: BatchConfig{
				ChunkSize:   10,
				PageSize:    100,
				WorkerCount: 4,
				ItemSkip: ItemSkipConfig{
					SkipLimit: 0,
				},
				ItemRetry: ItemRetryConfig{
					MaxAttempts:     1,
					InitialInterval: 1000,
				},
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Infrastructure: InfrastructureConfig{
				JobRepositoryType:  "sql",
				JobRepositoryDBRef: "metadata",
				CheckpointDBRef:    "metadata",
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "api_key", "secret"},
			},
			Export: ExportConfig{
				StorageRef: "local",
				Prefix:     "payment_daily_statistics",
			},
			Telemetry: TelemetryConfig{
				ServiceName: "seekbatch",
				Protocol:    "grpc",
			},
			Schedule: ScheduleConfig{
				Cron:         "0 2 * * *",
				LookbackDays: 1,
			},
			Database: map[string]interface{}{},
			Storage: map[string]storageconfig.StorageConfig{
				"local": {Type: "local", BaseDir: "./output"},
			},
		},
	}
}
