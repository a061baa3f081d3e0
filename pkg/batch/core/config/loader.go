package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

const moduleName = "config"

// loadConfig builds a Config from defaults, the YAML document and the environment.
//
// Order of precedence, lowest first: NewConfig defaults, YAML values (after ${VAR}
// expansion), then SEEKBATCH_* environment variables. The .env file, when present,
// only seeds the process environment and never overrides variables already set.
func loadConfig(envFilePath string, raw EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}
	expanded, err := expander.Expand(raw)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to expand environment variables in config", err, false, false)
	}

	cfg := NewConfig()
	// yaml.v3 leaves fields absent from the document untouched, so the defaults survive.
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal config", err, false, false)
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	return cfg, nil
}

// LoadConfig loads and validates a Config. envFilePath may be empty, in which case
// a .env file in the working directory is used when it exists.
func LoadConfig(envFilePath string, raw EmbeddedConfig) (*Config, error) {
	cfg, err := loadConfig(envFilePath, raw, nil)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads the YAML document at path and loads it like LoadConfig.
func LoadFile(path, envFilePath string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to read config file '%s'", path), err, false, false)
	}
	return LoadConfig(envFilePath, raw)
}

// Apply pushes the process-wide settings of cfg to the logger and the parameter masking.
func (c *Config) Apply() {
	logger.SetLogLevel(c.Seekbatch.System.Logging.Level)
	model.SetMaskedParameterKeys(c.Seekbatch.Security.MaskedParameterKeys)
	logger.Infof("Log level set to: %s", c.Seekbatch.System.Logging.Level)
}

// Location returns the configured time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Seekbatch.System.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate reports the first inconsistency in the configuration.
func (c *Config) Validate() error {
	s := c.Seekbatch
	fail := func(format string, args ...interface{}) error {
		return exception.NewBatchError(moduleName, fmt.Sprintf(format, args...), nil, false, false)
	}

	if s.Batch.ChunkSize <= 0 {
		return fail("batch.chunk_size must be positive, got %d", s.Batch.ChunkSize)
	}
	if s.Batch.PageSize <= 0 {
		return fail("batch.page_size must be positive, got %d", s.Batch.PageSize)
	}
	if s.Batch.WorkerCount <= 0 {
		return fail("batch.worker_count must be positive, got %d", s.Batch.WorkerCount)
	}
	if s.Batch.PageRateLimit < 0 {
		return fail("batch.page_rate_limit must not be negative")
	}
	if s.Batch.ItemSkip.SkipLimit < 0 {
		return fail("batch.item_skip.skip_limit must not be negative")
	}
	if err := checkExceptionClasses(s.Batch.ItemSkip.SkippableExceptions, "ItemSkip"); err != nil {
		return exception.NewBatchError(moduleName, "failed to validate configured exception classes", err, false, false)
	}
	if s.Batch.ItemRetry.MaxAttempts < 0 || s.Batch.ItemRetry.InitialInterval < 0 {
		return fail("batch.item_retry.max_attempts and initial_interval must not be negative")
	}
	if err := checkExceptionClasses(s.Batch.ItemRetry.RetryableExceptions, "ItemRetry"); err != nil {
		return exception.NewBatchError(moduleName, "failed to validate configured exception classes", err, false, false)
	}

	if _, err := time.LoadLocation(s.System.Timezone); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("invalid system.timezone '%s'", s.System.Timezone), err, false, false)
	}
	if _, err := logger.ParseLevel(s.System.Logging.Level); err != nil {
		return exception.NewBatchError(moduleName, "invalid system.logging.level", err, false, false)
	}

	switch s.Infrastructure.JobRepositoryType {
	case "inmemory":
	case "sql":
		if _, ok := s.Database[s.Infrastructure.JobRepositoryDBRef]; !ok {
			return fail("infrastructure.job_repository_db_ref '%s' is not defined under database", s.Infrastructure.JobRepositoryDBRef)
		}
		if _, ok := s.Database[s.Infrastructure.CheckpointDBRef]; !ok {
			return fail("infrastructure.checkpoint_db_ref '%s' is not defined under database", s.Infrastructure.CheckpointDBRef)
		}
	default:
		return fail("unsupported infrastructure.job_repository_type '%s'", s.Infrastructure.JobRepositoryType)
	}

	if s.Export.StorageRef != "" {
		if _, ok := s.Storage[s.Export.StorageRef]; !ok {
			return fail("export.storage_ref '%s' is not defined under storage", s.Export.StorageRef)
		}
	}

	if s.Telemetry.Enabled {
		switch s.Telemetry.Protocol {
		case "grpc", "http":
		default:
			return fail("unsupported telemetry.protocol '%s'", s.Telemetry.Protocol)
		}
	}

	if s.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(s.Schedule.Cron); err != nil {
			return exception.NewBatchError(moduleName, fmt.Sprintf("invalid schedule.cron '%s'", s.Schedule.Cron), err, false, false)
		}
	}
	if s.Schedule.LookbackDays < 0 {
		return fail("schedule.lookback_days must not be negative")
	}
	return nil
}

// checkExceptionClasses validates that every name has a registered sentinel error.
func checkExceptionClasses(classNames []string, configType string) error {
	for _, name := range classNames {
		if !exception.IsErrorTypeRegistered(name) {
			return fmt.Errorf("%s configuration references unknown exception class: '%s'. Ensure it is registered", configType, name)
		}
	}
	return nil
}

// loadStructFromEnv recursively loads values into a struct from environment variables.
// Variable names are the upper-cased path of yaml tags joined by "_", for example
// SEEKBATCH_BATCH_CHUNK_SIZE.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		switch {
		case field.Kind() == reflect.Struct:
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		case field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String:
			// SEEKBATCH_STORAGE_LOCAL_BASE_DIR, SEEKBATCH_DATABASE_METADATA_PASSWORD
			if err := loadMapFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapFromEnv sets entries of a string-keyed map from variables named
// <prefix><KEY>_<FIELD>. Only existing keys are touched when the map holds raw
// sections, since the key/field split is ambiguous for keys containing "_".
func loadMapFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	elemType := mapField.Type().Elem()

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := strings.SplitN(parts[0], "_", 2)
		if len(keyAndField) != 2 {
			continue
		}
		mapKey := strings.ToLower(keyAndField[0])
		fieldName := keyAndField[1]
		envValue := parts[1]

		switch elemType.Kind() {
		case reflect.Struct:
			structVal := reflect.New(elemType).Elem()
			if existing := mapField.MapIndex(reflect.ValueOf(mapKey)); existing.IsValid() {
				structVal.Set(existing)
			}
			if err := setStructFieldFromEnv(structVal, fieldName, envValue); err != nil {
				return err
			}
			mapField.SetMapIndex(reflect.ValueOf(mapKey), structVal)
		case reflect.Interface:
			existing := mapField.MapIndex(reflect.ValueOf(mapKey))
			if !existing.IsValid() {
				continue
			}
			section, ok := existing.Interface().(map[string]interface{})
			if !ok {
				continue
			}
			section[strings.ToLower(fieldName)] = envValue
		}
	}
	return nil
}

// setStructFieldFromEnv sets the field whose yaml tag matches fieldName case-insensitively.
func setStructFieldFromEnv(structVal reflect.Value, fieldName string, value string) error {
	typ := structVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		yamlTag := strings.Split(typ.Field(i).Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		if strings.EqualFold(yamlTag, fieldName) {
			return setField(structVal.Field(i), value)
		}
	}
	return nil
}

// setField converts value to the kind of field. Slices of strings are comma separated.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
