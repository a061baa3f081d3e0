// Package config holds the connection settings of the storage adapters.
package config

import "fmt"

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // "local" or "gcs".
	BucketName      string `yaml:"bucket_name"`      // Default bucket name for operations.
	CredentialsFile string `yaml:"credentials_file"` // Service account key for GCS. Empty uses application default credentials.
	BaseDir         string `yaml:"base_dir"`         // Base directory for local file system operations.
}

// Validate checks the fields the configured type needs.
func (c StorageConfig) Validate() error {
	switch c.Type {
	case "local":
		if c.BaseDir == "" {
			return fmt.Errorf("local: base_dir is required")
		}
	case "gcs":
		if c.BucketName == "" {
			return fmt.Errorf("gcs: bucket_name is required")
		}
	case "":
		return fmt.Errorf("storage type is required")
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Type)
	}
	return nil
}
