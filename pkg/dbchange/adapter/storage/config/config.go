package config

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // "local" or "gcs".
	BucketName      string `yaml:"bucket_name"`      // Default bucket for GCS.
	CredentialsFile string `yaml:"credentials_file"` // Service account key for GCS. Empty means application default credentials.
	Endpoint        string `yaml:"endpoint"`         // Optional GCS endpoint override (emulators).
	BaseDir         string `yaml:"base_dir"`         // Base directory for local file system operations.
}
