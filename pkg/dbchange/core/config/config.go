package config

// Package config provides the configuration structures of the undertow runtime.

import (
	"time"

	dbconfig "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/config"
	storageconfig "github.com/tigerroll/undertow/pkg/dbchange/adapter/storage/config"
)

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelSilent LogLevel = "SILENT"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// DispatcherConfig controls job scheduling and worker supervision.
type DispatcherConfig struct {
	// Slots is the number of jobs that may run at the same time.
	Slots int `yaml:"slots"`
	// PollInterval is the interval between scans for PENDING jobs, in milliseconds.
	PollInterval int `yaml:"poll_interval"`
	// HeartbeatInterval is how often a worker reports liveness, in milliseconds.
	HeartbeatInterval int `yaml:"heartbeat_interval"`
	// HeartbeatTimeout marks a worker lost when no event arrived for this long, in milliseconds.
	HeartbeatTimeout int `yaml:"heartbeat_timeout"`
	// JobRetryLimit bounds whole-job retries of transient, non-destructive failures.
	JobRetryLimit int `yaml:"job_retry_limit"`
	// DeployMode is THREAD or PROCESS.
	DeployMode string `yaml:"deploy_mode"`
	// WorkerBinary is the executable launched in PROCESS mode. Empty means the running binary.
	WorkerBinary string `yaml:"worker_binary"`
	// ShutdownGrace is how long a stopping dispatcher waits for running jobs, in milliseconds.
	ShutdownGrace int `yaml:"shutdown_grace"`
	// LostWorkerGrace is how long a canceled worker that missed its heartbeat may take to report, in milliseconds.
	LostWorkerGrace int `yaml:"lost_worker_grace"`
}

// RetryConfig holds configuration for the batch and phase retry loops.
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts"`     // MaxAttempts is the maximum number of attempts, including the first.
	InitialInterval int     `yaml:"initial_interval"` // InitialInterval is the initial backoff interval in milliseconds.
	MaxInterval     int     `yaml:"max_interval"`     // MaxInterval is the maximum backoff interval in milliseconds.
	Factor          float64 `yaml:"factor"`           // Factor is the multiplier applied to the interval after each attempt.
	// RetryableExceptions lists registered error names retried in addition to TRANSIENT failures.
	RetryableExceptions []string `yaml:"retryable_exceptions"`
}

// OSCConfig tunes the online schema change engine.
type OSCConfig struct {
	BatchSize       int   `yaml:"batch_size"`
	LagThreshold    int64 `yaml:"lag_threshold"`
	MaxSyncRounds   int   `yaml:"max_sync_rounds"`
	ChecksumEnabled bool  `yaml:"checksum_enabled"`
	// SwapBackoff is the base wait between swap attempts, in milliseconds.
	SwapBackoff int `yaml:"swap_backoff"`
}

// BackupConfig controls the parquet backup of archived rows.
type BackupConfig struct {
	Enabled bool `yaml:"enabled"`
	// StorageRef names an entry of the storages section.
	StorageRef string `yaml:"storage_ref"`
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	// Compression is one of "snappy", "gzip", "zstd" or "none".
	Compression string `yaml:"compression"`
}

// ArchiveConfig tunes the data migration engine.
type ArchiveConfig struct {
	BatchSize        int          `yaml:"batch_size"`
	TableConcurrency int          `yaml:"table_concurrency"`
	Backup           BackupConfig `yaml:"backup"`
}

// EngineConfig groups the engine settings.
type EngineConfig struct {
	Retry   RetryConfig   `yaml:"retry"`
	OSC     OSCConfig     `yaml:"osc"`
	Archive ArchiveConfig `yaml:"archive"`
}

// RepositoryConfig selects the job repository.
type RepositoryConfig struct {
	// Type is "memory" or "sql".
	Type string `yaml:"type"`
	// DBRef names the databases entry holding the job tables.
	DBRef string `yaml:"db_ref"`
	// MigrationsTable is the golang-migrate bookkeeping table.
	MigrationsTable string `yaml:"migrations_table"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "prometheus" or "otel".
	Exporter      string `yaml:"exporter"`
	ListenAddress string `yaml:"listen_address"`
	Path          string `yaml:"path"`
	// Endpoint is the OTLP collector endpoint for the otel exporter.
	Endpoint string `yaml:"endpoint"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "stdout", "otlpgrpc" or "otlphttp".
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ObservabilityConfig groups metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ScheduleConfig submits a SCHEDULE_TASK job on a cron expression.
type ScheduleConfig struct {
	// Cron is a five-field expression or a descriptor such as "@daily".
	Cron     string `yaml:"cron"`
	SourceID int64  `yaml:"source_id"`
	SubType  string `yaml:"sub_type"`
	// Parameters are the task parameters, written as YAML.
	Parameters map[string]interface{} `yaml:"parameters"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys is a list of parameter keys whose values are masked in logs.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// UndertowConfig is the root of the runtime settings.
type UndertowConfig struct {
	System        SystemConfig        `yaml:"system"`
	Dispatcher    DispatcherConfig    `yaml:"dispatcher"`
	Engine        EngineConfig        `yaml:"engine"`
	Repository    RepositoryConfig    `yaml:"repository"`
	Observability ObservabilityConfig `yaml:"observability"`
	Security      SecurityConfig      `yaml:"security"`
	Schedules     []ScheduleConfig    `yaml:"schedules"`
}

// Config is the whole application configuration.
type Config struct {
	Undertow  UndertowConfig                          `yaml:"undertow"`
	Databases map[string]dbconfig.DatabaseConfig      `yaml:"databases"`
	Storages  map[string]storageconfig.StorageConfig `yaml:"storages"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Undertow: UndertowConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: string(LogLevelInfo), Format: "console"},
			},
			Dispatcher: DispatcherConfig{
				Slots:             4,
				PollInterval:      1000,
				HeartbeatInterval: 2000,
				HeartbeatTimeout:  30000,
				JobRetryLimit:     0,
				DeployMode:        "THREAD",
				ShutdownGrace:     30000,
				LostWorkerGrace:   10000,
			},
			Engine: EngineConfig{
				Retry: RetryConfig{MaxAttempts: 3, InitialInterval: 200, MaxInterval: 5000, Factor: 2.0},
				OSC: OSCConfig{
					BatchSize:       1000,
					LagThreshold:    0,
					MaxSyncRounds:   10,
					ChecksumEnabled: true,
					SwapBackoff:     500,
				},
				Archive: ArchiveConfig{
					BatchSize:        500,
					TableConcurrency: 2,
					Backup:           BackupConfig{Prefix: "archive", Compression: "snappy"},
				},
			},
			Repository: RepositoryConfig{Type: "memory", MigrationsTable: "undertow_schema_migrations"},
			Observability: ObservabilityConfig{
				Metrics: MetricsConfig{Exporter: "prometheus", ListenAddress: ":9090", Path: "/metrics"},
				Tracing: TracingConfig{Exporter: "stdout", ServiceName: "undertow", SampleRatio: 1.0},
			},
		},
		Databases: make(map[string]dbconfig.DatabaseConfig),
		Storages:  make(map[string]storageconfig.StorageConfig),
	}
}

func millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// PollIntervalDuration returns PollInterval as a duration.
func (c DispatcherConfig) PollIntervalDuration() time.Duration { return millis(c.PollInterval) }

// HeartbeatIntervalDuration returns HeartbeatInterval as a duration.
func (c DispatcherConfig) HeartbeatIntervalDuration() time.Duration {
	return millis(c.HeartbeatInterval)
}

// HeartbeatTimeoutDuration returns HeartbeatTimeout as a duration.
func (c DispatcherConfig) HeartbeatTimeoutDuration() time.Duration { return millis(c.HeartbeatTimeout) }

// ShutdownGraceDuration returns ShutdownGrace as a duration.
func (c DispatcherConfig) ShutdownGraceDuration() time.Duration { return millis(c.ShutdownGrace) }

// LostWorkerGraceDuration returns LostWorkerGrace as a duration.
func (c DispatcherConfig) LostWorkerGraceDuration() time.Duration { return millis(c.LostWorkerGrace) }

// SwapBackoffDuration returns SwapBackoff as a duration.
func (c OSCConfig) SwapBackoffDuration() time.Duration { return millis(c.SwapBackoff) }
