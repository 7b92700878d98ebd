package config

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds the settings of one named connection. Jobs refer to it by name
// (dataSourceName in OSC parameters, source/target data source names in archive parameters).
type DatabaseConfig struct {
	Type     string `yaml:"type"`     // "mysql", "postgres" or "sqlite".
	Host     string `yaml:"host"`     // Database host address.
	Port     int    `yaml:"port"`     // Database port number.
	Database string `yaml:"database"` // Database name, or the file path for SQLite.
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema,omitempty"` // Schema name for PostgreSQL.
	Sslmode  string `yaml:"sslmode"`
	// Params are appended verbatim to the DSN (e.g. "charset=utf8mb4&parseTime=true", "_busy_timeout=5000").
	Params string     `yaml:"params,omitempty"`
	Pool   PoolConfig `yaml:"pool"`
}
