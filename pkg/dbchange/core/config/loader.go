package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
	Expander       EnvironmentExpander `optional:"true"`
}

// loadConfig builds the configuration in layers: defaults, the .env file, the YAML document
// (after ${VAR} expansion), then environment variables named after the yaml path
// (UNDERTOW_DISPATCHER_SLOTS, DATABASES_<NAME>_<FIELD>).
func loadConfig(envFilePath string, raw []byte, expander EnvironmentExpander) (*Config, error) {
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
		return nil, exception.NewConfigurationError(moduleName, "failed to expand environment placeholders", err)
	}

	cfg := NewConfig()
	// Unmarshalling over the defaults keeps every value the document does not mention.
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to unmarshal config", err)
	}
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to load config from environment variables", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, exception.NewConfigurationError(moduleName, "invalid configuration", err)
	}
	return cfg, nil
}

// LoadConfig loads configuration from raw YAML bytes, the .env file and the environment.
func LoadConfig(envFilePath string, raw []byte) (*Config, error) {
	return loadConfig(envFilePath, raw, nil)
}

// LoadFile reads path and loads it with LoadConfig.
func LoadFile(envFilePath, path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to read config file %s", path), err)
	}
	return LoadConfig(envFilePath, raw)
}

// NewConfigProvider is an Fx provider that loads *Config and applies the logging settings.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Undertow.System.Logging.Level)
	if err := logger.SetFormat(cfg.Undertow.System.Logging.Format); err != nil {
		logger.Warnf("Ignoring logging format: %v", err)
	}
	logger.Infof("Log level set to: %s", cfg.Undertow.System.Logging.Level)
	return cfg, nil
}

// Validate checks the values the runtime cannot work without.
func (c *Config) Validate() error {
	var errs []error
	d := c.Undertow.Dispatcher
	if d.Slots <= 0 {
		errs = append(errs, fmt.Errorf("undertow.dispatcher.slots must be positive, got %d", d.Slots))
	}
	if d.HeartbeatInterval <= 0 || d.HeartbeatTimeout <= d.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("undertow.dispatcher.heartbeat_timeout (%d) must exceed heartbeat_interval (%d)", d.HeartbeatTimeout, d.HeartbeatInterval))
	}
	if d.JobRetryLimit < 0 {
		errs = append(errs, errors.New("undertow.dispatcher.job_retry_limit must not be negative"))
	}
	switch strings.ToUpper(d.DeployMode) {
	case "THREAD", "PROCESS":
	default:
		errs = append(errs, fmt.Errorf("undertow.dispatcher.deploy_mode %q is not THREAD or PROCESS", d.DeployMode))
	}

	e := c.Undertow.Engine
	if e.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("undertow.engine.retry.max_attempts must be at least 1"))
	}
	for _, name := range e.Retry.RetryableExceptions {
		if !exception.IsErrorTypeRegistered(name) {
			errs = append(errs, fmt.Errorf("retry configuration references unknown exception class: '%s'", name))
		}
	}
	if e.OSC.BatchSize <= 0 || e.Archive.BatchSize <= 0 {
		errs = append(errs, errors.New("undertow.engine batch sizes must be positive"))
	}
	if e.OSC.MaxSyncRounds <= 0 {
		errs = append(errs, errors.New("undertow.engine.osc.max_sync_rounds must be positive"))
	}
	if e.Archive.TableConcurrency <= 0 {
		errs = append(errs, errors.New("undertow.engine.archive.table_concurrency must be positive"))
	}
	if b := e.Archive.Backup; b.Enabled {
		if _, ok := c.Storages[b.StorageRef]; !ok {
			errs = append(errs, fmt.Errorf("undertow.engine.archive.backup.storage_ref %q is not a configured storage", b.StorageRef))
		}
	}

	for i, s := range c.Undertow.Schedules {
		if s.Cron == "" || s.SubType == "" {
			errs = append(errs, fmt.Errorf("undertow.schedules[%d] needs cron and sub_type", i))
		}
	}

	r := c.Undertow.Repository
	switch r.Type {
	case "memory":
	case "sql":
		if _, ok := c.Databases[r.DBRef]; !ok {
			errs = append(errs, fmt.Errorf("undertow.repository.db_ref %q is not a configured database", r.DBRef))
		}
	default:
		errs = append(errs, fmt.Errorf("undertow.repository.type %q is not memory or sql", r.Type))
	}
	return errors.Join(errs...)
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// The variable name is the upper-cased yaml path joined by underscores.
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

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct {
			if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
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

// loadMapOfStructsFromEnv fills map[string]struct fields. DATABASES_JOBDB_HOST=localhost sets
// the Host field of the "jobdb" entry, creating the entry when the YAML did not define it.
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	elemType := mapField.Type().Elem()

	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(kv, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := strings.SplitN(parts[0], "_", 2)
		if len(keyAndField) != 2 {
			continue
		}
		mapKey := strings.ToLower(keyAndField[0])

		structVal := reflect.New(elemType).Elem()
		if existing := mapField.MapIndex(reflect.ValueOf(mapKey)); existing.IsValid() {
			structVal.Set(existing)
		}
		if err := setStructFieldFromEnv(structVal, keyAndField[1], parts[1]); err != nil {
			return err
		}
		mapField.SetMapIndex(reflect.ValueOf(mapKey), structVal)
	}
	return nil
}

// setStructFieldFromEnv sets the field whose yaml tag matches fieldName case-insensitively.
// Unknown names are ignored.
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
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
