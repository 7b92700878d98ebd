package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts *LoggingConfig from *Config.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Undertow.System.Logging
}

// Module provides *Config and its derived components to Fx.
// The application supplies EmbeddedConfig (and optionally the named "envFilePath").
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
)
