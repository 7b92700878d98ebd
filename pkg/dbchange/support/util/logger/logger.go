// Package logger provides the leveled logging facade used across undertow.
// Messages are written through a zap SugaredLogger; the package-level helpers keep
// call sites short (logger.Infof(...)) while job-scoped code can derive a child logger via With.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is a type representing the logging level.
type LogLevel int

const (
	// LevelDebug is the log level used for detailed debugging information.
	LevelDebug LogLevel = iota
	// LevelInfo is the log level used for general informational messages.
	LevelInfo
	// LevelWarn is the log level used for potential issues or warning messages.
	LevelWarn
	// LevelError is the log level used for error messages.
	LevelError
	// LevelFatal is the log level used for fatal error messages that cause application termination.
	LevelFatal
)

var (
	mu      sync.RWMutex
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	encoder = "console"
	sugar   = build()
)

// build creates the zap logger for the current encoder and level.
// Output goes to stderr so that a worker's stdout stays reserved for its event stream.
func build() *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if encoder == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

// current returns the active logger.
func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// SetLogLevel sets the global log level.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive).
// Unknown values fall back to INFO and a warning is written.
func SetLogLevel(lv string) {
	switch strings.ToUpper(lv) {
	case "DEBUG":
		level.SetLevel(zapcore.DebugLevel)
	case "INFO":
		level.SetLevel(zapcore.InfoLevel)
	case "WARN":
		level.SetLevel(zapcore.WarnLevel)
	case "ERROR":
		level.SetLevel(zapcore.ErrorLevel)
	case "FATAL":
		level.SetLevel(zapcore.FatalLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
		current().Warnf("Unknown log level '%s' specified. Defaulting to INFO level.", lv)
	}
}

// GetLogLevel returns the current global log level.
func GetLogLevel() LogLevel {
	switch level.Level() {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.WarnLevel:
		return LevelWarn
	case zapcore.ErrorLevel:
		return LevelError
	case zapcore.FatalLevel, zapcore.PanicLevel, zapcore.DPanicLevel:
		return LevelFatal
	default:
		return LevelInfo
	}
}

// SetFormat switches between "console" and "json" encoding.
func SetFormat(format string) error {
	f := strings.ToLower(strings.TrimSpace(format))
	switch f {
	case "", "console", "text":
		f = "console"
	case "json":
	default:
		return fmt.Errorf("unsupported log format: %s", format)
	}
	mu.Lock()
	defer mu.Unlock()
	if f == encoder {
		return nil
	}
	_ = sugar.Sync()
	encoder = f
	sugar = build()
	return nil
}

// Sync flushes buffered log entries.
func Sync() error {
	return current().Sync()
}

// Logger is a job-scoped logger carrying structured fields.
type Logger struct {
	s *zap.SugaredLogger
}

// With returns a Logger that attaches the given key/value pairs to every entry.
func With(keysAndValues ...interface{}) *Logger {
	return &Logger{s: current().With(keysAndValues...)}
}

// With adds more fields to a scoped logger.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{s: l.s.With(keysAndValues...)}
}

func (l *Logger) Debugf(format string, v ...interface{}) { l.s.Debugf(format, v...) }
func (l *Logger) Infof(format string, v ...interface{})  { l.s.Infof(format, v...) }
func (l *Logger) Warnf(format string, v ...interface{})  { l.s.Warnf(format, v...) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.s.Errorf(format, v...) }

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) {
	current().Debugf(format, v...)
}

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) {
	current().Infof(format, v...)
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

// Fatalf formats and outputs a FATAL level log message, then terminates the program.
func Fatalf(format string, v ...interface{}) {
	current().Fatalf(format, v...)
}
