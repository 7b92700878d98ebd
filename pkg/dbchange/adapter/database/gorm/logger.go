package gorm

import (
	"fmt"
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

// NewGormLogger returns a GORM logger writing through the application logger.
// Unknown levels fall back to SILENT.
func NewGormLogger(level string) gormlogger.Interface {
	var gormLevel gormlogger.LogLevel
	switch strings.ToUpper(level) {
	case "ERROR":
		gormLevel = gormlogger.Error
	case "WARN":
		gormLevel = gormlogger.Warn
	case "INFO", "DEBUG":
		gormLevel = gormlogger.Info
	default:
		gormLevel = gormlogger.Silent
	}

	return gormlogger.New(
		NewGormWriter(),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter redirects GORM output to the application logger.
type GormWriter struct{}

// NewGormWriter creates a new instance of GormWriter.
func NewGormWriter() *GormWriter {
	return &GormWriter{}
}

// Printf implements gormlogger.Writer. Statement traces go to DEBUG, everything else to INFO.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	if isStatementTrace(msg) {
		logger.Debugf("[GORM] %s", msg)
		return
	}
	logger.Infof("[GORM] %s", msg)
}

func isStatementTrace(msg string) bool {
	if !strings.Contains(msg, "[") || !strings.Contains(msg, "]") {
		return false
	}
	upper := strings.ToUpper(msg)
	for _, verb := range []string{"SELECT", "INSERT", "UPDATE", "DELETE", "REPLACE", "RENAME", "ALTER", "CREATE", "DROP"} {
		if strings.Contains(upper, verb) {
			return true
		}
	}
	return false
}
