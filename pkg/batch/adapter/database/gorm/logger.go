package gorm

import (
	"fmt"
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// NewGormLogger returns a GORM logger that writes through the seekbatch logger.
// SQL statements are logged only at debug level.
func NewGormLogger(level logger.LogLevel) gormlogger.Interface {
	gormLevel := gormlogger.Warn
	switch level {
	case logger.LevelDebug:
		gormLevel = gormlogger.Info
	case logger.LevelError:
		gormLevel = gormlogger.Error
	}
	return gormlogger.New(gormWriter{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormLevel,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// gormWriter redirects GORM output to the seekbatch logger.
type gormWriter struct{}

// Printf implements gormlogger.Writer.
func (gormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	upper := strings.ToUpper(msg)
	switch {
	case strings.Contains(upper, "SLOW SQL"):
		logger.Warnf("[GORM] %s", msg)
	case strings.Contains(upper, "SELECT"), strings.Contains(upper, "INSERT"),
		strings.Contains(upper, "UPDATE"), strings.Contains(upper, "DELETE"):
		logger.Debugf("[GORM] %s", msg)
	default:
		logger.Infof("[GORM] %s", msg)
	}
}
