package conf

import (
	"sync"

	"github.com/tphakala/coughdetect/internal/logger"
)

var (
	serviceLogger logger.Logger
	loggerOnce    sync.Once
)

// GetLogger returns the conf package logger
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		serviceLogger = logger.Global().Module("conf")
	})
	return serviceLogger
}
