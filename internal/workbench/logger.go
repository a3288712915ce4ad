package workbench

import (
	"github.com/vibrolab/daqbench/internal/logger"
)

// GetLogger returns the workbench logger.
func GetLogger() logger.Logger {
	return logger.Global().Module(componentName)
}
