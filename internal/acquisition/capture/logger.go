package capture

import (
	"github.com/vibrolab/daqbench/internal/logger"
)

// GetLogger returns the capture controller logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("acquisition.capture")
}
