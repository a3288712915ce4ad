package acquisition

import (
	"github.com/vibrolab/daqbench/internal/logger"
)

// GetLogger returns the acquisition logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("acquisition")
}
