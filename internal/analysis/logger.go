package analysis

import (
	"github.com/vibrolab/daqbench/internal/logger"
)

// GetLogger returns the analysis logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("analysis")
}
